// ABOUTME: Disconnect status codes and their classification into retry causes
// ABOUTME: Maps close codes onto AuthRevoked, LoggedOut, or TransientDisconnect

package transport

import "errors"

// Close status codes reported by the engine.
const (
	ReasonLoggedOut           = 401
	ReasonForbidden           = 403
	ReasonConnectionLost      = 408
	ReasonMultideviceMismatch = 411
	ReasonConnectionClosed    = 428
	ReasonConnectionReplaced  = 440
	ReasonBadSession          = 500
	ReasonUnavailableService  = 503
	ReasonRestartRequired     = 515
)

var (
	// ErrAuthRevoked indicates the peer revoked the session authorization (403).
	ErrAuthRevoked = errors.New("authorization revoked")

	// ErrLoggedOut indicates an explicit logout signal (401).
	ErrLoggedOut = errors.New("logged out")

	// ErrTransientDisconnect indicates any other close cause.
	ErrTransientDisconnect = errors.New("transient disconnect")

	// ErrNotFound is returned by lookups against the network that found nothing.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("socket closed")
)

// Cause is the retry class of a disconnect.
type Cause int

const (
	CauseTransient Cause = iota
	CauseAuthRevoked
	CauseLoggedOut
)

// String returns a stable name for logging.
func (c Cause) String() string {
	switch c {
	case CauseAuthRevoked:
		return "auth_revoked"
	case CauseLoggedOut:
		return "logged_out"
	default:
		return "transient"
	}
}

// Err returns the sentinel error for the cause.
func (c Cause) Err() error {
	switch c {
	case CauseAuthRevoked:
		return ErrAuthRevoked
	case CauseLoggedOut:
		return ErrLoggedOut
	default:
		return ErrTransientDisconnect
	}
}

// ClassifyDisconnect maps a close status code onto its Cause.
func ClassifyDisconnect(statusCode int) Cause {
	switch statusCode {
	case ReasonForbidden:
		return CauseAuthRevoked
	case ReasonLoggedOut:
		return CauseLoggedOut
	default:
		return CauseTransient
	}
}

// Code returns the disconnect status code, or 0 when d is nil.
func (d *Disconnect) Code() int {
	if d == nil {
		return 0
	}
	return d.StatusCode
}
