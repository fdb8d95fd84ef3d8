// Package lifecycle drives each account's connection state machine from the
// engine's event stream.
//
// States:
//
//	INITIALIZING -> {QR_PENDING, CONNECTED} -> RECONNECTING -> {INITIALIZING, TERMINATED}
//
// plus a direct transition to TERMINATED when the QR presentations run out.
// TERMINATED is left only by an explicit user start.
//
// Close events are classified by status code. Revoked authorization (403) is
// retried on the schedule 2s, 5s, 10s, 30s, 60s with credentials kept; the
// next 403 tears the account down to PENDING and schedules one fresh start.
// An explicit logout (401) tears down immediately and schedules a fresh
// start. Anything else drops the connection and restarts after 2s.
//
// Restarts always go through the Starter so the full bootstrap runs again.
// Each scheduled restart carries the account's generation; a restart whose
// generation is stale, or whose account is CONNECTED or TERMINATED when it
// fires, does nothing.
//
// Events for one account are handled one at a time. Handler failures are
// logged per event and never affect other accounts.
package lifecycle
