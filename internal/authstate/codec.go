// ABOUTME: Credential bundle encoding and decoding for the persisted session blob
// ABOUTME: Applies the buffer replacer/reviver and reinitializes creds lacking a self identity

package authstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrSerializationFault indicates a persisted bundle could not be decoded
	// as-is. Self-identity faults are recovered by reinitializing creds.
	ErrSerializationFault = errors.New("credential serialization fault")

	// ErrPersistenceFailure indicates a bundle write to durable storage failed.
	ErrPersistenceFailure = errors.New("credential persistence failure")

	// ErrUnknownCategory indicates a key category outside the fixed set.
	ErrUnknownCategory = errors.New("unknown key category")
)

// Bundle is the full credential state of one account.
// Keys is keyed by partition name (see Category.Partition), then key id.
// Values are opaque key material in revived form: Bytes, string, bool,
// json.Number, nil, []any, or map[string]any. A non-empty map whose keys are
// all indexes and whose values are all 0-255 integers is indistinguishable
// from a serialized buffer and decodes as Bytes.
type Bundle struct {
	Creds *Creds                    `json:"creds"`
	Keys  map[string]map[string]any `json:"keys"`
}

type bundleJSON struct {
	Creds json.RawMessage                       `json:"creds"`
	Keys  map[string]map[string]json.RawMessage `json:"keys"`
}

// NewBundle returns a bundle with fresh creds and no keys.
func NewBundle() (*Bundle, error) {
	creds, err := InitCreds()
	if err != nil {
		return nil, err
	}
	return &Bundle{Creds: creds, Keys: make(map[string]map[string]any)}, nil
}

// Decode parses a persisted blob. An empty blob yields a fresh bundle. A blob
// whose creds are missing, or whose self identity is malformed or absent on a
// registered account, keeps its keys but gets fresh creds. Unregistered creds
// without a self identity are kept, so a bundle saved mid-pairing decodes to
// itself. Syntactically invalid input returns an error wrapping
// ErrSerializationFault.
func Decode(blob string, logger *slog.Logger) (*Bundle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(blob) == "" {
		return NewBundle()
	}

	var raw bundleJSON
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFault, err)
	}

	keys, err := decodeKeys(raw.Keys)
	if err != nil {
		return nil, err
	}

	var creds *Creds
	if len(raw.Creds) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Creds), []byte("null")) {
		if err := json.Unmarshal(raw.Creds, &creds); err != nil {
			logger.Warn("discarding undecodable creds",
				"error", fmt.Errorf("%w: %v", ErrSerializationFault, err))
			creds = nil
		}
	}

	if !creds.selfIdentityUsable() {
		logger.Warn("creds missing self identity, reinitializing",
			"error", ErrSerializationFault)
		creds, err = InitCreds()
		if err != nil {
			return nil, err
		}
	}

	return &Bundle{Creds: creds, Keys: keys}, nil
}

func decodeKeys(raw map[string]map[string]json.RawMessage) (map[string]map[string]any, error) {
	keys := make(map[string]map[string]any, len(raw))
	for partition, entries := range raw {
		if entries == nil {
			continue
		}
		out := make(map[string]any, len(entries))
		for id, value := range entries {
			v, err := decodeValue(value)
			if err != nil {
				return nil, fmt.Errorf("%w: key %s/%s: %v", ErrSerializationFault, partition, id, err)
			}
			out[id] = v
		}
		keys[partition] = out
	}
	return keys, nil
}

// decodeValue parses one key value into revived form.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return revive(v), nil
}

// Encode serializes the bundle. Decode(Encode(b)) is structurally equal to b
// for any bundle whose key values are in revived form and hold no
// buffer-shaped maps (see Bundle).
func Encode(b *Bundle) (string, error) {
	if b == nil {
		return "", fmt.Errorf("%w: nil bundle", ErrSerializationFault)
	}
	keys := b.Keys
	if keys == nil {
		keys = map[string]map[string]any{}
	}
	data, err := json.Marshal(Bundle{Creds: b.Creds, Keys: keys})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerializationFault, err)
	}
	return string(data), nil
}
