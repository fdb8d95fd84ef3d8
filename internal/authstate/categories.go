// ABOUTME: Fixed key categories and their storage partitions in the credential bundle
// ABOUTME: Also canonicalizes app-state sync keys into the shape the engine expects

package authstate

import (
	"encoding/json"
	"fmt"
)

// Category is a key category requested by the engine.
type Category string

const (
	CategoryPreKey              Category = "pre-key"
	CategorySession             Category = "session"
	CategorySenderKey           Category = "sender-key"
	CategoryAppStateSyncKey     Category = "app-state-sync-key"
	CategoryAppStateSyncVersion Category = "app-state-sync-version"
	CategorySenderKeyMemory     Category = "sender-key-memory"
	CategoryIdentityMapping     Category = "lid-mapping"
)

var partitions = map[Category]string{
	CategoryPreKey:              "preKeys",
	CategorySession:             "sessions",
	CategorySenderKey:           "senderKeys",
	CategoryAppStateSyncKey:     "appStateSyncKeys",
	CategoryAppStateSyncVersion: "appStateVersions",
	CategorySenderKeyMemory:     "senderKeyMemory",
	CategoryIdentityMapping:     "lidMapping",
}

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryPreKey,
		CategorySession,
		CategorySenderKey,
		CategoryAppStateSyncKey,
		CategoryAppStateSyncVersion,
		CategorySenderKeyMemory,
		CategoryIdentityMapping,
	}
}

// Partition returns the bundle partition storing c.
func (c Category) Partition() (string, error) {
	p, ok := partitions[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return p, nil
}

// AppStateSyncKeyFingerprint identifies an app-state sync key.
type AppStateSyncKeyFingerprint struct {
	RawID         uint32   `json:"rawId,omitempty"`
	CurrentIndex  uint32   `json:"currentIndex,omitempty"`
	DeviceIndexes []uint32 `json:"deviceIndexes,omitempty"`
}

// AppStateSyncKeyData is the canonical form of an app-state sync key.
type AppStateSyncKeyData struct {
	KeyData     Bytes                       `json:"keyData,omitempty"`
	Fingerprint *AppStateSyncKeyFingerprint `json:"fingerprint,omitempty"`
	Timestamp   int64                       `json:"timestamp,omitempty"`
}

// CanonicalAppStateSyncKey converts stored key material into AppStateSyncKeyData.
func CanonicalAppStateSyncKey(v any) (*AppStateSyncKeyData, error) {
	switch t := v.(type) {
	case *AppStateSyncKeyData:
		return t, nil
	case AppStateSyncKeyData:
		return &t, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: app state sync key: %v", ErrSerializationFault, err)
	}
	var out AppStateSyncKeyData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: app state sync key: %v", ErrSerializationFault, err)
	}
	return &out, nil
}
