// ABOUTME: Credential types for an account registration and fresh credential generation
// ABOUTME: Generates curve25519 key pairs, a signed pre-key, registration id and adv secret

package authstate

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// keyTypeDJB prefixes serialized curve25519 public keys.
const keyTypeDJB = 0x05

// KeyPair is a curve25519 key pair.
type KeyPair struct {
	Public  Bytes `json:"public"`
	Private Bytes `json:"private"`
}

// SignedKeyPair is a pre-key signed by the identity key.
type SignedKeyPair struct {
	KeyPair    KeyPair `json:"keyPair"`
	Signature  Bytes   `json:"signature"`
	KeyID      int     `json:"keyId"`
	TimestampS int64   `json:"timestampS,omitempty"`
}

// Contact is the account's own identity as reported by the network.
type Contact struct {
	ID     string `json:"id"`
	LID    string `json:"lid,omitempty"`
	Name   string `json:"name,omitempty"`
	Notify string `json:"notify,omitempty"`
}

// ProtocolAddress names one device of a peer.
type ProtocolAddress struct {
	Name     string `json:"name"`
	DeviceID int    `json:"deviceId"`
}

// SignalIdentity is a trusted identity key for a peer device.
type SignalIdentity struct {
	Identifier    ProtocolAddress `json:"identifier"`
	IdentifierKey Bytes           `json:"identifierKey"`
}

// DeviceIdentity is the signed device identity issued at pairing.
type DeviceIdentity struct {
	Details             Bytes `json:"details,omitempty"`
	AccountSignatureKey Bytes `json:"accountSignatureKey,omitempty"`
	AccountSignature    Bytes `json:"accountSignature,omitempty"`
	DeviceSignature     Bytes `json:"deviceSignature,omitempty"`
}

// HistoryKey identifies a processed history sync message.
type HistoryKey struct {
	RemoteJID string `json:"remoteJid,omitempty"`
	FromMe    bool   `json:"fromMe,omitempty"`
	ID        string `json:"id,omitempty"`
}

// ProcessedHistoryMessage marks a history sync message as handled.
type ProcessedHistoryMessage struct {
	Key              HistoryKey `json:"key"`
	MessageTimestamp int64      `json:"messageTimestamp,omitempty"`
}

// AccountSettings are per-account protocol preferences.
type AccountSettings struct {
	UnarchiveChats bool `json:"unarchiveChats"`
}

// Creds is the identity and secret material of one account registration.
type Creds struct {
	NoiseKey                 KeyPair                   `json:"noiseKey"`
	PairingEphemeralKeyPair  KeyPair                   `json:"pairingEphemeralKeyPair"`
	SignedIdentityKey        KeyPair                   `json:"signedIdentityKey"`
	SignedPreKey             SignedKeyPair             `json:"signedPreKey"`
	RegistrationID           int                       `json:"registrationId"`
	AdvSecretKey             string                    `json:"advSecretKey"`
	Me                       *Contact                  `json:"me,omitempty"`
	Account                  *DeviceIdentity           `json:"account,omitempty"`
	SignalIdentities         []SignalIdentity          `json:"signalIdentities,omitempty"`
	MyAppStateKeyID          string                    `json:"myAppStateKeyId,omitempty"`
	FirstUnuploadedPreKeyID  int                       `json:"firstUnuploadedPreKeyId"`
	NextPreKeyID             int                       `json:"nextPreKeyId"`
	LastAccountSyncTimestamp int64                     `json:"lastAccountSyncTimestamp,omitempty"`
	Platform                 string                    `json:"platform,omitempty"`
	ProcessedHistoryMessages []ProcessedHistoryMessage `json:"processedHistoryMessages"`
	AccountSyncCounter       int                       `json:"accountSyncCounter"`
	AccountSettings          AccountSettings           `json:"accountSettings"`
	Registered               bool                      `json:"registered"`
	PairingCode              string                    `json:"pairingCode,omitempty"`
	LastPropHash             string                    `json:"lastPropHash,omitempty"`
	RoutingInfo              Bytes                     `json:"routingInfo,omitempty"`
}

// HasSelfIdentity reports whether the creds carry a usable self identity.
func (c *Creds) HasSelfIdentity() bool {
	return c != nil && c.Me != nil && c.Me.ID != ""
}

// selfIdentityUsable reports whether decoded creds can be reused. Unregistered
// creds have no self identity yet; registered ones must carry a non-empty id.
func (c *Creds) selfIdentityUsable() bool {
	if c == nil {
		return false
	}
	if c.Me != nil {
		return c.Me.ID != ""
	}
	return !c.Registered
}

// InitCreds generates a fresh, unregistered credential set.
func InitCreds() (*Creds, error) {
	noise, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating noise key: %w", err)
	}
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating pairing key: %w", err)
	}
	identity, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating identity key: %w", err)
	}
	preKey, err := SignKeyPair(identity, 1)
	if err != nil {
		return nil, fmt.Errorf("generating signed pre-key: %w", err)
	}

	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("generating adv secret: %w", err)
	}
	var reg [2]byte
	if _, err := rand.Read(reg[:]); err != nil {
		return nil, fmt.Errorf("generating registration id: %w", err)
	}

	return &Creds{
		NoiseKey:                 noise,
		PairingEphemeralKeyPair:  ephemeral,
		SignedIdentityKey:        identity,
		SignedPreKey:             preKey,
		RegistrationID:           int(binary.BigEndian.Uint16(reg[:]) & 16383),
		AdvSecretKey:             base64.StdEncoding.EncodeToString(buf[:]),
		ProcessedHistoryMessages: []ProcessedHistoryMessage{},
		NextPreKeyID:             1,
		FirstUnuploadedPreKeyID:  1,
		AccountSettings:          AccountSettings{UnarchiveChats: false},
	}, nil
}

// GenerateKeyPair creates a clamped curve25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return KeyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// SignKeyPair generates a pre-key and signs its serialized public key with
// a signing key derived from the identity private key.
func SignKeyPair(identity KeyPair, keyID int) (SignedKeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return SignedKeyPair{}, err
	}
	if len(identity.Private) != ed25519.SeedSize {
		return SignedKeyPair{}, fmt.Errorf("identity private key has %d bytes", len(identity.Private))
	}
	signer := ed25519.NewKeyFromSeed(identity.Private)
	msg := append([]byte{keyTypeDJB}, kp.Public...)
	return SignedKeyPair{
		KeyPair:   kp,
		Signature: ed25519.Sign(signer, msg),
		KeyID:     keyID,
	}, nil
}
