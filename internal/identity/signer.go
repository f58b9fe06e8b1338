package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// Signer signs handshake payloads with the device private key. A nil or
// unavailable signer models execution contexts without signing
// capability: the handshake then falls back to token/password-only
// authentication, which is degraded but defined.
type Signer interface {
	// Sign returns the base64 signature over payload.
	Sign(payload []byte) (string, error)
	// PublicKeyBase64 returns the device public key for the handshake.
	PublicKeyBase64() string
	// DeviceID returns the device fingerprint.
	DeviceID() string
}

// ErrNoSigner is returned when signing is requested without a signer.
var ErrNoSigner = errors.New("identity: no signing capability")

// DeviceSigner signs with an Ed25519 device identity.
type DeviceSigner struct {
	id *DeviceIdentity
}

func NewDeviceSigner(id *DeviceIdentity) *DeviceSigner {
	return &DeviceSigner{id: id}
}

func (s *DeviceSigner) Sign(payload []byte) (string, error) {
	sig := ed25519.Sign(s.id.PrivateKey, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *DeviceSigner) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.id.PublicKey)
}

func (s *DeviceSigner) DeviceID() string {
	return s.id.DeviceID
}
