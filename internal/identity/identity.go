// Package identity manages the per-user device keypair used to prove
// client identity to the gateway independent of any shared secret.
//
// The identity is an Ed25519 keypair; the device ID is the hex SHA-256
// fingerprint of the public key. The private key never leaves the
// client.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"github.com/nextlevelbuilder/clawlink/internal/keystore"
)

const identityLeaf = "device-identity"

// DeviceIdentity is the persisted device keypair and its fingerprint.
type DeviceIdentity struct {
	DeviceID   string             `json:"deviceId"`
	PublicKey  ed25519.PublicKey  `json:"-"`
	PrivateKey ed25519.PrivateKey `json:"-"`
}

// storedIdentity is the on-disk shape.
type storedIdentity struct {
	DeviceID   string `json:"deviceId"`
	PublicKey  string `json:"publicKey"`  // base64
	PrivateKey string `json:"privateKey"` // base64, ed25519 seed
}

// Store loads and creates device identities on top of a KeyStore.
type Store struct {
	Keys keystore.KeyStore

	// Seed, when non-empty, makes key generation deterministic for a
	// user scope: clearing local storage is recoverable as long as the
	// seed is. Empty seed means a fresh random key on first use.
	Seed string
}

// Fingerprint derives the device ID from a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// LoadOrCreate returns the device identity for a user scope, creating
// and persisting one on first use. If the stored fingerprint disagrees
// with the stored public key, the record is repaired in place rather
// than treated as fatal.
func (s *Store) LoadOrCreate(userScope string) (*DeviceIdentity, error) {
	key := keystore.Namespace(userScope, identityLeaf)

	data, ok, err := s.Keys.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if ok {
		id, healed, err := decodeStored(data)
		if err != nil {
			slog.Warn("stored device identity unreadable, regenerating", "scope", userScope, "error", err)
		} else {
			if healed {
				slog.Info("repaired drifted device fingerprint", "device_id", id.DeviceID)
				if err := s.persist(key, id); err != nil {
					return nil, err
				}
			}
			return id, nil
		}
	}

	id, err := s.generate(userScope)
	if err != nil {
		return nil, err
	}
	if err := s.persist(key, id); err != nil {
		return nil, err
	}
	slog.Info("device identity created", "scope", userScope, "device_id", id.DeviceID)
	return id, nil
}

func (s *Store) generate(userScope string) (*DeviceIdentity, error) {
	var reader io.Reader = rand.Reader
	if s.Seed != "" {
		// HKDF-SHA256 keyed by the recoverable seed, bound to the user
		// scope, yields the same keypair across reinstall.
		reader = hkdf.New(sha256.New, []byte(s.Seed), []byte(userScope), []byte("clawlink-device-key"))
	}
	pub, priv, err := ed25519.GenerateKey(reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	return &DeviceIdentity{
		DeviceID:   Fingerprint(pub),
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

func (s *Store) persist(key string, id *DeviceIdentity) error {
	rec := storedIdentity{
		DeviceID:   id.DeviceID,
		PublicKey:  base64.StdEncoding.EncodeToString(id.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(id.PrivateKey.Seed()),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := s.Keys.Set(key, data); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}
	return nil
}

// decodeStored parses a stored record, recomputing the fingerprint.
// healed reports whether the stored device ID had drifted.
func decodeStored(data []byte) (*DeviceIdentity, bool, error) {
	var rec storedIdentity
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("parse identity record: %w", err)
	}
	pubBytes, err := base64.StdEncoding.DecodeString(rec.PublicKey)
	if err != nil {
		return nil, false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return nil, false, fmt.Errorf("public key is %d bytes, want %d", len(pubBytes), ed25519.PublicKeySize)
	}
	seed, err := base64.StdEncoding.DecodeString(rec.PrivateKey)
	if err != nil {
		return nil, false, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, false, fmt.Errorf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	pub := ed25519.PublicKey(pubBytes)
	id := &DeviceIdentity{
		DeviceID:   Fingerprint(pub),
		PublicKey:  pub,
		PrivateKey: ed25519.NewKeyFromSeed(seed),
	}
	return id, id.DeviceID != rec.DeviceID, nil
}

// Delete removes the stored identity for a user scope.
func (s *Store) Delete(userScope string) error {
	return s.Keys.Delete(keystore.Namespace(userScope, identityLeaf))
}
