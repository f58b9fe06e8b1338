package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/clawlink/internal/keystore"
)

func TestLoadOrCreateIsStable(t *testing.T) {
	keys := keystore.NewMemory()
	s := &Store{Keys: keys}

	id1, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if id1.DeviceID != Fingerprint(id1.PublicKey) {
		t.Fatal("device ID is not the public key fingerprint")
	}
	if len(id1.DeviceID) != 64 {
		t.Fatalf("device ID length = %d, want 64 hex chars", len(id1.DeviceID))
	}

	id2, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if id2.DeviceID != id1.DeviceID {
		t.Fatal("second load produced a different identity")
	}
	if !id2.PublicKey.Equal(id1.PublicKey) {
		t.Fatal("second load produced a different keypair")
	}
}

func TestScopesAreIsolated(t *testing.T) {
	s := &Store{Keys: keystore.NewMemory()}
	a, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.LoadOrCreate("bob")
	if err != nil {
		t.Fatal(err)
	}
	if a.DeviceID == b.DeviceID {
		t.Fatal("different user scopes share a device identity")
	}
}

func TestSeededGenerationIsDeterministic(t *testing.T) {
	id1, err := (&Store{Keys: keystore.NewMemory(), Seed: "recovery-phrase"}).LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	// Fresh store, same seed: simulates a reinstall after storage loss.
	id2, err := (&Store{Keys: keystore.NewMemory(), Seed: "recovery-phrase"}).LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if id1.DeviceID != id2.DeviceID {
		t.Fatal("same seed and scope produced different identities")
	}

	// Seed is bound to the scope.
	id3, err := (&Store{Keys: keystore.NewMemory(), Seed: "recovery-phrase"}).LoadOrCreate("bob")
	if err != nil {
		t.Fatal(err)
	}
	if id3.DeviceID == id1.DeviceID {
		t.Fatal("different scope reused the same derived key")
	}
}

func TestFingerprintSelfHeals(t *testing.T) {
	keys := keystore.NewMemory()
	s := &Store{Keys: keys}
	id, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the stored fingerprint while keeping the keypair intact.
	storageKey := keystore.Namespace("alice", "device-identity")
	data, _, _ := keys.Get(storageKey)
	var rec storedIdentity
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	rec.DeviceID = "0000000000000000000000000000000000000000000000000000000000000000"
	data, _ = json.Marshal(rec)
	if err := keys.Set(storageKey, data); err != nil {
		t.Fatal(err)
	}

	healed, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if healed.DeviceID != id.DeviceID {
		t.Fatalf("healed device ID = %s, want %s", healed.DeviceID, id.DeviceID)
	}

	// The repaired record is persisted.
	data, _, _ = keys.Get(storageKey)
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.DeviceID != id.DeviceID {
		t.Fatal("repaired fingerprint was not written back")
	}
}

func TestUnreadableRecordRegenerates(t *testing.T) {
	keys := keystore.NewMemory()
	storageKey := keystore.Namespace("alice", "device-identity")
	if err := keys.Set(storageKey, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	s := &Store{Keys: keys}
	id, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatalf("corrupt record should regenerate, got %v", err)
	}
	if id.DeviceID == "" {
		t.Fatal("no identity generated")
	}

	// The replacement is persisted and stable.
	id2, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if id2.DeviceID != id.DeviceID {
		t.Fatal("regenerated identity not persisted")
	}
}

func TestDelete(t *testing.T) {
	keys := keystore.NewMemory()
	s := &Store{Keys: keys}
	id1, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("alice"); err != nil {
		t.Fatal(err)
	}
	id2, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	if id1.DeviceID == id2.DeviceID {
		t.Fatal("identity survived Delete")
	}
}

func TestSignaturesVerify(t *testing.T) {
	s := &Store{Keys: keystore.NewMemory()}
	id, err := s.LoadOrCreate("alice")
	if err != nil {
		t.Fatal(err)
	}
	signer := NewDeviceSigner(id)
	msg := []byte("v2|dev|client|cli|operator|a,b|123|tok|nonce")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ed25519.Verify(id.PublicKey, msg, raw) {
		t.Fatal("signature does not verify against the device public key")
	}
	if signer.DeviceID() != id.DeviceID {
		t.Fatal("signer reports a different device ID")
	}
}
