package keystore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNamespace(t *testing.T) {
	cases := []struct {
		scope, leaf, want string
	}{
		{"alice", "device-identity", "clawlink:alice:device-identity"},
		{"", "device-identity", "clawlink:default:device-identity"},
		{"bob", "gateway-token:abc:operator", "clawlink:bob:gateway-token:abc:operator"},
	}
	for _, c := range cases {
		if got := Namespace(c.scope, c.leaf); got != c.want {
			t.Errorf("Namespace(%q, %q) = %q, want %q", c.scope, c.leaf, got, c.want)
		}
	}
}

func TestMemoryRoundtrip(t *testing.T) {
	m := NewMemory()

	if _, ok, err := m.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}
	if err := m.Set("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	data, ok, err := m.Get("k")
	if err != nil || !ok || string(data) != "v1" {
		t.Fatalf("Get(k) = %q ok=%v err=%v", data, ok, err)
	}
	if err := m.Set("k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	data, _, _ = m.Get("k")
	if string(data) != "v2" {
		t.Fatalf("overwrite: got %q, want v2", data)
	}
	if err := m.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get("k"); ok {
		t.Fatal("key survived Delete")
	}
	// Deleting an absent key is not an error.
	if err := m.Delete("k"); err != nil {
		t.Fatalf("Delete(absent) = %v", err)
	}
}

func TestFileStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	key := Namespace("alice", "device-identity")
	if err := fs.Set(key, []byte(`{"deviceId":"abc"}`)); err != nil {
		t.Fatal(err)
	}
	data, ok, err := fs.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v", ok, err)
	}
	if string(data) != `{"deviceId":"abc"}` {
		t.Fatalf("got %q", data)
	}

	// A second store over the same directory sees the data.
	fs2 := NewFileStore(dir)
	if _, ok, _ := fs2.Get(key); !ok {
		t.Fatal("value not visible to a second store instance")
	}

	if err := fs.Delete(key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := fs.Get(key); ok {
		t.Fatal("key survived Delete")
	}
}

func TestFileStoreSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)

	// Path separators and traversal must not escape the storage dir.
	key := "clawlink:../../etc:passwd"
	if err := fs.Set(key, []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in storage dir, got %d", len(entries))
	}
	if filepath.Dir(filepath.Join(dir, entries[0].Name())) != dir {
		t.Fatal("entry escaped storage dir")
	}
	if _, ok, _ := fs.Get(key); !ok {
		t.Fatal("sanitized key not readable back")
	}
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)
	if err := fs.Set("clawlink:alice:secret", []byte("s")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("file %s has perm %o, want 600", e.Name(), perm)
		}
	}
}
