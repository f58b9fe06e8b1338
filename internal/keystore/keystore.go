// Package keystore provides the client-local persistent key-value
// storage behind device identity, cached gateway tokens, and the
// last-active session. Keys are namespaced per user scope so that
// switching users on the same machine never leaks one user's identity,
// token, or session into another's.
package keystore

import (
	"errors"
	"sync"
)

// KeyStore is a small persistent key-value port. Implementations must
// treat values as opaque bytes.
type KeyStore interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	// Set stores or overwrites a value.
	Set(key string, value []byte) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error
}

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("keystore: invalid key")

// Namespace prefixes a key with the client namespace and user scope.
func Namespace(userScope, leaf string) string {
	if userScope == "" {
		userScope = "default"
	}
	return "clawlink:" + userScope + ":" + leaf
}

// Memory is a map-backed KeyStore for tests and ephemeral runs.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
