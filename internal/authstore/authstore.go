// Package authstore caches short-lived gateway-issued bearer tokens
// keyed by (device fingerprint, role). A cached token lets a reconnect
// skip the full cost of proving device identity again; a token the
// gateway rejects is invalidated so the next attempt starts fresh.
package authstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/clawlink/internal/keystore"
)

// Entry is one cached token.
type Entry struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cache persists token entries on a KeyStore, namespaced per user scope.
type Cache struct {
	Keys      keystore.KeyStore
	UserScope string
}

func leaf(deviceID, role string) string {
	return "gateway-token:" + deviceID + ":" + role
}

// Load returns the cached entry for (deviceID, role), or nil if absent.
func (c *Cache) Load(deviceID, role string) (*Entry, error) {
	data, ok, err := c.Keys.Get(keystore.Namespace(c.UserScope, leaf(deviceID, role)))
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse token entry: %w", err)
	}
	return &e, nil
}

// Save overwrites the entry for (deviceID, role).
func (c *Cache) Save(deviceID string, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal token entry: %w", err)
	}
	if err := c.Keys.Set(keystore.Namespace(c.UserScope, leaf(deviceID, e.Role)), data); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Invalidate deletes the entry for (deviceID, role). Invalidating an
// absent entry is not an error.
func (c *Cache) Invalidate(deviceID, role string) error {
	if err := c.Keys.Delete(keystore.Namespace(c.UserScope, leaf(deviceID, role))); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	return nil
}
