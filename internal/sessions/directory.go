package sessions

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/clawlink/internal/chat"
	"github.com/nextlevelbuilder/clawlink/internal/keystore"
)

const lastActiveLeaf = "last-active-session"

// historyCacheSize bounds the number of per-session transcripts kept in
// memory for quick session switching.
const historyCacheSize = 32

// Entry is one known conversation thread.
type Entry struct {
	Key          string
	DisplayName  string
	UpdatedAt    time.Time
	InputTokens  int64
	OutputTokens int64

	// Pending marks a locally created session the gateway has not
	// reported yet. Cleared on the first directory listing that
	// contains the key.
	Pending bool

	// renameInFlight preserves a local rename until the gateway
	// confirms it; during that window the server copy does not
	// overwrite DisplayName.
	renameInFlight bool
}

// Directory reconciles server-reported sessions with optimistic local
// state. It is driven from a single event loop and not safe for
// concurrent use outside it.
type Directory struct {
	entries map[string]*Entry
	order   []string // stable listing order: most recently updated first
	active  string

	keys      keystore.KeyStore
	userScope string

	history *lru.Cache[string, []chat.Message]
}

// NewDirectory creates a directory. keys persists the last-active
// session per user scope; it may be nil for ephemeral use.
func NewDirectory(keys keystore.KeyStore, userScope string) (*Directory, error) {
	cache, err := lru.New[string, []chat.Message](historyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("history cache: %w", err)
	}
	d := &Directory{
		entries:   make(map[string]*Entry),
		keys:      keys,
		userScope: userScope,
		history:   cache,
	}
	d.loadLastActive()
	return d, nil
}

// List returns all entries, most recently updated first, with pending
// local entries kept in place.
func (d *Directory) List() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, key := range d.order {
		out = append(out, *d.entries[key])
	}
	return out
}

// Get returns an entry by key.
func (d *Directory) Get(key string) (Entry, bool) {
	e, ok := d.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ActiveKey returns the active session key, creating a default session
// if none exist. The directory never leaves the caller with a dangling
// active reference.
func (d *Directory) ActiveKey() string {
	if d.active == "" || d.entries[d.active] == nil {
		d.rebindActive()
	}
	return d.active
}

// SetActive switches the active session, creating the entry optimistically
// if it is unknown.
func (d *Directory) SetActive(key string) {
	if d.entries[key] == nil {
		d.insert(&Entry{Key: key, UpdatedAt: time.Now(), Pending: true})
	}
	d.active = key
	d.persistLastActive()
}

// CreateLocal registers a new optimistic session and makes it active.
func (d *Directory) CreateLocal(agent, channel, displayName string) Entry {
	key := BuildKey(agent, channel, "dm:"+uuid.NewString()[:8])
	e := &Entry{
		Key:         key,
		DisplayName: displayName,
		UpdatedAt:   time.Now(),
		Pending:     true,
	}
	d.insert(e)
	d.active = key
	d.persistLastActive()
	slog.Debug("optimistic session created", "session", key)
	return *e
}

// RenameLocal applies a rename optimistically. The local name wins over
// the server copy until ConfirmRename.
func (d *Directory) RenameLocal(key, displayName string) bool {
	e, ok := d.entries[key]
	if !ok {
		return false
	}
	e.DisplayName = displayName
	e.renameInFlight = true
	return true
}

// ConfirmRename marks an in-flight rename as acknowledged.
func (d *Directory) ConfirmRename(key string) {
	if e, ok := d.entries[key]; ok {
		e.renameInFlight = false
	}
}

// Remove deletes a session locally. If it was active, the selection
// falls back per ActiveKey.
func (d *Directory) Remove(key string) {
	if d.entries[key] == nil {
		return
	}
	delete(d.entries, key)
	d.removeOrder(key)
	d.history.Remove(key)
	if d.active == key {
		d.active = ""
		d.rebindActive()
	}
}

// ServerSession is one entry of the gateway's directory listing in
// reconciliation-ready form.
type ServerSession struct {
	Key          string
	DisplayName  string
	UpdatedAt    time.Time
	InputTokens  int64
	OutputTokens int64
}

// Reconcile merges the server-reported directory into local state.
// Server entries win on key collision, except a display name with an
// in-flight rename. Pending local entries absent from the listing are
// retained until the server reports their key. If the active key
// disappears and is not pending, the selection falls back to the first
// available session.
func (d *Directory) Reconcile(server []ServerSession) []Entry {
	reported := make(map[string]struct{}, len(server))
	for _, s := range server {
		reported[s.Key] = struct{}{}
		e, ok := d.entries[s.Key]
		if !ok {
			d.insert(&Entry{
				Key:          s.Key,
				DisplayName:  s.DisplayName,
				UpdatedAt:    s.UpdatedAt,
				InputTokens:  s.InputTokens,
				OutputTokens: s.OutputTokens,
			})
			continue
		}
		// Server copy wins for all fields except an in-flight rename.
		if !e.renameInFlight {
			e.DisplayName = s.DisplayName
		}
		e.UpdatedAt = s.UpdatedAt
		e.InputTokens = s.InputTokens
		e.OutputTokens = s.OutputTokens
		if e.Pending {
			e.Pending = false
			slog.Debug("pending session acknowledged", "session", s.Key)
		}
	}

	for key, e := range d.entries {
		if _, ok := reported[key]; ok {
			continue
		}
		if e.Pending {
			continue
		}
		// Known to the server before, gone now: drop it.
		delete(d.entries, key)
		d.removeOrder(key)
		d.history.Remove(key)
	}

	if d.active != "" && d.entries[d.active] == nil {
		d.active = ""
		d.rebindActive()
	}

	d.sortOrder()
	return d.List()
}

// CacheHistory stores a fetched transcript for quick re-activation.
func (d *Directory) CacheHistory(key string, msgs []chat.Message) {
	d.history.Add(key, msgs)
}

// CachedHistory returns a previously fetched transcript, if still
// cached.
func (d *Directory) CachedHistory(key string) ([]chat.Message, bool) {
	return d.history.Get(key)
}

func (d *Directory) insert(e *Entry) {
	d.entries[e.Key] = e
	d.order = append(d.order, e.Key)
	d.sortOrder()
}

func (d *Directory) removeOrder(key string) {
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

func (d *Directory) sortOrder() {
	sort.SliceStable(d.order, func(i, j int) bool {
		return d.entries[d.order[i]].UpdatedAt.After(d.entries[d.order[j]].UpdatedAt)
	})
}

// rebindActive picks the first available session, creating a default
// one when the directory is empty.
func (d *Directory) rebindActive() {
	if len(d.order) == 0 {
		e := &Entry{
			Key:         BuildKey("default", "cli", "dm:local"),
			DisplayName: "New chat",
			UpdatedAt:   time.Now(),
			Pending:     true,
		}
		d.insert(e)
	}
	d.active = d.order[0]
	d.persistLastActive()
}

func (d *Directory) loadLastActive() {
	if d.keys == nil {
		return
	}
	data, ok, err := d.keys.Get(keystore.Namespace(d.userScope, lastActiveLeaf))
	if err != nil {
		slog.Warn("last-active session load failed", "error", err)
		return
	}
	if ok {
		d.active = string(data)
	}
}

func (d *Directory) persistLastActive() {
	if d.keys == nil || d.active == "" {
		return
	}
	if err := d.keys.Set(keystore.Namespace(d.userScope, lastActiveLeaf), []byte(d.active)); err != nil {
		slog.Warn("last-active session save failed", "error", err)
	}
}
