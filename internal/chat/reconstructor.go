// Package chat reconstructs a coherent, ordered conversation view from
// the gateway's streaming events: an append-only finalized message log
// plus one live in-progress assistant turn per active session.
package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawlink/internal/events"
)

// Message is one finalized conversation entry. Appended only, never
// mutated once appended. The live assistant turn is a separate transient
// buffer until finalized.
type Message struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// ToolCall is the reconstructed state of one tool invocation within the
// current run.
type ToolCall struct {
	ID     string
	Name   string
	Phase  events.Kind // ToolStart, ToolUpdate, or ToolEnd
	Output string
	Err    string
}

// Snapshot is the UI-visible conversation state at one coalesced tick.
type Snapshot struct {
	SessionKey string
	Live       string
	Loading    bool
	Messages   []Message
	Tools      []ToolCall
}

// NoticeKind classifies transient conditions surfaced to the caller.
type NoticeKind int

const (
	NoticeError NoticeKind = iota
	NoticeAborted
)

// Notice is a transient streaming condition (run error or abort). It
// never destroys already-finalized history.
type Notice struct {
	Kind       NoticeKind
	SessionKey string
	Text       string
}

// Reconstructor consumes normalized stream events for the active
// session. Methods are safe for concurrent use: coalesced snapshot
// publication fires on a timer goroutine while the event loop keeps
// applying events, so all state sits behind one mutex.
type Reconstructor struct {
	mu sync.Mutex

	active      string
	activeRun   string
	invalidRuns map[string]struct{}

	live     string
	loading  bool
	messages []Message
	tools    map[string]*ToolCall
	order    int
	toolSeq  map[string]int

	co      *Coalescer
	updates chan Snapshot
	notices chan Notice
}

// New creates a reconstructor emitting at most one snapshot per
// frameInterval.
func New(frameInterval time.Duration) *Reconstructor {
	r := &Reconstructor{
		invalidRuns: make(map[string]struct{}),
		tools:       make(map[string]*ToolCall),
		toolSeq:     make(map[string]int),
		updates:     make(chan Snapshot, 1),
		notices:     make(chan Notice, 8),
	}
	// In async mode the callback fires on the timer goroutine and must
	// take the lock itself; in sync mode (interval <= 0) Trigger runs the
	// callback inline at call sites that already hold r.mu.
	fn := r.emit
	if frameInterval <= 0 {
		fn = r.emitLocked
	}
	r.co = NewCoalescer(frameInterval, fn)
	return r
}

// Updates delivers coalesced snapshots; the latest snapshot wins when
// the consumer lags.
func (r *Reconstructor) Updates() <-chan Snapshot { return r.updates }

// Notices delivers transient error/abort conditions.
func (r *Reconstructor) Notices() <-chan Notice { return r.notices }

// ActiveSession returns the session key events are applied to.
func (r *Reconstructor) ActiveSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Live returns the in-progress assistant text.
func (r *Reconstructor) Live() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Loading reports whether a run is in flight.
func (r *Reconstructor) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Messages returns a copy of the finalized log.
func (r *Reconstructor) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messagesLocked()
}

func (r *Reconstructor) messagesLocked() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// SetActiveSession switches the active session, discarding any live
// streaming buffer tied to the previous one and invalidating its run so
// late events cannot leak across sessions. history seeds the finalized
// log (fetched on demand by the caller).
func (r *Reconstructor) SetActiveSession(key string, history []Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == r.active && history == nil {
		return
	}
	r.co.Stop()
	if r.activeRun != "" {
		r.invalidRuns[r.activeRun] = struct{}{}
		r.activeRun = ""
	}
	r.active = key
	r.live = ""
	r.loading = false
	r.messages = append([]Message(nil), history...)
	r.tools = make(map[string]*ToolCall)
	r.toolSeq = make(map[string]int)
	r.order = 0
	r.co.Reset()
	r.emitLocked()
}

// AppendUser appends the user's own message to the finalized log.
func (r *Reconstructor) AppendUser(content string) Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   content,
		Timestamp: time.Now(),
	}
	r.messages = append(r.messages, msg)
	r.emitLocked()
	return msg
}

// BeginRun associates an in-flight run with the active session and sets
// the loading state.
func (r *Reconstructor) BeginRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeRun = runID
	r.loading = true
	r.tools = make(map[string]*ToolCall)
	r.toolSeq = make(map[string]int)
	r.order = 0
	r.emitLocked()
}

// Abort clears streaming state immediately, without waiting for the
// gateway's acknowledgment. Later delta/final events for the aborted
// run are ignored.
func (r *Reconstructor) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeRun != "" {
		r.invalidRuns[r.activeRun] = struct{}{}
		r.activeRun = ""
	}
	r.co.Stop()
	r.live = ""
	r.loading = false
	r.co.Reset()
	r.emitLocked()
}

// Handle applies one normalized event. Events for non-active sessions
// and invalidated runs are ignored.
func (r *Reconstructor) Handle(ev events.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.SessionKey != "" && ev.SessionKey != r.active {
		return
	}
	if _, dead := r.invalidRuns[ev.RunID]; dead {
		slog.Debug("event for invalidated run ignored", "run_id", ev.RunID, "kind", ev.Kind.String())
		return
	}

	switch ev.Kind {
	case events.ChatDelta:
		// The wire sends whole-so-far snapshots: replace, not append.
		r.live = ev.Text
		r.loading = true
		r.co.Trigger()

	case events.ChatFinal:
		content := r.live
		if content == "" {
			content = ev.Text
		}
		if content != "" {
			r.messages = append(r.messages, Message{
				ID:        uuid.NewString(),
				Role:      "assistant",
				Content:   content,
				Timestamp: time.Now(),
			})
		}
		r.live = ""
		r.loading = false
		r.activeRun = ""
		r.co.Cancel()
		r.emitLocked()

	case events.ChatError:
		r.discardRun(ev.RunID)
		r.notify(Notice{Kind: NoticeError, SessionKey: r.active, Text: ev.ErrText})
		r.emitLocked()

	case events.ChatAborted:
		r.discardRun(ev.RunID)
		r.notify(Notice{Kind: NoticeAborted, SessionKey: r.active})
		r.emitLocked()

	case events.ToolStart, events.ToolUpdate, events.ToolEnd:
		r.applyTool(ev)
		r.co.Trigger()
	}
}

// discardRun drops the live buffer without finalizing a partial message.
func (r *Reconstructor) discardRun(runID string) {
	if runID != "" {
		r.invalidRuns[runID] = struct{}{}
	}
	if r.activeRun != "" {
		r.invalidRuns[r.activeRun] = struct{}{}
		r.activeRun = ""
	}
	r.co.Stop()
	r.live = ""
	r.loading = false
	r.co.Reset()
}

func (r *Reconstructor) applyTool(ev events.StreamEvent) {
	tc, ok := r.tools[ev.ToolCallID]
	if !ok {
		tc = &ToolCall{ID: ev.ToolCallID, Name: ev.ToolName}
		r.tools[ev.ToolCallID] = tc
		r.toolSeq[ev.ToolCallID] = r.order
		r.order++
	}
	if ev.ToolName != "" {
		tc.Name = ev.ToolName
	}
	// A terminal phase is sticky; a late out-of-order update cannot
	// reopen a finished call.
	if tc.Phase != events.ToolEnd {
		tc.Phase = ev.Kind
	}
	if ev.Text != "" {
		tc.Output = ev.Text
	}
	if ev.ErrText != "" {
		tc.Err = ev.ErrText
	}
}

// emit is the coalescer callback; it runs on the timer goroutine and
// takes the lock itself. Mutators holding r.mu publish via emitLocked.
func (r *Reconstructor) emit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked()
}

// emitLocked publishes a snapshot, replacing any undelivered previous
// one. r.mu must be held.
func (r *Reconstructor) emitLocked() {
	snap := Snapshot{
		SessionKey: r.active,
		Live:       r.live,
		Loading:    r.loading,
		Messages:   r.messagesLocked(),
		Tools:      r.toolList(),
	}
	for {
		select {
		case r.updates <- snap:
			return
		default:
			select {
			case <-r.updates:
			default:
			}
		}
	}
}

func (r *Reconstructor) toolList() []ToolCall {
	out := make([]ToolCall, 0, len(r.tools))
	for _, tc := range r.tools {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.toolSeq[out[i].ID] < r.toolSeq[out[j].ID]
	})
	return out
}

func (r *Reconstructor) notify(n Notice) {
	select {
	case r.notices <- n:
	default:
		slog.Warn("notice queue full, dropping", "kind", n.Kind)
	}
}

// Close cancels any scheduled coalesced update.
func (r *Reconstructor) Close() {
	r.co.Stop()
}
