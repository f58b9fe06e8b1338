// Package gateway implements the client side of the Clawlink Gateway
// WebSocket protocol: one duplex connection carrying request/response
// pairs and push events, an authenticated connect handshake, and a
// correlator matching async responses to outstanding calls.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawlink/internal/authstore"
	"github.com/nextlevelbuilder/clawlink/internal/identity"
	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

// maxMessageSize is the largest inbound frame we accept (512KB).
const maxMessageSize = 512 * 1024

const (
	pongWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 64
	eventQueue    = 256
)

// Options configures a Client. One Client owns exactly one connection;
// reconnecting means creating a new Client with the same Options, which
// reuses the persisted identity and token caches.
type Options struct {
	URL      string
	ClientID string
	Mode     string // protocol.ClientMode*
	Role     string
	Scopes   []string

	// Token is a static, shared gateway token from config.
	Token string
	// Password is a shared credential used when token auth is absent.
	Password string

	// Signer provides device-proof signing. Nil means no signing
	// capability: the handshake degrades to token/password only.
	Signer identity.Signer
	// TokenCache persists gateway-issued device tokens. Optional.
	TokenCache *authstore.Cache

	HandshakeTimeout time.Duration
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Client is a single-connection, single-writer gateway client. All
// outbound frames are serialized through one send queue; inbound frames
// are dispatched one at a time by the read pump.
type Client struct {
	opts Options

	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	pending map[string]chan callResult
	nextID  atomic.Int64

	events chan protocol.EventFrame
	done   chan struct{}
	closed atomic.Bool
	errVal atomic.Value // error

	hs *handshake
}

// NewClient creates an unconnected client.
func NewClient(opts Options) *Client {
	if opts.Mode == "" {
		opts.Mode = protocol.ClientModeCLI
	}
	if opts.Role == "" {
		opts.Role = "operator"
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	return &Client{
		opts:    opts,
		send:    make(chan []byte, sendQueueSize),
		pending: make(map[string]chan callResult),
		events:  make(chan protocol.EventFrame, eventQueue),
		done:    make(chan struct{}),
	}
}

// Dial opens the connection and drives the connect handshake to a
// terminal state. On return with nil error the session is authenticated
// and events are flowing. A *PairingRequiredError is a recoverable
// outcome, not a hard failure.
func (c *Client) Dial(ctx context.Context) (*ConnectResult, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial %s: %w", c.opts.URL, err)
	}
	c.conn = conn
	c.hs = newHandshake(c)

	go c.writePump()
	go c.readPump()

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case res := <-c.hs.result:
		if res.err != nil {
			c.Close()
			return nil, res.err
		}
		return res.connect, nil
	case <-timer.C:
		c.Close()
		return nil, ErrHandshakeTimeout
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

// Events returns the stream of push events. The channel is closed when
// the connection tears down.
func (c *Client) Events() <-chan protocol.EventFrame {
	return c.events
}

// Done is closed when the connection has torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the teardown cause after Done is closed.
func (c *Client) Err() error {
	if v := c.errVal.Load(); v != nil {
		return v.(error)
	}
	return ErrConnClosed
}

// Close shuts the connection down. Pending calls are rejected.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.conn.Close()
		}
	}
}

// Call invokes an RPC method and waits for the matching response.
// Request IDs increase monotonically and are never reused within the
// connection's lifetime.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.conn == nil || c.closed.Load() {
		return nil, ErrNotConnected
	}
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = data
	}

	id := "c-" + strconv.FormatInt(c.nextID.Add(1), 10)
	frame, err := json.Marshal(protocol.NewRequest(id, method, raw))
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.enqueue(frame); err != nil {
		c.unregister(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	case <-c.done:
		// teardown delivers to every registered pending entry; prefer
		// that result if it raced in.
		select {
		case res := <-ch:
			return res.payload, res.err
		default:
			return nil, c.Err()
		}
	}
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return c.Err()
	}
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve delivers a response to its pending call exactly once. A
// duplicate response ID finds no entry and is ignored.
func (c *Client) resolve(id string, res callResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		slog.Debug("response for unknown or already-resolved call", "id", id)
		return
	}
	ch <- res
}

// readPump reads and dispatches inbound frames. Each frame is fully
// processed before the next is read.
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("gateway read error", "error", err)
				c.errVal.Store(fmt.Errorf("%w: %v", ErrConnClosed, err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are logged
// and dropped; they never take the loop down.
func (c *Client) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		slog.Warn("unparseable gateway frame dropped", "error", err)
		return
	}

	switch frameType {
	case protocol.FrameTypeResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("malformed response frame dropped", "error", err)
			return
		}
		if resp.OK {
			c.resolve(resp.ID, callResult{payload: resp.Payload})
			return
		}
		shape := resp.Error
		if shape == nil {
			shape = &protocol.ErrorShape{Code: protocol.ErrInternal, Message: "request failed"}
		}
		c.resolve(resp.ID, callResult{err: &RPCError{Shape: *shape}})

	case protocol.FrameTypeEvent:
		var ev protocol.EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("malformed event frame dropped", "error", err)
			return
		}
		if ev.Event == protocol.EventConnectChallenge {
			c.hs.onChallenge(ev.Payload)
			return
		}
		select {
		case c.events <- ev:
		default:
			slog.Warn("event queue full, dropping event", "event", ev.Event)
		}

	default:
		slog.Warn("unexpected frame type dropped", "type", frameType)
	}
}

// writePump serializes outbound frames and pings onto the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// teardown rejects every outstanding call and closes the event stream.
// No pending entry may be left dangling.
func (c *Client) teardown() {
	c.conn.Close()

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	err := c.Err()
	for id, ch := range pending {
		ch <- callResult{err: err}
		slog.Debug("pending call rejected on teardown", "id", id)
	}

	close(c.done)
	close(c.events)
}
