package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/clawlink/internal/authstore"
	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

// Handshake states, per connection attempt:
// open → awaitChallenge → signing → helloSent → {authenticated,
// pairingRequired, rejected}.
type handshakeState int32

const (
	hsOpen handshakeState = iota
	hsAwaitChallenge
	hsSigning
	hsHelloSent
	hsAuthenticated
	hsPairingRequired
	hsRejected
)

// signPayloadVersion tags the signed handshake payload. v2 binds the
// server nonce into the signature.
const signPayloadVersion = "v2"

// payloadDelimiter joins the ordered handshake fields. A field that
// contains the delimiter is rejected outright, never truncated.
const payloadDelimiter = "|"

type challengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

type connectClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type connectDeviceProof struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce"`
}

type connectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

type connectParams struct {
	MinProtocol int                 `json:"minProtocol"`
	MaxProtocol int                 `json:"maxProtocol"`
	Client      connectClientInfo   `json:"client"`
	Role        string              `json:"role"`
	Scopes      []string            `json:"scopes"`
	Device      *connectDeviceProof `json:"device,omitempty"`
	Auth        *connectAuth        `json:"auth,omitempty"`
}

// ConnectResult is the payload of a successful handshake.
type ConnectResult struct {
	Protocol int      `json:"protocol"`
	Role     string   `json:"role"`
	Scopes   []string `json:"scopes"`
	Auth     struct {
		DeviceToken string `json:"deviceToken"`
	} `json:"auth"`
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
}

type handshakeResult struct {
	connect *ConnectResult
	err     error
}

type handshake struct {
	client    *Client
	state     atomic.Int32
	triggered atomic.Bool
	result    chan handshakeResult
}

func newHandshake(c *Client) *handshake {
	h := &handshake{client: c, result: make(chan handshakeResult, 1)}
	h.state.Store(int32(hsAwaitChallenge))
	return h
}

func (h *handshake) setState(s handshakeState) {
	h.state.Store(int32(s))
}

// onChallenge fires when the gateway pushes connect.challenge. Exactly
// one connect request is sent per connection attempt; a duplicated
// challenge event is ignored.
func (h *handshake) onChallenge(payload json.RawMessage) {
	if !h.triggered.CompareAndSwap(false, true) {
		slog.Warn("duplicate connect.challenge ignored")
		return
	}
	var ch challengePayload
	if err := json.Unmarshal(payload, &ch); err != nil {
		h.finish(handshakeResult{err: fmt.Errorf("malformed challenge: %w", err)})
		return
	}
	go h.run(ch.Nonce)
}

// run drives signing and the connect call off the read pump so event
// dispatch keeps flowing while the call is outstanding.
func (h *handshake) run(nonce string) {
	c := h.client
	opts := c.opts

	h.setState(hsSigning)

	role := opts.Role
	scopes := append([]string(nil), opts.Scopes...)
	sort.Strings(scopes)

	// Candidate bearer token: static config token first, else the
	// cached device token from a previous handshake.
	token := opts.Token
	usedCachedToken := false
	deviceID := ""
	if opts.Signer != nil {
		deviceID = opts.Signer.DeviceID()
	}
	if token == "" && opts.TokenCache != nil && deviceID != "" {
		entry, err := opts.TokenCache.Load(deviceID, role)
		if err != nil {
			slog.Warn("token cache read failed", "error", err)
		} else if entry != nil {
			token = entry.Token
			usedCachedToken = true
		}
	}

	params := connectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client: connectClientInfo{
			ID:       opts.ClientID,
			Version:  "clawlink/" + Version,
			Platform: platformName(),
			Mode:     opts.Mode,
		},
		Role:   role,
		Scopes: scopes,
	}
	if token != "" || opts.Password != "" {
		params.Auth = &connectAuth{Token: token, Password: opts.Password}
	}

	if opts.Signer != nil {
		signedAt := time.Now().UnixMilli()
		payload, err := buildSignPayload(signPayloadVersion, deviceID, opts.ClientID,
			opts.Mode, role, scopes, signedAt, token, nonce)
		if err != nil {
			h.finish(handshakeResult{err: err})
			return
		}
		sig, err := opts.Signer.Sign([]byte(payload))
		if err != nil {
			h.finish(handshakeResult{err: fmt.Errorf("sign handshake: %w", err)})
			return
		}
		params.Device = &connectDeviceProof{
			ID:        deviceID,
			PublicKey: opts.Signer.PublicKeyBase64(),
			Signature: sig,
			SignedAt:  signedAt,
			Nonce:     nonce,
		}
	} else {
		slog.Info("no signing capability, using token/password-only handshake")
	}

	h.setState(hsHelloSent)

	ctx, cancel := context.WithTimeout(context.Background(), opts.HandshakeTimeout)
	defer cancel()
	payload, err := c.Call(ctx, protocol.MethodConnect, params)
	if err != nil {
		h.finish(handshakeResult{err: h.rejection(err, deviceID, role, usedCachedToken)})
		return
	}

	var res ConnectResult
	if err := json.Unmarshal(payload, &res); err != nil {
		h.finish(handshakeResult{err: fmt.Errorf("parse connect result: %w", err)})
		return
	}

	// A fresh device-scoped token overwrites the cache entry for
	// (deviceID, role).
	if res.Auth.DeviceToken != "" && opts.TokenCache != nil && deviceID != "" {
		if err := opts.TokenCache.Save(deviceID, authstore.Entry{
			Token:  res.Auth.DeviceToken,
			Role:   res.Role,
			Scopes: res.Scopes,
		}); err != nil {
			slog.Warn("token cache write failed", "error", err)
		}
	}

	h.setState(hsAuthenticated)
	slog.Info("gateway session authenticated",
		"role", res.Role, "protocol", res.Protocol, "server", res.Server.Name)
	h.finish(handshakeResult{connect: &res})
}

// rejection classifies a failed connect call. A cached token that took
// part in the failed attempt is invalidated so the next attempt does not
// retry it.
func (h *handshake) rejection(err error, deviceID, role string, usedCachedToken bool) error {
	opts := h.client.opts

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		h.setState(hsRejected)
		return err
	}

	if usedCachedToken && opts.TokenCache != nil && deviceID != "" {
		if ierr := opts.TokenCache.Invalidate(deviceID, role); ierr != nil {
			slog.Warn("token cache invalidate failed", "error", ierr)
		} else {
			slog.Info("cached gateway token invalidated after rejection", "device_id", deviceID, "role", role)
		}
	}

	if pr, ok := pairingRequired(&rpcErr.Shape, deviceID); ok {
		h.setState(hsPairingRequired)
		return pr
	}

	h.setState(hsRejected)
	return &AuthError{Message: rpcErr.Shape.Message, Code: rpcErr.Shape.Code}
}

func (h *handshake) finish(res handshakeResult) {
	select {
	case h.result <- res:
	default:
	}
}

// buildSignPayload joins the ordered handshake fields into the signing
// payload. Any field containing the delimiter is rejected.
func buildSignPayload(version, deviceID, clientID, mode, role string, sortedScopes []string, signedAt int64, token, nonce string) (string, error) {
	fields := []string{
		version,
		deviceID,
		clientID,
		mode,
		role,
		strings.Join(sortedScopes, ","),
		strconv.FormatInt(signedAt, 10),
		token,
		nonce,
	}
	for _, f := range fields {
		if strings.Contains(f, payloadDelimiter) {
			return "", fmt.Errorf("handshake field %q contains delimiter %q", f, payloadDelimiter)
		}
	}
	return strings.Join(fields, payloadDelimiter), nil
}
