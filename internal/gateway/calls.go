package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

// ChatSendParams starts an agent run on a session.
type ChatSendParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	AgentID    string `json:"agentId,omitempty"`
	RunID      string `json:"runId,omitempty"`
	Stream     bool   `json:"stream"`
}

// ChatSendResult acknowledges a chat.send. Streamed content arrives as
// events, not in this payload.
type ChatSendResult struct {
	RunID string `json:"runId"`
}

// HistoryMessage is one finalized transcript entry from chat.history.
type HistoryMessage struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix millis
}

// SessionInfo is one entry of the gateway's session directory.
type SessionInfo struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"` // unix millis
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`
}

// SkillStatus is one entry of skills.status.
type SkillStatus struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Source      string `json:"source,omitempty"`
}

// SendChat starts a streaming run. The returned run ID keys all
// subsequent delta/final/tool events for the turn.
func (c *Client) SendChat(ctx context.Context, p ChatSendParams) (*ChatSendResult, error) {
	p.Stream = true
	payload, err := c.Call(ctx, protocol.MethodChatSend, p)
	if err != nil {
		return nil, err
	}
	var res ChatSendResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("parse chat.send result: %w", err)
	}
	return &res, nil
}

// ChatHistory fetches the finalized transcript of a session.
func (c *Client) ChatHistory(ctx context.Context, sessionKey string) ([]HistoryMessage, error) {
	payload, err := c.Call(ctx, protocol.MethodChatHistory, map[string]string{
		"sessionKey": sessionKey,
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		Messages []HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("parse chat.history result: %w", err)
	}
	return res.Messages, nil
}

// AbortChat requests a best-effort abort of running turns. Callers clear
// local streaming state immediately without waiting for the reply.
func (c *Client) AbortChat(ctx context.Context, sessionKey, runID string) error {
	_, err := c.Call(ctx, protocol.MethodChatAbort, map[string]string{
		"sessionKey": sessionKey,
		"runId":      runID,
	})
	return err
}

// ListSessions fetches the gateway's session directory.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	payload, err := c.Call(ctx, protocol.MethodSessionsList, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("parse sessions.list result: %w", err)
	}
	return res.Sessions, nil
}

// PatchSession updates mutable session fields (currently the display
// name).
func (c *Client) PatchSession(ctx context.Context, sessionKey, displayName string) error {
	_, err := c.Call(ctx, protocol.MethodSessionsPatch, map[string]string{
		"sessionKey":  sessionKey,
		"displayName": displayName,
	})
	return err
}

// DeleteSession removes a session from the gateway.
func (c *Client) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := c.Call(ctx, protocol.MethodSessionsDelete, map[string]string{
		"sessionKey": sessionKey,
	})
	return err
}

// SkillsStatus fetches the gateway's skill inventory.
func (c *Client) SkillsStatus(ctx context.Context) ([]SkillStatus, error) {
	payload, err := c.Call(ctx, protocol.MethodSkillsStatus, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Skills []SkillStatus `json:"skills"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("parse skills.status result: %w", err)
	}
	return res.Skills, nil
}
