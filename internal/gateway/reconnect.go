package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Redial dials with capped exponential backoff until a connection
// authenticates, ctx is canceled, or the failure is one a retry cannot
// fix (pairing required, credential rejection). Each attempt is a fresh
// Client over the same Options, so the persisted identity and token
// caches carry across attempts.
func Redial(ctx context.Context, opts Options) (*Client, *ConnectResult, error) {
	backoff := initialBackoff
	for {
		c := NewClient(opts)
		res, err := c.Dial(ctx)
		if err == nil {
			return c, res, nil
		}

		var pr *PairingRequiredError
		var authErr *AuthError
		if errors.As(err, &pr) || errors.As(err, &authErr) || ctx.Err() != nil {
			return nil, nil, err
		}

		slog.Warn("gateway connect failed, retrying", "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
