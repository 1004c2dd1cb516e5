package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sokdak/sokdak/common"
)

const maxRefreshBackoff = 2 * time.Minute

// StartAutoRefresh refreshes the session in the background shortly before it expires, until ctx
// is done. Transient failures are retried with exponential backoff; a rejected refresh token
// signs the user out.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	go c.autoRefresh(ctx)
}

func (c *Client) autoRefresh(ctx context.Context) {
	ticker := time.NewTicker(c.autoRefreshTick)
	defer ticker.Stop()
	backoff := common.NewBackoff(maxRefreshBackoff)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.refreshIfNeeded(ctx); err != nil {
			slog.Warn("Auto refresh failed", "error", err, "failures", backoff.Failures()+1)
			backoff.Wait(ctx)
			continue
		}
		backoff.Reset()
	}
}

func (c *Client) refreshIfNeeded(ctx context.Context) error {
	s, err := c.stored()
	if err != nil || s == nil {
		return err
	}
	if !s.ExpiresWithin(c.refreshMargin, c.now()) {
		return nil
	}
	if _, err := c.refresh(ctx, s.RefreshToken, s); err != nil {
		if errors.Is(err, ErrSessionChanged) {
			return nil
		}
		if isFatalRefreshError(err) {
			slog.Info("Refresh token rejected, signing out locally", "error", err)
			c.removeSession(s)
			return nil
		}
		return err
	}
	return nil
}
