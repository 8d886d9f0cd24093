package session

import (
	"context"
	"time"
)

// remainingSeconds computes how much of the booked duration is left, with
// elapsed time measured against the store clock.
func remainingSeconds(s *Session, serverNow time.Time) int {
	total := s.Duration * 60
	elapsed := int(serverNow.Sub(s.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// runCountdown decrements once per tick and ends the session with reason
// "timeout" when it reaches zero. A cancelled context (manual end, shutdown)
// stops it silently.
func (c *Coordinator) runCountdown(ctx context.Context, id string, remaining int) {
	defer c.countdowns.Delete(id)

	if remaining <= 0 {
		c.expire(ctx, id)
		return
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				c.expire(ctx, id)
				return
			}
		}
	}
}

func (c *Coordinator) expire(ctx context.Context, id string) {
	// The countdown's own context is cancelled by End; detach so the end
	// write still lands.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := c.End(endCtx, id, EndReasonTimeout); err != nil {
		c.logger.Error("countdown expiry failed", "session", id, "error", err)
	}
}
