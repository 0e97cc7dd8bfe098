// Package invitation holds the client-side countdown shown to an invited
// patient. The display countdown is a UX affordance layered over the
// server's authoritative TTL: it is never longer than the server TTL, and
// its auto-decline fires at most once per session and never after the
// patient has already answered.
package invitation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Guard makes the auto-decline one-shot per call session. Both the
// countdown expiry path and the manual-response path race to settle the
// same session; exactly one wins.
type Guard struct {
	mu      sync.Mutex
	settled map[uuid.UUID]struct{}
}

func NewGuard() *Guard {
	return &Guard{settled: make(map[uuid.UUID]struct{})}
}

// Settle claims the session. It returns true only for the first caller.
func (g *Guard) Settle(sessionID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.settled[sessionID]; ok {
		return false
	}
	g.settled[sessionID] = struct{}{}
	return true
}

// Countdown ticks down the display TTL for one invitation. When it hits
// zero and the guard has not been claimed, it invokes the decline
// callback. Resolve stops the countdown and claims the guard, so a
// confirmation or decline already sent by the patient suppresses the
// auto-decline even if the timer has just fired.
type Countdown struct {
	sessionID uuid.UUID
	ttl       time.Duration
	guard     *Guard
	onTick    func(remaining time.Duration)
	onExpire  func(sessionID uuid.UUID)

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func NewCountdown(sessionID uuid.UUID, ttl time.Duration, guard *Guard, onTick func(time.Duration), onExpire func(uuid.UUID)) *Countdown {
	return &Countdown{
		sessionID: sessionID,
		ttl:       ttl,
		guard:     guard,
		onTick:    onTick,
		onExpire:  onExpire,
		done:      make(chan struct{}),
	}
}

// Start begins ticking. Calling Start more than once is a no-op.
func (c *Countdown) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)

		deadline := time.Now().Add(c.ttl)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		if c.onTick != nil {
			c.onTick(c.ttl)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				remaining := deadline.Sub(now)
				if remaining <= 0 {
					if c.guard.Settle(c.sessionID) && c.onExpire != nil {
						c.onExpire(c.sessionID)
					}
					return
				}
				if c.onTick != nil {
					c.onTick(remaining)
				}
			}
		}
	}()
}

// Resolve records that the patient answered manually. It claims the guard
// and stops the ticker; it reports whether the manual answer won the race
// against auto-decline.
func (c *Countdown) Resolve() bool {
	won := c.guard.Settle(c.sessionID)
	if c.cancel != nil {
		c.cancel()
	}
	return won
}

// Done is closed when the countdown goroutine exits.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
