package invitation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardSettlesExactlyOnce(t *testing.T) {
	guard := NewGuard()
	sessionID := uuid.New()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.Settle(sessionID) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestGuardIsPerSession(t *testing.T) {
	guard := NewGuard()

	a, b := uuid.New(), uuid.New()
	assert.True(t, guard.Settle(a))
	assert.True(t, guard.Settle(b))
	assert.False(t, guard.Settle(a))
}

func TestCountdownFiresAutoDeclineOnce(t *testing.T) {
	sessionID := uuid.New()
	guard := NewGuard()

	declined := make(chan uuid.UUID, 2)
	c := NewCountdown(sessionID, 1500*time.Millisecond, guard, nil, func(id uuid.UUID) {
		declined <- id
	})
	c.Start(context.Background())

	select {
	case id := <-declined:
		assert.Equal(t, sessionID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("auto-decline never fired")
	}

	<-c.Done()
	select {
	case <-declined:
		t.Fatal("auto-decline fired twice")
	default:
	}
}

func TestResolveSuppressesAutoDecline(t *testing.T) {
	sessionID := uuid.New()
	guard := NewGuard()

	declined := make(chan uuid.UUID, 1)
	c := NewCountdown(sessionID, 1200*time.Millisecond, guard, nil, func(id uuid.UUID) {
		declined <- id
	})
	c.Start(context.Background())

	// Patient answers before the countdown runs out.
	require.True(t, c.Resolve())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not stop after resolve")
	}

	select {
	case <-declined:
		t.Fatal("auto-decline fired after a manual answer")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResolveAfterExpiryLosesRace(t *testing.T) {
	sessionID := uuid.New()
	guard := NewGuard()

	declined := make(chan uuid.UUID, 1)
	c := NewCountdown(sessionID, time.Second, guard, nil, func(id uuid.UUID) {
		declined <- id
	})
	c.Start(context.Background())

	<-c.Done()
	<-declined

	assert.False(t, c.Resolve())
}

func TestCountdownTicksDown(t *testing.T) {
	sessionID := uuid.New()
	guard := NewGuard()

	var mu sync.Mutex
	var ticks []time.Duration
	c := NewCountdown(sessionID, 3*time.Second, guard, func(remaining time.Duration) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	time.Sleep(1100 * time.Millisecond)
	cancel()
	<-c.Done()

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(ticks), 2)
	assert.Equal(t, 3*time.Second, ticks[0])
	for i := 1; i < len(ticks); i++ {
		assert.Less(t, ticks[i], ticks[i-1])
	}
}
