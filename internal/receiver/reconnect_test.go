package receiver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/didauth/stub"
)

func TestBackoffDelaySequence(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(base, max, attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, max, "delay must respect the cap")
		prev = d
	}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, max, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, max, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, max, 2))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(base, max, 3))
	assert.Equal(t, time.Second, backoffDelay(base, max, 4))
	assert.Equal(t, time.Second, backoffDelay(base, max, 20))
}

func TestBackoffDelayDefaults(t *testing.T) {
	// zero config falls back to sane values instead of spinning
	assert.Equal(t, time.Second, backoffDelay(0, 0, 0))
	assert.Equal(t, 5*time.Minute, backoffDelay(0, 0, 30))
}

func TestRunEntersFailedStateAfterMaxAttempts(t *testing.T) {
	cfg := config.ReceiverConfig{
		// nothing listens here; every dial fails fast
		GatewayURL: "ws://127.0.0.1:1/ws",
		ChunkSize:  64 * 1024,
		Reconnect: config.ReconnectConfig{
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    20 * time.Millisecond,
			MaxAttempts: 3,
		},
	}

	var mu sync.Mutex
	var transitions []State
	observer := func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}

	c := New(cfg, AppFunc(func(context.Context, *Request) (*Response, error) {
		return &Response{Status: 200}, nil
	}), stub.NewHeaderSigner("did:wba:example:r1"), observer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.Equal(t, StateConnecting, transitions[0])
	assert.Contains(t, transitions, StateReconnecting)
	assert.Equal(t, StateFailed, transitions[len(transitions)-1])
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateFailed:       "failed",
		State(99):         "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
