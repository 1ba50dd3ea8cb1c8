package integration

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_WithDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy(), p)

	p = RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, p.MaxDelay, "cap never below the base delay")
}

func TestRetryPolicy_BackOffStopsAfterAttempts(t *testing.T) {
	b := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}.backOff(context.Background())

	var waits []time.Duration
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		waits = append(waits, next)
	}
	assert.Len(t, waits, 2, "two waits between three attempts")
	for _, w := range waits {
		assert.LessOrEqual(t, w, 60*time.Millisecond, "jitter stays around the cap")
	}
}

func TestRetryPolicy_BackOffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := DefaultRetryPolicy().backOff(ctx)
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
