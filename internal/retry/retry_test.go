package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	for k := 0; k < 3; k++ {
		attempts, err := p.Do(context.Background(), func(attempt int) error {
			if attempt <= k {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, k+1, attempts)
	}
}

func TestDoExhausts(t *testing.T) {
	p := Policy{MaxAttempts: 4}

	var seen []int
	attempts, err := p.Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestDoPermanentStops(t *testing.T) {
	p := Policy{MaxAttempts: 5}

	attempts, err := p.Do(context.Background(), func(attempt int) error {
		return Permanent(errBoom)
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	attempts, err := Policy{}.Do(context.Background(), func(attempt int) error {
		return errBoom
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoBackoffWaits(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

	start := time.Now()
	_, err := p.Do(context.Background(), func(attempt int) error {
		return errBoom
	})

	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDoStopsOnCancel(t *testing.T) {
	p := Policy{MaxAttempts: 10, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int, 1)
	go func() {
		attempts, _ := p.Do(ctx, func(attempt int) error {
			return errBoom
		})
		done <- attempts
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case attempts := <-done:
		assert.Equal(t, 1, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
