package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sesherr "github.com/randalmurphal/sesh/internal/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return sesherr.ErrTransient("connection reset", fmt.Errorf("reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BoundedAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "op", func() error {
		calls++
		return sesherr.ErrTransient("still down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, sesherr.IsTransient(err), "final error surfaces the transient cause")
}

func TestDo_NeverRetriesNonTransient(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "op", func() error {
		calls++
		return sesherr.ErrValidation("bad input", "nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, sesherr.IsCode(err, sesherr.CodeValidation))
}

func TestDo_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy(10).Do(ctx, "op", func() error {
		calls++
		cancel()
		return sesherr.ErrTransient("down", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNoRetry(t *testing.T) {
	calls := 0
	_ = NoRetry().Do(context.Background(), "op", func() error {
		calls++
		return sesherr.ErrTransient("down", nil)
	})
	assert.Equal(t, 1, calls)
}
