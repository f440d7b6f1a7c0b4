package panda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestRetryUntilSuccess(t *testing.T) {
	var calls, retries int
	err := DefaultRetryPolicy.Do(context.Background(), func() error {
		calls++
		if calls < 5 {
			return Transient("read", errOverflow)
		}
		return nil
	}, func(n uint, err error) {
		retries++
		assert.ErrorIs(t, err, errOverflow)
	})
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, retries)
}

func TestRetryBounded(t *testing.T) {
	var calls int
	err := RetryPolicy{MaxAttempts: 3}.Do(context.Background(), func() error {
		calls++
		return Transient("write", errOverflow)
	}, nil)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errOverflow)
}

func TestRetryNonTransient(t *testing.T) {
	fatal := errors.New("stall")
	var calls int
	err := DefaultRetryPolicy.Do(context.Background(), func() error {
		calls++
		return fatal
	}, nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err)
}

func TestRetryContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := RetryPolicy{Delay: time.Millisecond}.Do(ctx, func() error {
		return Transient("read", errOverflow)
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient("x", errOverflow)))
	assert.True(t, IsTransient(&ConnectionError{Op: "y", Err: Transient("x", nil)}))
	assert.False(t, IsTransient(errOverflow))
	assert.False(t, IsTransient(nil))
}
