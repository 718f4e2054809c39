package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithBackoffEventualSuccess(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "broken", func() error {
		attempts++
		return errors.New("permanent-ish")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithBackoffHaltSkipsRetries(t *testing.T) {
	fatal := errors.New("unrecoverable")
	attempts := 0
	err := WithBackoff(context.Background(), fastConfig(), zaptest.NewLogger(t), "fatal", func() error {
		attempts++
		return Halt(fatal)
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
}

func TestHaltNil(t *testing.T) {
	require.NoError(t, Halt(nil))
}

func TestWithBackoffHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithBackoff(ctx, fastConfig(), zaptest.NewLogger(t), "cancelled", func() error {
		return errors.New("never succeeds")
	})
	require.ErrorIs(t, err, context.Canceled)
}
