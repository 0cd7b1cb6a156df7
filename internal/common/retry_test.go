package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryOptions {
	return RetryOptions{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return ErrStorage
			}
			return nil
		}, fastRetry(5))

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return ErrValidation
		}, fastRetry(5))

		require.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return &RetryableError{Err: errors.New("upstream 503"), Retryable: true}
		}, fastRetry(3))

		require.ErrorIs(t, err, ErrMaxRetries)
		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.Contains(t, err.Error(), "upstream 503")
		assert.Equal(t, 3, calls)
	})

	t.Run("single attempt returns raw error", func(t *testing.T) {
		err := WithRetry(context.Background(), func() error {
			return ErrRateLimit
		}, fastRetry(1))

		require.ErrorIs(t, err, ErrRateLimit)
		assert.NotErrorIs(t, err, ErrMaxRetries)
	})

	t.Run("honors cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			cancel()
			return ErrStorage
		}, RetryOptions{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second})

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "", want: slog.LevelInfo},
		{input: " WARN ", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "loud", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("stored", "tenant", 7)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"tenant":7`)

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	require.ErrorIs(t, err, ErrInvalidConfig)

	assert.Same(t, logger, OrDefault(logger))
	assert.NotNil(t, OrDefault(nil))
}
