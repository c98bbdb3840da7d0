package tx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	dErrors "tacita/pkg/domain-errors"
	"tacita/pkg/platform/sentinel"
)

func TestRetryable(t *testing.T) {
	ctx := context.Background()

	t.Run("plain errors retry", func(t *testing.T) {
		require.True(t, retryable(ctx, errors.New("database is locked")))
	})

	t.Run("unavailable is transient", func(t *testing.T) {
		require.True(t, retryable(ctx, fmt.Errorf("insert: %w", sentinel.ErrUnavailable)))
	})

	t.Run("coded domain errors never retry", func(t *testing.T) {
		err := dErrors.New(dErrors.CodeConflict, "policy version changed")
		require.False(t, retryable(ctx, err))
	})

	t.Run("deterministic sentinels never retry", func(t *testing.T) {
		for _, err := range []error{
			sentinel.ErrNotFound,
			sentinel.ErrConflict,
			sentinel.ErrExpired,
			sentinel.ErrInvalidState,
		} {
			require.False(t, retryable(ctx, fmt.Errorf("delete: %w", err)))
		}
	})

	t.Run("cancelled context never retries", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.False(t, retryable(cancelled, errors.New("database is locked")))
	})
}
