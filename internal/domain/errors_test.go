package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpdeck/gateway/internal/domain"
)

func TestKindOf(t *testing.T) {
	t.Run("should extract the kind from a tagged error", func(t *testing.T) {
		err := domain.E(domain.KindRateLimited, "slow down")
		require.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	})

	t.Run("should survive wrapping", func(t *testing.T) {
		err := domain.E(domain.KindAccessDenied, "tier too low")
		wrapped := fmt.Errorf("handling request: %w", err)
		require.Equal(t, domain.KindAccessDenied, domain.KindOf(wrapped))
		require.True(t, domain.IsKind(wrapped, domain.KindAccessDenied))
	})

	t.Run("should default untagged errors to internal", func(t *testing.T) {
		require.Equal(t, domain.KindInternal, domain.KindOf(errors.New("boom")))
		require.False(t, domain.IsKind(errors.New("boom"), domain.KindRateLimited))
	})
}

func TestWrapErr(t *testing.T) {
	cause := errors.New("connection reset")
	err := domain.WrapErr(domain.KindUpstreamError, cause, "completion failed")

	require.Equal(t, domain.KindUpstreamError, domain.KindOf(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "completion failed")
	require.Contains(t, err.Error(), "connection reset")
}

func TestIsCacheMiss(t *testing.T) {
	require.True(t, domain.IsCacheMiss(domain.ErrCacheMiss))
	require.True(t, domain.IsCacheMiss(fmt.Errorf("lookup: %w", domain.ErrCacheMiss)))
	require.False(t, domain.IsCacheMiss(errors.New("cache miss"))) // identity, not text
}
