package domain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpdeck/gateway/internal/domain"
)

func TestModelProfile_Credits(t *testing.T) {
	t.Run("should convert tokens at the base rate", func(t *testing.T) {
		profile := domain.ModelProfile{CreditMultiplier: 1.0}
		require.InDelta(t, 2.0, profile.Credits(20000), 1e-9)
		require.InDelta(t, 0.1, profile.Credits(1000), 1e-9)
		require.InDelta(t, 0.0, profile.Credits(0), 1e-9)
	})

	t.Run("should scale by the multiplier", func(t *testing.T) {
		require.InDelta(t, 3.0, domain.ModelProfile{CreditMultiplier: 1.5}.Credits(20000), 1e-9)
		require.InDelta(t, 4.0, domain.ModelProfile{CreditMultiplier: 2.0}.Credits(20000), 1e-9)
		require.InDelta(t, 3.6, domain.ModelProfile{CreditMultiplier: 1.8}.Credits(20000), 1e-9)
	})
}

func TestModelRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("should register and retrieve profiles", func(t *testing.T) {
		registry := domain.NewModelRegistry()
		require.NoError(t, domain.LoadDefaultProfiles(ctx, registry))

		profile, err := registry.Get(ctx, "opus-4")
		require.NoError(t, err)
		require.Equal(t, "anthropic", profile.Provider)
		require.Equal(t, "claude-2.1", profile.UpstreamModel)
		require.InDelta(t, 1.0, profile.CreditMultiplier, 1e-9)
	})

	t.Run("should tag unknown models as invalid requests", func(t *testing.T) {
		registry := domain.NewModelRegistry()
		require.NoError(t, domain.LoadDefaultProfiles(ctx, registry))

		_, err := registry.Get(ctx, "gpt-99")
		require.Error(t, err)
		require.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
	})

	t.Run("should include the offline echo model", func(t *testing.T) {
		registry := domain.NewModelRegistry()
		require.NoError(t, domain.LoadDefaultProfiles(ctx, registry))

		profile, err := registry.Get(ctx, "echo")
		require.NoError(t, err)
		require.Equal(t, "echo", profile.Provider)
		require.Equal(t, domain.TierFree, profile.MinTier)
	})

	t.Run("should use the first free-tier profile as default", func(t *testing.T) {
		registry := domain.NewModelRegistry()
		require.NoError(t, domain.LoadDefaultProfiles(ctx, registry))

		name, err := registry.DefaultModel(ctx)
		require.NoError(t, err)
		require.Equal(t, "opus-4", name)
	})

	t.Run("should fail when no default is registered", func(t *testing.T) {
		registry := domain.NewModelRegistry()
		_, err := registry.DefaultModel(ctx)
		require.Error(t, err)
	})

	t.Run("should validate profiles on registration", func(t *testing.T) {
		registry := domain.NewModelRegistry()

		err := registry.Register(ctx, domain.ModelProfile{Provider: "anthropic", CreditMultiplier: 1})
		require.Error(t, err)

		err = registry.Register(ctx, domain.ModelProfile{Name: "m", CreditMultiplier: 1})
		require.Error(t, err)

		err = registry.Register(ctx, domain.ModelProfile{Name: "m", Provider: "anthropic", CreditMultiplier: 0})
		require.Error(t, err)
	})
}

func TestTier(t *testing.T) {
	t.Run("should order tiers", func(t *testing.T) {
		require.True(t, domain.TierPremium.Meets(domain.TierStarter))
		require.True(t, domain.TierStarter.Meets(domain.TierStarter))
		require.False(t, domain.TierFree.Meets(domain.TierPremium))
	})

	t.Run("should round-trip names", func(t *testing.T) {
		for _, name := range []string{"FREE", "STARTER", "PREMIUM", "ENTERPRISE"} {
			tier, ok := domain.ParseTier(name)
			require.True(t, ok)
			require.Equal(t, name, tier.String())
		}

		_, ok := domain.ParseTier("GOLD")
		require.False(t, ok)
	})
}
