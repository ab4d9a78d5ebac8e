package cacheservice_test

import (
	"context"
	"testing"

	"github.com/nlarkins/mexc-sniper/cacheservice"
	"github.com/nlarkins/mexc-sniper/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNoRedisURLDegradesToNoop(t *testing.T) {
	cfg := &config.Config{}
	svc := cacheservice.New(cfg, zerolog.Nop())
	ctx := context.Background()

	var dest map[string]string
	require.False(t, svc.Get(ctx, "calendar", "all", &dest), "get must miss with no backend")
	require.False(t, svc.Set(ctx, "calendar", "all", map[string]string{"a": "b"}, cacheservice.TypeCalendar, 0))
	require.False(t, svc.Delete(ctx, "calendar", "all"))
	require.False(t, svc.Exists(ctx, "calendar", "all"))
	require.Equal(t, 0, svc.Clear(ctx, "calendar", "*"))
	require.False(t, svc.Available())
}

func TestStatsDegradesWhenNoRedisURL(t *testing.T) {
	cfg := &config.Config{}
	svc := cacheservice.New(cfg, zerolog.Nop())

	stats := svc.Stats(context.Background())
	require.False(t, stats.Available)
	require.Zero(t, stats.Hits)
	require.Zero(t, stats.Misses)
}

func TestTypeOfFallsBackToDefault(t *testing.T) {
	require.Equal(t, cacheservice.TypeSymbols, cacheservice.TypeOf("symbols"))
	require.Equal(t, cacheservice.TypeDefault, cacheservice.TypeOf("nonsense"))
}
