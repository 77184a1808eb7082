package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usertracker/internal/config"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/services"
	"usertracker/internal/testsupport"
)

func TestGeoCacheBackends(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	cases := []struct {
		backend string
		want    string
	}{
		{config.GeoCacheMemory, "memory"},
		{config.GeoCacheDatabase, "database"},
		// An unreachable Redis falls back to memory.
		{config.GeoCacheRedis, "memory"},
	}

	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := *testsupport.TestConfig()
			cfg.GeoCacheBackend = tc.backend
			cfg.RedisURL = "redis://127.0.0.1:1/0"

			svc, err := services.New(context.Background(), &cfg, db, logger, services.Options{Lookup: geoip.NoopLookup{}})
			require.NoError(t, err)
			t.Cleanup(func() { svc.Close() })

			require.IsType(t, &geoip.StoreCache{}, svc.GeoCache)
			require.NoError(t, svc.GeoCache.Set(context.Background(), geoip.CacheKey("8.8.8.8"), geoip.Location{Country: "United States"}, time.Hour))

			stats, ok := svc.GeoCacheStats(context.Background())
			require.True(t, ok)
			assert.Equal(t, tc.want, stats.Backend)
		})
	}
}
