package geoip_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usertracker/internal/pkg/geoip"
	"usertracker/internal/testsupport"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored value until expiry", func(t *testing.T) {
		c := geoip.NewMemoryCache(0)
		t.Cleanup(func() { c.Close() })
		require.NoError(t, c.Set(ctx, "k", geoip.Location{Country: "Sweden"}, 50*time.Millisecond))

		loc, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Sweden", loc.Country)

		time.Sleep(80 * time.Millisecond)
		_, ok, err = c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("evicts the oldest entry when full", func(t *testing.T) {
		c := geoip.NewMemoryCache(2)
		t.Cleanup(func() { c.Close() })
		require.NoError(t, c.Set(ctx, "a", geoip.Location{City: "A"}, time.Hour))
		require.NoError(t, c.Set(ctx, "b", geoip.Location{City: "B"}, time.Hour))
		require.NoError(t, c.Set(ctx, "c", geoip.Location{City: "C"}, time.Hour))

		_, ok, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		loc, ok, err := c.Get(ctx, "c")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "C", loc.City)

		stats := c.Stats(ctx)
		assert.Equal(t, int64(2), stats.Entries)
		assert.Equal(t, "memory", stats.Backend)
	})
}

func TestDBCache(t *testing.T) {
	ctx := context.Background()
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	c, err := geoip.NewDBCache(db)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "geo_x", geoip.Location{Country: "Norway", Region: "Oslo", City: "Oslo"}, time.Hour))
	require.NoError(t, c.Set(ctx, "geo_x", geoip.Location{Country: "Norway", Region: "Viken", City: "Drammen"}, time.Hour))

	loc, ok, err := c.Get(ctx, "geo_x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, geoip.Location{Country: "Norway", Region: "Viken", City: "Drammen"}, loc, "set overwrites the previous entry")

	require.NoError(t, c.Set(ctx, "geo_old", geoip.Location{Country: "Chile"}, -time.Minute))
	_, ok, err = c.Get(ctx, "geo_old")
	require.NoError(t, err)
	assert.False(t, ok, "expired rows are not served")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(2), stats.Entries)
	assert.Equal(t, int64(1), stats.ExpiredEntries)
	assert.Equal(t, "database", stats.Backend)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("USERTRACKER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("USERTRACKER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	c, err := geoip.NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	key := geoip.CacheKey("198.51.100." + time.Now().Format("150405"))
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, geoip.Location{Country: "Japan", City: "Tokyo"}, time.Minute))
	loc, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Tokyo", loc.City)
}
