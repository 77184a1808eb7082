package seeder_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usertracker/internal/aggregation"
	"usertracker/internal/seeder"
	"usertracker/internal/services"
	"usertracker/internal/testsupport"
	"usertracker/internal/visits"
)

func TestSeederRun(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	svc := testsupport.NewTestServices(t, db, services.Options{TimeProvider: testsupport.FixedClock(now)})

	s := seeder.NewSeeder(svc, logger, 200)
	s.Days = 5

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, res.Sessions)
	assert.Positive(t, res.Recorded)

	var count int64
	require.NoError(t, db.Model(&visits.Visit{}).Count(&count).Error)
	assert.Equal(t, int64(res.Recorded), count)

	var earliest visits.Visit
	require.NoError(t, db.Order("visited_at").First(&earliest).Error)
	assert.False(t, earliest.VisitedAt.Before(now.AddDate(0, 0, -5)), "visits stay inside the window")

	var landings, devices int64
	require.NoError(t, db.Model(&visits.Visit{}).Where("is_landing = ?", true).Count(&landings).Error)
	require.NoError(t, db.Model(&visits.Visit{}).Distinct("device_id").Count(&devices).Error)
	assert.Equal(t, devices, landings, "each device lands exactly once")

	var summaries int64
	require.NoError(t, db.Model(&aggregation.DailySummary{}).Count(&summaries).Error)
	assert.Positive(t, summaries)
}

func TestSeederRequiresServices(t *testing.T) {
	_, err := seeder.NewSeeder(nil, nil, 0).Run(context.Background())
	assert.Error(t, err)
}
