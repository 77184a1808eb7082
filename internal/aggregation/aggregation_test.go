package aggregation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"usertracker/internal/aggregation"
	"usertracker/internal/pages"
	"usertracker/internal/settings"
	"usertracker/internal/testsupport"
	"usertracker/internal/visits"
)

const home = "https://example.com"

var now = time.Date(2024, 6, 11, 3, 0, 0, 0, time.UTC)

func summaries(t *testing.T, db *gorm.DB, day string) map[string]aggregation.DailySummary {
	t.Helper()
	var rows []aggregation.DailySummary
	require.NoError(t, db.Where("day = ?", day).Find(&rows).Error)
	out := make(map[string]aggregation.DailySummary, len(rows))
	for _, r := range rows {
		out[r.PageURL] = r
	}
	return out
}

func TestAggregate(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	agg := aggregation.NewAggregator(db, logger, testsupport.FixedClock(now))
	ctx := context.Background()

	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", IsLanding: true, VisitedAt: day})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", VisitedAt: day.Add(12 * time.Hour)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", IsLanding: true, VisitedAt: day.Add(24*time.Hour - time.Microsecond)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/b", VisitedAt: day.Add(time.Hour)})
	// Outside the day on both sides.
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", VisitedAt: day.Add(-time.Microsecond)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", VisitedAt: day.Add(24 * time.Hour)})

	t.Run("defaults to yesterday", func(t *testing.T) {
		n, err := agg.Aggregate(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rows := summaries(t, db, "2024-06-10")
		require.Len(t, rows, 2)
		assert.Equal(t, int64(3), rows[home+"/a"].Visits)
		assert.Equal(t, int64(2), rows[home+"/a"].Landings)
		assert.Equal(t, pages.Hash(home+"/a"), rows[home+"/a"].PageURLHash)
		assert.Equal(t, int64(1), rows[home+"/b"].Visits)
		assert.Equal(t, int64(0), rows[home+"/b"].Landings)

		last, err := settings.GetLastAggregateDay(db)
		require.NoError(t, err)
		assert.Equal(t, "2024-06-10", last)
	})

	t.Run("rerun replaces counts", func(t *testing.T) {
		n, err := agg.Aggregate(ctx, "2024-06-10")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		rows := summaries(t, db, "2024-06-10")
		assert.Equal(t, int64(3), rows[home+"/a"].Visits, "counts are not added twice")

		testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/b", VisitedAt: day.Add(2 * time.Hour)})
		_, err = agg.Aggregate(ctx, "2024-06-10")
		require.NoError(t, err)
		rows = summaries(t, db, "2024-06-10")
		assert.Equal(t, int64(2), rows[home+"/b"].Visits)

		var count int64
		require.NoError(t, db.Model(&aggregation.DailySummary{}).Where("day = ?", "2024-06-10").Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("empty day", func(t *testing.T) {
		n, err := agg.Aggregate(ctx, "2020-01-01")
		require.NoError(t, err)
		assert.Zero(t, n)

		last, err := settings.GetLastAggregateDay(db)
		require.NoError(t, err)
		assert.Equal(t, "2024-06-10", last, "an older day does not move the watermark back")
	})

	t.Run("invalid day", func(t *testing.T) {
		_, err := agg.Aggregate(ctx, "2024-13-01")
		assert.True(t, errors.Is(err, aggregation.ErrInvalidDay))
	})
}

func TestAggregateQuietDayAdvancesWatermark(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	agg := aggregation.NewAggregator(db, logger, testsupport.FixedClock(now))

	n, err := agg.Aggregate(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)

	last, err := settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", last)
}

func TestAggregateGroupsByHash(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	agg := aggregation.NewAggregator(db, logger, testsupport.FixedClock(now))

	at := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	hash := pages.Hash(home + "/x")
	for _, u := range []string{home + "/x", home + "/X"} {
		require.NoError(t, db.Create(&visits.Visit{IP: "203.0.113.1", PageURL: u, PageURLHash: hash, VisitedAt: at}).Error)
	}
	// Rows without a hash fall back to hashing their URL.
	require.NoError(t, db.Create(&visits.Visit{IP: "203.0.113.1", PageURL: home + "/legacy", VisitedAt: at}).Error)

	n, err := agg.Aggregate(context.Background(), "2024-06-10")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := summaries(t, db, "2024-06-10")
	require.Contains(t, rows, home+"/X", "smallest URL of the group is kept")
	assert.Equal(t, int64(2), rows[home+"/X"].Visits)
	require.Contains(t, rows, home+"/legacy")
	assert.Equal(t, pages.Hash(home+"/legacy"), rows[home+"/legacy"].PageURLHash)
}

func TestAggregateRangeAndPageStats(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	agg := aggregation.NewAggregator(db, logger, testsupport.FixedClock(now))
	ctx := context.Background()

	for d := 1; d <= 3; d++ {
		at := time.Date(2024, 6, d, 9, 0, 0, 0, time.UTC)
		testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", IsLanding: true, VisitedAt: at})
		testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/a", VisitedAt: at})
		testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/b", VisitedAt: at})
	}

	n, err := agg.AggregateRange(ctx, "2024-06-01", "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	stats, err := aggregation.PageStats(ctx, db, "2024-06-01", "2024-06-02", "")
	require.NoError(t, err)
	assert.Equal(t, []aggregation.PageStat{
		{PageURL: home + "/a", Visits: 4, Landings: 2},
		{PageURL: home + "/b", Visits: 2, Landings: 0},
	}, stats)

	stats, err = aggregation.PageStats(ctx, db, "2024-06-01", "2024-06-03", home+"/b")
	require.NoError(t, err)
	assert.Equal(t, []aggregation.PageStat{{PageURL: home + "/b", Visits: 3}}, stats)

	_, err = aggregation.PageStats(ctx, db, "", "2024-06-03", "")
	assert.Error(t, err)

	_, err = agg.AggregateRange(ctx, "2024-06-03", "2024-06-01")
	assert.Error(t, err)
}
