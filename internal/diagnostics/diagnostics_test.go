package diagnostics_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usertracker/internal/diagnostics"
	"usertracker/internal/metrics"
	"usertracker/internal/testsupport"
)

func TestSink(t *testing.T) {
	t.Run("persists entries after close", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		sink := diagnostics.NewSink(db, logger, 16)
		sink.Log("ip-api non-success for IP 203.0.113.9")
		sink.Log("DB insert failed: disk I/O error")
		sink.Close()

		entries, err := diagnostics.List(db, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		messages := []string{entries[0].Message, entries[1].Message}
		assert.Contains(t, messages, "ip-api non-success for IP 203.0.113.9")
		assert.Contains(t, messages, "DB insert failed: disk I/O error")
	})

	t.Run("counts entries dropped by a full buffer", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		before := testutil.ToFloat64(metrics.DiagnosticsDroppedTotal)
		sink := diagnostics.NewSink(db, logger, 1)
		for i := 0; i < 1000; i++ {
			sink.Log(fmt.Sprintf("burst %d", i))
		}
		sink.Close()

		entries, err := diagnostics.List(db, 1000)
		require.NoError(t, err)
		dropped := testutil.ToFloat64(metrics.DiagnosticsDroppedTotal) - before
		assert.Positive(t, dropped)
		assert.Equal(t, float64(1000), dropped+float64(len(entries)))
	})

	t.Run("log after close is ignored", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		sink := diagnostics.NewSink(db, logger, 1)
		sink.Close()
		sink.Close()

		assert.NotPanics(t, func() { sink.Log("late") })

		entries, err := diagnostics.List(db, 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestListAndClear(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, diagnostics.Write(db, logger, fmt.Sprintf("entry %d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	entries, err := diagnostics.List(db, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 4", entries[0].Message, "newest first")

	deleted, err := diagnostics.Clear(db, logger)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	entries, err = diagnostics.List(db, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
