package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usertracker/internal/settings"
	"usertracker/internal/testsupport"
)

func TestIsIPExcluded(t *testing.T) {
	t.Run("excludes exact IP match", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, "203.0.113.10"))

		isExcluded, err := settings.IsIPExcluded("203.0.113.10")
		require.NoError(t, err)
		assert.True(t, isExcluded)

		isExcluded, err = settings.IsIPExcluded("203.0.113.11")
		require.NoError(t, err)
		assert.False(t, isExcluded)
	})

	t.Run("handles IPs with whitespace", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, " 203.0.113.10 , 198.51.100.1 "))

		isExcluded, err := settings.IsIPExcluded("198.51.100.1")
		require.NoError(t, err)
		assert.True(t, isExcluded)
	})

	t.Run("empty list excludes nothing", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))
		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, ""))

		isExcluded, err := settings.IsIPExcluded("")
		require.NoError(t, err)
		assert.False(t, isExcluded, "an empty entry must not match an empty ip")
	})

	t.Run("reflects updates to exclusion list", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		require.NoError(t, settings.SetupDefaultSettings(db))

		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, "203.0.113.10"))
		isExcluded, err := settings.IsIPExcluded("198.51.100.5")
		require.NoError(t, err)
		assert.False(t, isExcluded)

		require.NoError(t, settings.UpdateSetting(db, settings.KeyExcludedIPs, "203.0.113.10,198.51.100.5"))
		isExcluded, err = settings.IsIPExcluded("198.51.100.5")
		require.NoError(t, err)
		assert.True(t, isExcluded)
	})
}

func TestUpdateSetting(t *testing.T) {
	t.Run("creates then replaces", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		require.NoError(t, settings.UpdateSetting(db, "test_setting", "initial_value"))
		value, err := settings.GetSetting(db, "test_setting")
		require.NoError(t, err)
		assert.Equal(t, "initial_value", value)

		require.NoError(t, settings.UpdateSetting(db, "test_setting", "updated_value"))
		value, err = settings.GetSetting(db, "test_setting")
		require.NoError(t, err)
		assert.Equal(t, "updated_value", value)
	})

	t.Run("returns error for non-existent setting", func(t *testing.T) {
		dbManager, _ := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()

		_, err := settings.GetSetting(db, "non_existent")
		assert.Error(t, err)
	})
}

func TestLastAggregateDay(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	day, err := settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Empty(t, day)

	require.NoError(t, settings.SetLastAggregateDay(db, "2024-03-01"))
	day, err = settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", day)

	require.NoError(t, settings.SetLastAggregateDay(db, "2024-02-15"))
	day, err = settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", day, "an older day does not move the value back")

	require.NoError(t, settings.SetLastAggregateDay(db, "2024-03-02"))
	day, err = settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", day)

	all, err := settings.ListSettings(db)
	require.NoError(t, err)
	assert.Contains(t, all, settings.SettingResponse{Key: settings.KeyLastAggregateDay, Value: "2024-03-02"})
}
