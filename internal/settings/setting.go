package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Known setting keys.
const (
	KeyExcludedIPs      = "excluded_ips"
	KeyLastAggregateDay = "last_aggregate_day"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

var (
	excludedIPsCache *cache.Cache[string, []string]
	cacheMu          sync.RWMutex
)

// SetupDefaultSettings inserts the default rows without touching existing values.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyLastAggregateDay, Value: ""},
	}
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, now, now).Error
			if err != nil {
				slog.Default().Error("Failed to insert default setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to insert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	loadCache(dbConn, slog.Default())

	return err
}

// IsIPExcluded reports whether ip is listed in the excluded_ips setting.
func IsIPExcluded(ip string) (bool, error) {
	cacheMu.RLock()
	c := excludedIPsCache
	cacheMu.RUnlock()
	if c == nil {
		return false, nil
	}

	excludedIPs, err := c.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, excludedIP := range excludedIPs {
		if excludedIP != "" && excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// UpdateSetting creates or replaces a setting value.
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}

	if key == KeyExcludedIPs {
		loadCache(dbConn, slog.Default())
	}
	return nil
}

// GetLastAggregateDay returns the last day the aggregator completed, or ""
// if it has never run.
func GetLastAggregateDay(dbConn *gorm.DB) (string, error) {
	value, err := GetSetting(dbConn, KeyLastAggregateDay)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return value, err
}

// SetLastAggregateDay records a completed aggregation day. The value only
// moves forward: re-aggregating an older day leaves it alone. Days are
// YYYY-MM-DD, so string order is date order.
func SetLastAggregateDay(dbConn *gorm.DB, day string) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
            WHERE settings.value = '' OR settings.value < excluded.value
        `, KeyLastAggregateDay, day, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", KeyLastAggregateDay, err)
	}
	return nil
}

// ListSettings returns all settings ordered by key.
func ListSettings(dbConn *gorm.DB) ([]SettingResponse, error) {
	var rows []Setting
	if err := dbConn.Order("key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SettingResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, SettingResponse{Key: row.Key, Value: row.Value})
	}
	return out, nil
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		excludedIPs := strings.Split(value, ",")
		for i, ip := range excludedIPs {
			excludedIPs[i] = strings.TrimSpace(ip)
		}
		return excludedIPs, nil
	}

	cacheMu.Lock()
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
	cacheMu.Unlock()
}

// SettingResponse represents a setting key-value pair for API responses
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
