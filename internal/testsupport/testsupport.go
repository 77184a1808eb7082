package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"usertracker/internal"
	"usertracker/internal/config"
	"usertracker/internal/database"
	"usertracker/internal/pages"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/services"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
	"usertracker/internal/visits"
)

// AdminAPIKey is the bearer token test apps accept on admin routes.
const AdminAPIKey = "test-admin-key"

func init() {
	if os.Getenv("USERTRACKER_ENV") == "" {
		os.Setenv("USERTRACKER_ENV", config.Test)
	}
}

// testDBCache caches test databases by root test name so setup called from
// subtests shares one database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a migrated in-memory database shared by the root test
// and its subtests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager returns a DB manager over a fresh test database with
// default settings loaded.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set USERTRACKER_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	// Always reload so the excluded-IP cache reflects this database.
	require.NoError(t, settings.SetupDefaultSettings(db))

	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears every table, keeping the default settings rows.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	CleanTables(db, tableNames)
	settings.SetupDefaultSettings(db)
}

// CleanTables deletes all rows from the given tables.
func CleanTables(db *gorm.DB, tables []string) {
	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a quiet test logger.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// FixedClock returns a TimeProvider stuck at t.
func FixedClock(t time.Time) *timeframe.FixedTimeProvider {
	return &timeframe.FixedTimeProvider{Time: t}
}

// VisitFixture describes a visit row inserted directly, bypassing the
// recorder. Zero values get sensible defaults.
type VisitFixture struct {
	PageURL   string
	DeviceID  string
	SessionID string
	IP        string
	Country   string
	Referrer  string
	IsLanding bool
	IsBot     bool
	VisitedAt time.Time
}

// CreateVisit inserts a visit row.
func CreateVisit(t *testing.T, db *gorm.DB, f VisitFixture) *visits.Visit {
	t.Helper()
	if f.PageURL == "" {
		f.PageURL = "https://example.com/"
	}
	if f.IP == "" {
		f.IP = "203.0.113.10"
	}
	if f.VisitedAt.IsZero() {
		f.VisitedAt = time.Now().UTC()
	}

	v := &visits.Visit{
		IP:          f.IP,
		PageURL:     f.PageURL,
		PageURLHash: pages.Hash(f.PageURL),
		IsLanding:   f.IsLanding,
		IsBot:       f.IsBot,
		VisitedAt:   f.VisitedAt.UTC(),
	}
	if f.DeviceID != "" {
		v.DeviceID = &f.DeviceID
	}
	if f.SessionID != "" {
		v.SessionID = &f.SessionID
	}
	if f.Country != "" {
		v.Country = &f.Country
	}
	if f.Referrer != "" {
		v.Referrer = &f.Referrer
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

// RecordingDiagnostics collects diagnostic messages in memory.
type RecordingDiagnostics struct {
	mu       sync.Mutex
	messages []string
}

func (r *RecordingDiagnostics) Log(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *RecordingDiagnostics) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// TestConfig returns the shared config prepared for test apps.
func TestConfig() *config.Config {
	cfg := config.GetConfig()
	cfg.Environment = config.Test
	cfg.AdminAPIKey = AdminAPIKey
	cfg.HomeURL = "https://example.com"
	cfg.GeoProvider = config.GeoProviderNone
	cfg.GeoCacheBackend = config.GeoCacheMemory
	return cfg
}

// NewTestServices builds the service graph over db with no external geo
// lookups unless opts says otherwise.
func NewTestServices(t *testing.T, db *gorm.DB, opts services.Options) *services.Services {
	t.Helper()
	if opts.Lookup == nil {
		opts.Lookup = geoip.NoopLookup{}
	}
	svc, err := services.New(context.Background(), TestConfig(), db, GetLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

// CreateMinimalTestApp creates a fiber app with all routes mounted.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()
	return CreateTestAppWithServices(t, NewTestServices(t, db, services.Options{}))
}

// CreateTestAppWithServices mounts all routes over an existing service graph.
func CreateTestAppWithServices(t *testing.T, svc *services.Services) *fiber.App {
	t.Helper()

	appConfig := TestConfig()

	cfg := internal.NewServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(svc.DB)
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.TemplatesDirectory = appConfig.PublicDirectory

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv, svc)
	return srv.App()
}

// AdminRequest adds the admin bearer token to req.
func AdminRequest(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+AdminAPIKey)
	return req
}
