package http_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"usertracker/internal/aggregation"
	"usertracker/internal/diagnostics"
	"usertracker/internal/services"
	"usertracker/internal/settings"
	"usertracker/internal/testsupport"
	"usertracker/internal/visits"
)

const home = "https://example.com"

var now = time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)

func newApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	svc := testsupport.NewTestServices(t, db, services.Options{TimeProvider: testsupport.FixedClock(now)})
	return testsupport.CreateTestAppWithServices(t, svc), db
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := testsupport.AdminRequest(httptest.NewRequest(method, path, reader))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoErrorf(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	day := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/", Country: "Spain", Referrer: "https://www.google.com/", IsLanding: true, VisitedAt: day})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/", Country: "Spain", VisitedAt: day.Add(time.Hour)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/hello-world/", Country: "Germany", Referrer: home + "/", VisitedAt: day.Add(2 * time.Hour)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: home + "/hello-world/", IsBot: true, VisitedAt: day.Add(-24 * time.Hour)})
}

func TestAdminRoutesRequireAPIKey(t *testing.T) {
	app, _ := newApp(t)

	for _, path := range []string{"/admin/api/visits", "/admin/api/pages", "/admin/api/logs", "/admin/api/settings"} {
		req := httptest.NewRequest("GET", path, nil)
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)

		req = httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err = app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestVisitsIndexAction(t *testing.T) {
	app, db := newApp(t)
	seed(t, db)

	resp, raw := do(t, app, "GET", "/admin/api/visits?per_page=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list visits.ListResult
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, int64(4), list.Total)
	require.Len(t, list.Items, 4)
	assert.Equal(t, home+"/hello-world/", list.Items[0].PageURL)

	resp, raw = do(t, app, "GET", "/admin/api/visits?hide_bots=true&search=hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, int64(1), list.Total)

	resp, raw = do(t, app, "GET", "/admin/api/visits?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, raw)["error"], "invalid")
}

func TestVisitsExportAction(t *testing.T) {
	app, db := newApp(t)
	seed(t, db)

	resp, raw := do(t, app, "GET", "/admin/api/visits/export?format=csv&hide_bots=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `attachment; filename="user-visits-`)

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(raw), "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "ID", records[0][0])

	resp, _ = do(t, app, "GET", "/admin/api/visits/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPagesActions(t *testing.T) {
	app, db := newApp(t)
	seed(t, db)

	t.Run("raw visits without a closed range", func(t *testing.T) {
		resp, raw := do(t, app, "GET", "/admin/api/pages", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(t, raw)
		assert.Equal(t, "visits", body["source"])
		rows := body["pages"].([]any)
		require.Len(t, rows, 2)
		first := rows[0].(map[string]any)
		assert.Equal(t, home+"/", first["page_url"])
		assert.Equal(t, float64(2), first["visits"])
		assert.Equal(t, float64(1), first["landings"])
	})

	t.Run("daily summaries for a closed range", func(t *testing.T) {
		resp, raw := do(t, app, "POST", "/admin/api/aggregate", map[string]string{"from": "2024-06-09", "to": "2024-06-10"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(3), decode(t, raw)["rows"])

		resp, raw = do(t, app, "GET", "/admin/api/pages?from=2024-06-10&to=2024-06-10", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(t, raw)
		assert.Equal(t, "daily", body["source"])
		assert.Len(t, body["pages"], 2)
	})

	t.Run("daily breakdown", func(t *testing.T) {
		resp, raw := do(t, app, "GET", "/admin/api/pages/daily?page_url="+home+"/hello-world/", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(t, raw)
		assert.Equal(t, home+"/hello-world/", body["page_url"])
		assert.Len(t, body["days"], 2)

		resp, _ = do(t, app, "GET", "/admin/api/pages/daily", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("export", func(t *testing.T) {
		resp, raw := do(t, app, "GET", "/admin/api/pages/export", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="pages-`)
		assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBFPage,Title,Visits,Landings"))
	})
}

func TestOverviewAction(t *testing.T) {
	app, db := newApp(t)
	seed(t, db)

	resp, raw := do(t, app, "GET", "/admin/api/overview?hide_bots=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, raw)
	assert.Len(t, body["top_pages"], 2)
	assert.Len(t, body["countries"], 2)

	refs := body["referrers"].([]any)
	sources := map[string]float64{}
	for _, r := range refs {
		row := r.(map[string]any)
		sources[row["source"].(string)] = row["visits"].(float64)
	}
	assert.Equal(t, float64(1), sources["Google"])
	assert.Equal(t, float64(1), sources["Internal"])
	assert.Equal(t, float64(1), sources["Direct"])
}

func TestAggregateAction(t *testing.T) {
	app, db := newApp(t)
	seed(t, db)

	resp, raw := do(t, app, "POST", "/admin/api/aggregate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, "2024-06-10", body["day"], "defaults to yesterday")
	assert.Equal(t, float64(2), body["rows"])

	last, err := settings.GetLastAggregateDay(db)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", last)

	resp, _ = do(t, app, "POST", "/admin/api/aggregate", map[string]string{"day": "2024-02-30"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, "POST", "/admin/api/aggregate", map[string]string{"from": "2024-06-01"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurgeAction(t *testing.T) {
	app, db := newApp(t)

	testsupport.CreateVisit(t, db, testsupport.VisitFixture{VisitedAt: now.AddDate(0, 0, -100)})
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{VisitedAt: now.AddDate(0, 0, -10)})
	require.NoError(t, db.Create(&aggregation.DailySummary{Day: "2024-01-01", PageURLHash: "h", PageURL: "u", Visits: 1}).Error)

	resp, raw := do(t, app, "POST", "/admin/api/purge", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, float64(testsupport.TestConfig().RetentionDays), body["days"])
	assert.Equal(t, float64(2), body["total"])
	deleted := body["deleted"].(map[string]any)
	assert.Equal(t, float64(1), deleted["visits"])
	assert.Equal(t, float64(1), deleted["daily"])

	resp, raw = do(t, app, "POST", "/admin/api/purge", map[string]int{"days": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode(t, raw)["total"])

	var count int64
	require.NoError(t, db.Model(&visits.Visit{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLogsActions(t *testing.T) {
	app, db := newApp(t)
	logger := testsupport.GetLogger()
	require.NoError(t, diagnostics.Write(db, logger, "older", now.Add(-time.Hour)))
	require.NoError(t, diagnostics.Write(db, logger, "newer", now))

	resp, raw := do(t, app, "GET", "/admin/api/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logs := decode(t, raw)["logs"].([]any)
	require.Len(t, logs, 2)
	assert.Equal(t, "newer", logs[0].(map[string]any)["message"])

	resp, raw = do(t, app, "POST", "/admin/api/logs/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, raw)["deleted"])

	_, raw = do(t, app, "GET", "/admin/api/logs", nil)
	assert.Empty(t, decode(t, raw)["logs"])
}

func TestSettingsActions(t *testing.T) {
	app, db := newApp(t)

	resp, raw := do(t, app, "POST", "/admin/api/settings/ingestion", map[string]string{"excluded_ips": " 203.0.113.5 , ,2001:db8::1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "203.0.113.5,2001:db8::1", decode(t, raw)["excluded_ips"])

	value, err := settings.GetSetting(db, settings.KeyExcludedIPs)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5,2001:db8::1", value)

	excluded, err := settings.IsIPExcluded("203.0.113.5")
	require.NoError(t, err)
	assert.True(t, excluded)

	resp, _ = do(t, app, "POST", "/admin/api/settings/ingestion", map[string]string{"excluded_ips": "not-an-ip"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, raw = do(t, app, "GET", "/admin/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	keys := map[string]string{}
	for _, s := range decode(t, raw)["settings"].([]any) {
		row := s.(map[string]any)
		keys[row["key"].(string)] = row["value"].(string)
	}
	assert.Equal(t, "203.0.113.5,2001:db8::1", keys[settings.KeyExcludedIPs])
}

func TestTestVisitAction(t *testing.T) {
	app, db := newApp(t)

	resp, raw := do(t, app, "POST", "/admin/api/test-visit", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, true, body["recorded"])
	visit := body["visit"].(map[string]any)
	assert.Equal(t, home+"/", visit["page_url"])
	assert.Equal(t, true, visit["is_landing"])

	var count int64
	require.NoError(t, db.Model(&visits.Visit{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHealthIndexAction(t *testing.T) {
	app, db := newApp(t)
	require.NoError(t, settings.SetLastAggregateDay(db, "2024-06-10"))

	req := httptest.NewRequest("GET", "/_health", nil)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := decode(t, raw)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
	assert.Equal(t, "2024-06-10", body["last_aggregate_day"])
}
