package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"usertracker/internal/export"
	"usertracker/internal/testsupport"
	"usertracker/internal/visits"
)

func TestVisitsCSV(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{
		PageURL: "https://example.com/=cmd", DeviceID: "dev-1", SessionID: "sess-1",
		Country: "Spain", IsLanding: true, VisitedAt: at,
	})
	uid := uint64(42)
	v := testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: "https://example.com/b", VisitedAt: at.Add(time.Minute)})
	require.NoError(t, db.Model(&visits.Visit{}).Where("id = ?", v.ID).Update("user_id", uid).Error)

	var buf bytes.Buffer
	n, err := export.Visits(context.Background(), db, visits.Filter{}, export.CSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\xEF\xBB\xBF"), "starts with a BOM")

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"ID", "User", "Device", "Session", "IP", "Country", "Region", "City", "Page", "IsLanding", "Visited At"}, records[0])

	// Newest first.
	assert.Equal(t, "42", records[1][1])
	assert.Equal(t, "No", records[1][9])
	assert.Equal(t, "Guest", records[2][1])
	assert.Equal(t, "dev-1", records[2][2])
	assert.Equal(t, "Spain", records[2][5])
	assert.Equal(t, "Yes", records[2][9])
	assert.Equal(t, "2024-05-01 08:30:00", records[2][10])
}

func TestVisitsXLSX(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CreateVisit(t, db, testsupport.VisitFixture{PageURL: "https://example.com/x"})

	var buf bytes.Buffer
	n, err := export.Visits(context.Background(), db, visits.Filter{}, export.XLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("User Visits")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "https://example.com/x", rows[1][8])
}

func TestPagesCSV(t *testing.T) {
	var buf bytes.Buffer
	err := export.Pages([]export.PageRow{
		{PageURL: "https://example.com/hello-world/", PageType: "post", Visits: 12, Landings: 3},
	}, export.CSV, &buf)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Page", "Title", "Visits", "Landings"},
		{"https://example.com/hello-world/", "Hello World", "12", "3"},
	}, records)
}

func TestSanitizeCell(t *testing.T) {
	for in, want := range map[string]string{
		"=SUM(A1)": "'=SUM(A1)",
		"+1":       "'+1",
		"-2":       "'-2",
		"@x":       "'@x",
		"plain":    "plain",
		"":         "",
	} {
		assert.Equal(t, want, export.SanitizeCell(in), in)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := export.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, export.CSV, f)

	f, err = export.ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, export.XLSX, f)

	_, err = export.ParseFormat("pdf")
	assert.Error(t, err)

	assert.Equal(t, "user-visits-2024-05-01.xlsx", export.Filename("user-visits", export.XLSX, time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)))
}
