// Package export writes visit and page reports as CSV or XLSX.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"usertracker/internal/pages"
	"usertracker/internal/visits"
)

type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
)

const (
	visitsSheet = "User Visits"
	pagesSheet  = "Pages"
	timeLayout  = "2006-01-02 15:04:05"
	utf8BOM     = "\xEF\xBB\xBF"
)

var (
	visitHeader = []string{"ID", "User", "Device", "Session", "IP", "Country", "Region", "City", "Page", "IsLanding", "Visited At"}
	pageHeader  = []string{"Page", "Title", "Visits", "Landings"}
)

// ParseFormat accepts "csv" or "xlsx", defaulting to CSV when empty.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case XLSX:
		return XLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	if f == XLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds a dated download name like "user-visits-2024-05-01.csv".
func Filename(base string, f Format, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", base, at.UTC().Format("2006-01-02"), f)
}

// PageRow is one line of a page report.
type PageRow struct {
	PageURL  string
	PageType string
	Visits   int64
	Landings int64
}

type tableWriter interface {
	WriteRow(cells []string) error
	Close() error
}

func newTableWriter(w io.Writer, f Format, sheet string, header []string) (tableWriter, error) {
	var tw tableWriter
	switch f {
	case XLSX:
		tw = newXLSXWriter(w, sheet)
	case CSV:
		cw, err := newCSVWriter(w)
		if err != nil {
			return nil, err
		}
		tw = cw
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
	if err := tw.WriteRow(header); err != nil {
		return nil, err
	}
	return tw, nil
}

// Visits writes every visit matching filter, reading the store in chunks.
func Visits(ctx context.Context, db *gorm.DB, filter visits.Filter, f Format, w io.Writer) (int, error) {
	tw, err := newTableWriter(w, f, visitsSheet, visitHeader)
	if err != nil {
		return 0, err
	}

	written := 0
	err = visits.EachChunk(ctx, db, filter, visits.ExportChunkSize, func(chunk []visits.Visit) error {
		for i := range chunk {
			if err := tw.WriteRow(visitRecord(&chunk[i])); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return written, fmt.Errorf("export visits: %w", err)
	}
	return written, tw.Close()
}

// Pages writes a page report.
func Pages(rows []PageRow, f Format, w io.Writer) error {
	tw, err := newTableWriter(w, f, pagesSheet, pageHeader)
	if err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.PageURL,
			pages.Label(r.PageType, r.PageURL),
			strconv.FormatInt(r.Visits, 10),
			strconv.FormatInt(r.Landings, 10),
		}
		if err := tw.WriteRow(record); err != nil {
			return err
		}
	}
	return tw.Close()
}

func visitRecord(v *visits.Visit) []string {
	user := "Guest"
	if v.UserID != nil {
		user = strconv.FormatUint(*v.UserID, 10)
	}
	landing := "No"
	if v.IsLanding {
		landing = "Yes"
	}
	return []string{
		strconv.FormatUint(v.ID, 10),
		user,
		str(v.DeviceID),
		str(v.SessionID),
		v.IP,
		str(v.Country),
		str(v.Region),
		str(v.City),
		v.PageURL,
		landing,
		v.VisitedAt.UTC().Format(timeLayout),
	}
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type csvWriter struct {
	w *csv.Writer
}

func newCSVWriter(w io.Writer) (*csvWriter, error) {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return nil, err
	}
	return &csvWriter{w: csv.NewWriter(w)}, nil
}

func (c *csvWriter) WriteRow(cells []string) error {
	safe := make([]string, len(cells))
	for i, cell := range cells {
		safe[i] = SanitizeCell(cell)
	}
	return c.w.Write(safe)
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

// SanitizeCell prefixes values a spreadsheet would evaluate as a formula
// with a single quote.
func SanitizeCell(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

type xlsxWriter struct {
	out   io.Writer
	file  *excelize.File
	sheet string
	row   int
}

func newXLSXWriter(w io.Writer, sheet string) *xlsxWriter {
	file := excelize.NewFile()
	file.SetSheetName(file.GetSheetName(0), sheet)
	return &xlsxWriter{out: w, file: file, sheet: sheet}
}

func (x *xlsxWriter) WriteRow(cells []string) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	return x.file.SetSheetRow(x.sheet, cell, &cells)
}

func (x *xlsxWriter) Close() error {
	defer x.file.Close()
	if _, err := x.file.WriteTo(x.out); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
