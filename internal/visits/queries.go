package visits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"usertracker/internal/pkg/referrers"
	"usertracker/internal/timeframe"
)

const (
	DefaultPerPage = 20
	MinPerPage     = 5
	MaxPerPage     = 200

	// ExportChunkSize is how many rows export reads per query.
	ExportChunkSize = 5000
)

// ErrPageURLRequired is returned by per-page queries called without one.
var ErrPageURLRequired = errors.New("page_url is required")

// Filter narrows visit queries. From and To are inclusive YYYY-MM-DD days.
type Filter struct {
	Search   string
	From     string
	To       string
	PageURL  string
	HideBots bool
	Page     int
	PerPage  int
}

// Normalize clamps paging values.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PerPage == 0:
		f.PerPage = DefaultPerPage
	case f.PerPage < MinPerPage:
		f.PerPage = MinPerPage
	case f.PerPage > MaxPerPage:
		f.PerPage = MaxPerPage
	}
	f.Search = strings.TrimSpace(f.Search)
	f.PageURL = strings.TrimSpace(f.PageURL)
	return f
}

func (f Filter) apply(q *gorm.DB) (*gorm.DB, error) {
	r, err := timeframe.ParseRange(f.From, f.To)
	if err != nil {
		return nil, err
	}
	if r.HasFrom() {
		q = q.Where("visited_at >= ?", r.From)
	}
	if r.HasTo() {
		q = q.Where("visited_at < ?", r.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		q = q.Where(`(page_url LIKE ? ESCAPE '\' OR ip LIKE ? ESCAPE '\' OR country LIKE ? ESCAPE '\' OR city LIKE ? ESCAPE '\')`,
			like, like, like, like)
	}
	if u := strings.TrimSpace(f.PageURL); u != "" {
		q = q.Where("page_url = ?", u)
	}
	if f.HideBots {
		q = q.Where("is_bot = ?", false)
	}
	return q.Session(&gorm.Session{}), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListResult is one page of visits.
type ListResult struct {
	Items      []Visit `json:"items"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	PerPage    int     `json:"per_page"`
	TotalPages int     `json:"total_pages"`
}

// List returns visits newest first.
func List(ctx context.Context, db *gorm.DB, f Filter) (ListResult, error) {
	f = f.Normalize()
	q, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return ListResult{}, err
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return ListResult{}, fmt.Errorf("count visits: %w", err)
	}

	items := []Visit{}
	err = q.Order("visited_at DESC, id DESC").
		Limit(f.PerPage).
		Offset((f.Page - 1) * f.PerPage).
		Find(&items).Error
	if err != nil {
		return ListResult{}, fmt.Errorf("list visits: %w", err)
	}

	return ListResult{
		Items:      items,
		Total:      total,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: int((total + int64(f.PerPage) - 1) / int64(f.PerPage)),
	}, nil
}

// PageCount is a per-page tally.
type PageCount struct {
	PageURL  string `json:"page_url"`
	PageType string `json:"page_type"`
	Visits   int64  `json:"visits"`
	Landings int64  `json:"landings"`
}

// TopPages counts visits and landings per page URL straight from the raw
// visits, most visited first.
func TopPages(ctx context.Context, db *gorm.DB, f Filter, limit int) ([]PageCount, error) {
	q, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows := []PageCount{}
	err = q.Select("page_url, COALESCE(MAX(page_type), '') AS page_type, COUNT(*) AS visits, COALESCE(SUM(is_landing), 0) AS landings").
		Group("page_url").
		Order("visits DESC, page_url ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top pages: %w", err)
	}
	return rows, nil
}

// DayCount is a per-day tally for one page.
type DayCount struct {
	Day      string `json:"day"`
	Visits   int64  `json:"visits"`
	Landings int64  `json:"landings"`
}

// DailyBreakdown counts a page's visits per UTC day, newest day first.
func DailyBreakdown(ctx context.Context, db *gorm.DB, f Filter) ([]DayCount, error) {
	if strings.TrimSpace(f.PageURL) == "" {
		return nil, ErrPageURLRequired
	}
	q, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return nil, err
	}

	rows := []DayCount{}
	err = q.Select("substr(visited_at, 1, 10) AS day, COUNT(*) AS visits, COALESCE(SUM(is_landing), 0) AS landings").
		Group("day").
		Order("day DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("daily breakdown: %w", err)
	}
	return rows, nil
}

// SourceCount is visits per traffic source.
type SourceCount struct {
	Source string `json:"source"`
	Visits int64  `json:"visits"`
}

// TopReferrers folds referrer URLs into named sources. homeHost marks
// self-referrals as internal.
func TopReferrers(ctx context.Context, db *gorm.DB, f Filter, homeHost string, limit int) ([]SourceCount, error) {
	q, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Referrer string
		Visits   int64
	}
	err = q.Select("COALESCE(referrer, '') AS referrer, COUNT(*) AS visits").
		Group("referrer").
		Scan(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("top referrers: %w", err)
	}

	totals := make(map[string]int64)
	for _, r := range raw {
		totals[referrers.FromURL(r.Referrer, homeHost)] += r.Visits
	}
	return topN(totals, limit), nil
}

// CountryCount is visits per country name.
type CountryCount struct {
	Country string `json:"country"`
	Visits  int64  `json:"visits"`
}

// Countries counts visits per resolved country; unresolved visits are
// reported under "Unknown".
func Countries(ctx context.Context, db *gorm.DB, f Filter, limit int) ([]CountryCount, error) {
	q, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows := []CountryCount{}
	err = q.Select("COALESCE(NULLIF(country, ''), 'Unknown') AS country, COUNT(*) AS visits").
		Group("COALESCE(NULLIF(country, ''), 'Unknown')").
		Order("visits DESC, country ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("countries: %w", err)
	}
	return rows, nil
}

// EachChunk streams filtered visits newest id first, at most size rows per
// call of fn.
func EachChunk(ctx context.Context, db *gorm.DB, f Filter, size int, fn func([]Visit) error) error {
	if size <= 0 {
		size = ExportChunkSize
	}
	base, err := f.apply(db.WithContext(ctx).Model(&Visit{}))
	if err != nil {
		return err
	}

	var lastID uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := base.Session(&gorm.Session{})
		if lastID > 0 {
			q = q.Where("id < ?", lastID)
		}

		var chunk []Visit
		if err := q.Order("id DESC").Limit(size).Find(&chunk).Error; err != nil {
			return fmt.Errorf("read visit chunk: %w", err)
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		if len(chunk) < size {
			return nil
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

func topN(totals map[string]int64, limit int) []SourceCount {
	if limit <= 0 {
		limit = 20
	}
	out := make([]SourceCount, 0, len(totals))
	for source, n := range totals {
		out = append(out, SourceCount{Source: source, Visits: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
