// Package seeder fills a database with plausible visit history for local
// development and demos. Page views go through the real recorder so landing
// flags, bot detection and page identity match production rows.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"usertracker/internal/pages"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/services"
	"usertracker/internal/timeframe"
	"usertracker/internal/visits"
)

const (
	DefaultVisitCount  = 5000
	DefaultDays        = 30
	avgPagesPerSession = 4
)

// Seeder generates sessions of page views spread over the last Days days.
type Seeder struct {
	Services   *services.Services
	Logger     *slog.Logger
	VisitCount int
	Days       int
	// Aggregate rebuilds the daily summaries for the seeded window.
	Aggregate bool
}

// Result summarizes a seeding run.
type Result struct {
	Sessions int
	Recorded int
	Skipped  int
	Days     int
}

// NewSeeder creates a seeder over the application's service graph.
func NewSeeder(svc *services.Services, logger *slog.Logger, visitCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if visitCount <= 0 {
		visitCount = DefaultVisitCount
	}
	return &Seeder{
		Services:   svc,
		Logger:     logger,
		VisitCount: visitCount,
		Days:       DefaultDays,
		Aggregate:  true,
	}
}

// session is one simulated browsing session.
type session struct {
	start     time.Time
	deviceID  string
	sessionID string
	ip        string
	userAgent string
	referrer  string
	journey   []step
}

type step struct {
	kind pages.Kind
	uri  string
}

// Run records the generated page views in chronological order.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	if s.Services == nil {
		return Result{}, errors.New("seeder: services are required")
	}
	started := time.Now()
	days := s.Days
	if days <= 0 {
		days = DefaultDays
	}

	now := s.Services.Clock.Now(time.UTC)
	sessions := s.plan(now, days)

	clock := &seedClock{}
	recorder := visits.NewRecorder(s.Services.DB, s.Logger, visits.RecorderOptions{
		Pages:        s.Services.Pages,
		Geo:          fixedGeo{},
		Diagnostics:  s.Services.Diagnostics,
		TimeProvider: clock,
	})

	s.Logger.Info("Seeding visits",
		slog.Int("sessions", len(sessions)),
		slog.Int("target_visits", s.VisitCount),
		slog.Int("days", days))

	res := Result{Sessions: len(sessions), Days: days}
	for _, sess := range sessions {
		at := sess.start
		for _, st := range sess.journey {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			clock.now = at
			v, err := recorder.Record(ctx, visits.RequestContext{
				Page:      pages.Request{Kind: st.kind, RequestURI: st.uri},
				DeviceID:  sess.deviceID,
				SessionID: sess.sessionID,
				IP:        sess.ip,
				UserAgent: sess.userAgent,
				Referrer:  sess.referrer,
			})
			if err != nil {
				return res, fmt.Errorf("seed visit: %w", err)
			}
			if v == nil {
				res.Skipped++
			} else {
				res.Recorded++
			}
			// Later pages in a session are internal navigation.
			sess.referrer = s.Services.Config.HomeURL
			at = at.Add(time.Duration(15+rand.IntN(180)) * time.Second)
		}
	}

	if s.Aggregate {
		to := timeframe.Yesterday(s.Services.Clock)
		from := timeframe.FormatDay(now.AddDate(0, 0, -days))
		rows, err := s.Services.Aggregator.AggregateRange(ctx, from, to)
		if err != nil {
			return res, fmt.Errorf("aggregate seeded days: %w", err)
		}
		s.Logger.Info("Aggregated seeded days", slog.String("from", from), slog.String("to", to), slog.Int("rows", rows))
	}

	s.Logger.Info("Seeding completed",
		slog.Int("recorded", res.Recorded),
		slog.Int("skipped", res.Skipped),
		slog.Duration("elapsed", time.Since(started)))
	return res, nil
}

// plan builds sessions sorted by start time. Returning devices reuse an
// earlier device id so only their first session lands.
func (s *Seeder) plan(now time.Time, days int) []*session {
	n := s.VisitCount / avgPagesPerSession
	if n < 1 {
		n = 1
	}

	ips := generateIPPool(max(10, n/3))
	agents := userAgents()
	refs := referrers()
	journeys := journeyTemplates()
	window := time.Duration(days) * 24 * time.Hour

	var devices []string
	out := make([]*session, 0, n)
	for range n {
		device := uuid.NewString()
		if len(devices) > 0 && rand.IntN(3) == 0 {
			device = devices[rand.IntN(len(devices))]
		} else {
			devices = append(devices, device)
		}

		out = append(out, &session{
			start:     now.Add(-time.Duration(rand.Int64N(int64(window)))),
			deviceID:  device,
			sessionID: uuid.NewString(),
			ip:        ips[rand.IntN(len(ips))],
			userAgent: agents[rand.IntN(len(agents))],
			referrer:  refs[rand.IntN(len(refs))],
			journey:   journeys[rand.IntN(len(journeys))],
		})
	}

	slices.SortFunc(out, func(a, b *session) int { return a.start.Compare(b.start) })
	return out
}

type seedClock struct {
	now time.Time
}

func (c *seedClock) Now(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return c.now.In(loc)
}

// fixedGeo assigns each address a stable location without any lookup.
type fixedGeo struct{}

var seedLocations = []geoip.Location{
	{Country: "United States", Region: "California", City: "San Francisco"},
	{Country: "United States", Region: "New York", City: "New York"},
	{Country: "Germany", Region: "Berlin", City: "Berlin"},
	{Country: "Spain", Region: "Madrid", City: "Madrid"},
	{Country: "France", Region: "Île-de-France", City: "Paris"},
	{Country: "United Kingdom", Region: "England", City: "London"},
	{Country: "Brazil", Region: "São Paulo", City: "São Paulo"},
	{Country: "Japan", Region: "Tokyo", City: "Tokyo"},
	{},
}

func (fixedGeo) Resolve(_ context.Context, ip string) geoip.Location {
	var sum int
	for _, b := range []byte(ip) {
		sum += int(b)
	}
	return seedLocations[sum%len(seedLocations)]
}

func journeyTemplates() [][]step {
	home := step{kind: pages.Home{}, uri: "/"}
	post := func(id int64, slug string) step {
		return step{kind: pages.Singular{PostID: id, PostType: "post"}, uri: "/" + slug + "/"}
	}
	page := func(id int64, slug string) step {
		return step{kind: pages.Singular{PostID: id, PostType: "page"}, uri: "/" + slug + "/"}
	}
	category := func(id int64, slug string) step {
		return step{kind: pages.Term{TermID: id, Taxonomy: "category", Slug: slug}, uri: "/category/" + slug + "/"}
	}
	search := func(q string) step {
		return step{kind: pages.Search{Query: q}, uri: "/?s=" + url.QueryEscape(q)}
	}
	campaign := step{kind: pages.Singular{PostID: 42, PostType: "page"}, uri: "/pricing/?utm_source=newsletter&utm_medium=email&utm_campaign=spring_sale"}

	return [][]step{
		{home, page(2, "about"), page(3, "contact")},
		{home, category(5, "news"), post(10, "hello-world"), post(11, "release-notes")},
		{post(10, "hello-world"), home},
		{search("pricing"), campaign},
		{campaign, page(2, "about")},
		{home, step{kind: pages.DateArchive{Year: 2024, Month: 5}, uri: "/2024/05/"}, post(12, "may-update")},
		{step{kind: pages.NotFound{}, uri: "/old-link/"}, home},
		{category(6, "guides"), post(13, "getting-started"), post(14, "advanced-setup"), page(3, "contact")},
		{home},
	}
}

func generateIPPool(count int) []string {
	seen := make(map[string]bool, count)
	ips := make([]string, 0, count)
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", 11+rand.IntN(180), rand.IntN(256), rand.IntN(256), 1+rand.IntN(254))
		if geoip.IsResolvable(ip) && !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func userAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		"Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)",
	}
}

func referrers() []string {
	return []string{
		"",
		"",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
		"https://t.co/abc123",
		"https://www.facebook.com/",
		"https://news.ycombinator.com/",
		"https://github.com/",
	}
}
