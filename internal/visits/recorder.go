package visits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"usertracker/internal/diagnostics"
	"usertracker/internal/metrics"
	"usertracker/internal/pages"
	"usertracker/internal/pkg/geoip"
	"usertracker/internal/pkg/user_agent"
	"usertracker/internal/settings"
	"usertracker/internal/timeframe"
)

const (
	maxIPLength  = 45
	maxUTMLength = 100
)

var utmKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// ErrNoSession is returned by UpdateSessionGeo without a session id.
var ErrNoSession = errors.New("session id required")

// ErrInvalidCoordinates is returned for latitudes or longitudes out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// RequestContext is everything the recorder needs to know about one page
// view. The HTTP layer builds it from the submitted payload, headers and
// cookies.
type RequestContext struct {
	Page pages.Request

	UserID    *uint64
	DeviceID  string
	SessionID string

	IP        string
	UserAgent string
	Referrer  string
	// Query holds the page's query parameters. When nil they are parsed
	// from Page.RequestURI.
	Query url.Values
	// DoNotTrack is the raw DNT header value.
	DoNotTrack string

	IsAdmin   bool
	IsFeed    bool
	IsPreview bool
	IsAPI     bool
}

func (rc RequestContext) path() string {
	uri := rc.Page.RequestURI
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

func (rc RequestContext) query() url.Values {
	if rc.Query != nil {
		return rc.Query
	}
	if i := strings.IndexByte(rc.Page.RequestURI, '?'); i >= 0 {
		if q, err := url.ParseQuery(rc.Page.RequestURI[i+1:]); err == nil {
			return q
		}
	}
	return url.Values{}
}

// GeoResolver is the subset of geoip.Resolver the recorder uses.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) geoip.Location
}

// RecorderOptions wires a Recorder.
type RecorderOptions struct {
	Pages         *pages.Classifier
	Bots          *user_agent.BotClassifier
	Geo           GeoResolver
	ExcludedPaths *PathExcluder
	Diagnostics   diagnostics.Logger
	TimeProvider  timeframe.TimeProvider
}

// Recorder turns page views into Visit rows.
type Recorder struct {
	db       *gorm.DB
	logger   *slog.Logger
	pages    *pages.Classifier
	bots     *user_agent.BotClassifier
	geo      GeoResolver
	identity *IdentityTracker
	excluded *PathExcluder
	diag     diagnostics.Logger
	clock    timeframe.TimeProvider
}

func NewRecorder(db *gorm.DB, logger *slog.Logger, opts RecorderOptions) *Recorder {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &timeframe.DefaultTimeProvider{}
	}
	if opts.Bots == nil {
		bots, err := user_agent.Default()
		if err != nil {
			logger.Error("Failed to load bot patterns", slog.Any("error", err))
			bots = user_agent.NewBotClassifier(nil)
		}
		opts.Bots = bots
	}
	return &Recorder{
		db:       db,
		logger:   logger,
		pages:    opts.Pages,
		bots:     opts.Bots,
		geo:      opts.Geo,
		identity: NewIdentityTracker(db),
		excluded: opts.ExcludedPaths,
		diag:     opts.Diagnostics,
		clock:    opts.TimeProvider,
	}
}

// SkipReason returns why rc would not be recorded, or SkipNone.
func (r *Recorder) SkipReason(rc RequestContext) SkipReason {
	switch {
	case rc.IsAdmin:
		return SkipAdmin
	case rc.IsFeed:
		return SkipFeed
	case rc.IsPreview:
		return SkipPreview
	case rc.IsAPI:
		return SkipAPI
	case r.excluded.Match(rc.path()):
		return SkipExcludedPath
	case strings.TrimSpace(rc.DoNotTrack) == "1":
		return SkipDoNotTrack
	}

	excluded, err := settings.IsIPExcluded(rc.IP)
	if err != nil {
		r.logger.Warn("Failed to check excluded IPs", slog.Any("error", err))
	}
	if excluded {
		return SkipExcludedIP
	}
	return SkipNone
}

// Record stores one visit. Skipped page views return (nil, nil) and write
// nothing. A failed insert is reported to the diagnostics log and returned.
func (r *Recorder) Record(ctx context.Context, rc RequestContext) (*Visit, error) {
	if reason := r.SkipReason(rc); reason != SkipNone {
		metrics.VisitsSkippedTotal.WithLabelValues(string(reason)).Inc()
		r.logger.Debug("Page view skipped", slog.String("reason", string(reason)))
		return nil, nil
	}

	visitedAt := r.clock.Now(time.UTC)

	page := r.pages.Classify(rc.Page)
	isBot, botName := r.bots.Classify(rc.UserAgent)

	var loc geoip.Location
	if r.geo != nil && geoip.IsResolvable(rc.IP) {
		loc = r.geo.Resolve(ctx, rc.IP)
	}

	isLanding := r.firstVisit(ctx, rc.DeviceID, ScopeDevice)
	isSessionLanding := r.firstVisit(ctx, rc.SessionID, ScopeSession)

	ip := strings.TrimSpace(rc.IP)
	if ip == "" {
		ip = "0.0.0.0"
	}

	visit := &Visit{
		UserID:           rc.UserID,
		DeviceID:         strPtr(rc.DeviceID),
		SessionID:        strPtr(rc.SessionID),
		IP:               truncate(ip, maxIPLength),
		Country:          strPtr(loc.Country),
		Region:           strPtr(loc.Region),
		City:             strPtr(loc.City),
		PageID:           page.ID,
		PageType:         strPtr(page.Type),
		PageURL:          page.URL,
		PageURLHash:      page.URLHash,
		Referrer:         strPtr(strings.TrimSpace(rc.Referrer)),
		IsLanding:        isLanding,
		IsSessionLanding: isSessionLanding,
		IsBot:            isBot,
		BotName:          strPtr(botName),
		VisitedAt:        visitedAt,
	}
	applyUTM(visit, rc.query())

	err := sqlite.PerformWrite(r.logger, r.db, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Create(visit).Error
	})
	if err != nil {
		metrics.VisitInsertErrorsTotal.Inc()
		r.logger.Error("Failed to insert visit",
			slog.String("page_url", page.URL),
			slog.Any("error", err))
		if r.diag != nil {
			r.diag.Log("DB insert failed: " + err.Error())
		}
		return nil, fmt.Errorf("insert visit: %w", err)
	}

	metrics.VisitsRecordedTotal.WithLabelValues(strconv.FormatBool(isBot)).Inc()
	r.logger.Debug("Visit recorded",
		slog.String("kind", pages.KindName(rc.Page.Kind)),
		slog.String("page_url", page.URL),
		slog.Bool("landing", isLanding))
	return visit, nil
}

// firstVisit treats lookup failures as "seen before" so a broken query
// never inflates landing counts.
func (r *Recorder) firstVisit(ctx context.Context, id string, scope Scope) bool {
	first, err := r.identity.IsFirstVisit(ctx, id, scope)
	if err != nil {
		r.logger.Warn("First-visit check failed",
			slog.String("scope", string(scope)),
			slog.Any("error", err))
		return false
	}
	return first
}

func applyUTM(v *Visit, q url.Values) {
	values := make([]*string, len(utmKeys))
	for i, key := range utmKeys {
		values[i] = strPtr(truncate(strings.TrimSpace(q.Get(key)), maxUTMLength))
	}
	v.UTMSource, v.UTMMedium, v.UTMCampaign, v.UTMTerm, v.UTMContent =
		values[0], values[1], values[2], values[3], values[4]
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// UpdateSessionGeo stores browser-reported coordinates on the most recent
// visit of a session. It reports whether a row was updated; a session with
// no visits is not an error.
func UpdateSessionGeo(ctx context.Context, db *gorm.DB, logger *slog.Logger, sessionID string, lat, lng float64) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrNoSession
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return false, fmt.Errorf("%w: lat=%f lng=%f", ErrInvalidCoordinates, lat, lng)
	}

	var updated int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Exec(`
			UPDATE user_visits SET geo_lat = ?, geo_lng = ?
			WHERE id = (
				SELECT id FROM user_visits
				WHERE session_id = ?
				ORDER BY visited_at DESC, id DESC
				LIMIT 1
			)`, lat, lng, sessionID)
		updated = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("update session geo: %w", err)
	}
	return updated > 0, nil
}
