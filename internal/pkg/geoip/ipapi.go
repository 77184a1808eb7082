package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"usertracker/internal/metrics"
)

const rawSnippetLen = 200

// NonSuccessError is returned when ip-api answers but does not report
// "success" for the address (reserved ranges, quota, bad input).
type NonSuccessError struct {
	IP  string
	Raw string
}

func (e *NonSuccessError) Error() string {
	return fmt.Sprintf("ip-api non-success for IP %s raw: %s", e.IP, e.Raw)
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

// IPAPILookup queries an ip-api.com compatible endpoint. Calls go through
// a circuit breaker so a dead upstream fails fast instead of costing every
// page view the full timeout.
type IPAPILookup struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[Location]
	logger  *slog.Logger
}

// NewIPAPILookup creates a lookup against baseURL (e.g. http://ip-api.com).
func NewIPAPILookup(baseURL string, timeout time.Duration, logger *slog.Logger) *IPAPILookup {
	if logger == nil {
		logger = slog.Default()
	}
	l := &IPAPILookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}

	l.breaker = gobreaker.NewCircuitBreaker[Location](gobreaker.Settings{
		Name:        "ip-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var nonSuccess *NonSuccessError
			return err == nil || errors.As(err, &nonSuccess)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.GeoBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Geo lookup circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return l
}

// Lookup implements Lookup.
func (l *IPAPILookup) Lookup(ctx context.Context, ip string) (Location, error) {
	loc, err := l.breaker.Execute(func() (Location, error) {
		return l.fetch(ctx, ip)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Location{}, fmt.Errorf("ip-api unavailable for IP %s: %w", ip, err)
	}
	return loc, err
}

func (l *IPAPILookup) fetch(ctx context.Context, ip string) (Location, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,country,regionName,city", l.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("ip-api request for IP %s: %w", ip, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("ip-api request failed for IP %s: %w", ip, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Location{}, fmt.Errorf("ip-api read failed for IP %s: %w", ip, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Location{}, fmt.Errorf("ip-api HTTP %d for IP %s raw: %s", resp.StatusCode, ip, snippet(body))
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Location{}, fmt.Errorf("ip-api malformed response for IP %s raw: %s", ip, snippet(body))
	}

	if parsed.Status != "success" {
		return Location{}, &NonSuccessError{IP: ip, Raw: snippet(body)}
	}

	return Location{
		Country: parsed.Country,
		Region:  parsed.RegionName,
		City:    parsed.City,
	}, nil
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > rawSnippetLen {
		s = s[:rawSnippetLen]
	}
	return s
}
