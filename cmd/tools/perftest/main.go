// main.go - load generator for the visit ingestion endpoint
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	v1 "usertracker/api/v1"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL      string
	Concurrency  int
	Duration     time.Duration
	VisitsPerSec int
	Timeout      time.Duration
	Devices      int
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

// PerfStats accumulates results. Only the collector goroutine touches it.
type PerfStats struct {
	Total       int64
	Failed      int64
	StatusCodes map[int]int64
	Latencies   []time.Duration
	Start       time.Time
	End         time.Time
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the tracker")
	concurrency := flag.Int("c", 10, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	rate := flag.Int("rate", 0, "Target visits per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	devices := flag.Int("devices", 500, "Number of distinct simulated devices")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &PerfConfig{
		BaseURL:      *baseURL,
		Concurrency:  max(1, *concurrency),
		Duration:     *duration,
		VisitsPerSec: *rate,
		Timeout:      *timeout,
		Devices:      max(1, *devices),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, cfg.Duration)
	defer cancelRun()

	logger.Info("Starting load test",
		slog.String("target", cfg.BaseURL+"/x/api/v1/visits"),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Duration("duration", cfg.Duration),
		slog.Int("rate", cfg.VisitsPerSec))

	stats := &PerfStats{StatusCodes: make(map[int]int64), Start: time.Now()}
	for r := range runTest(ctx, cfg) {
		stats.add(r)
	}
	stats.End = time.Now()

	printResults(os.Stdout, stats)
}

// runTest starts cfg.Concurrency workers and returns their results.
func runTest(ctx context.Context, cfg *PerfConfig) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)
	deviceIDs := make([]string, cfg.Devices)
	for i := range deviceIDs {
		deviceIDs[i] = uuid.NewString()
	}

	var interval time.Duration
	if cfg.VisitsPerSec > 0 {
		interval = time.Duration(float64(time.Second) * float64(cfg.Concurrency) / float64(cfg.VisitsPerSec))
	}

	var wg sync.WaitGroup
	for range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}

			var tick <-chan time.Time
			if interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}

			for {
				if tick != nil {
					select {
					case <-ctx.Done():
						return
					case <-tick:
					}
				} else if ctx.Err() != nil {
					return
				}

				r := sendVisit(ctx, client, cfg.BaseURL, deviceIDs[rand.IntN(len(deviceIDs))])
				if ctx.Err() != nil && r.Error != nil {
					return
				}
				results <- r
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

var samplePaths = []v1.CreateVisitParams{
	{RequestURI: "/", Kind: v1.KindParams{Type: "home"}},
	{RequestURI: "/hello-world/", Kind: v1.KindParams{Type: "singular", PostID: 1, PostType: "post"}},
	{RequestURI: "/about/", Kind: v1.KindParams{Type: "singular", PostID: 2, PostType: "page"}},
	{RequestURI: "/category/news/", Kind: v1.KindParams{Type: "term", TermID: 3, Taxonomy: "category", Slug: "news"}},
	{RequestURI: "/?s=pricing", Kind: v1.KindParams{Type: "search", Query: "pricing"}},
	{RequestURI: "/missing/", Kind: v1.KindParams{Type: "not_found"}},
}

func sendVisit(ctx context.Context, client *http.Client, baseURL, deviceID string) Result {
	params := samplePaths[rand.IntN(len(samplePaths))]
	params.DeviceID = deviceID
	params.SessionID = uuid.NewString()
	params.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	body, err := json.Marshal(params)
	if err != nil {
		return Result{Error: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/x/api/v1/visits", bytes.NewReader(body))
	if err != nil {
		return Result{Error: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("%d.%d.%d.%d", 11+rand.IntN(180), rand.IntN(256), rand.IntN(256), 1+rand.IntN(254)))

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed, Error: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

func (s *PerfStats) add(r Result) {
	s.Total++
	if r.Error != nil || r.StatusCode != http.StatusAccepted {
		s.Failed++
	}
	if r.StatusCode != 0 {
		s.StatusCodes[r.StatusCode]++
	}
	s.Latencies = append(s.Latencies, r.Duration)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i]
}

func printResults(out io.Writer, s *PerfStats) {
	elapsed := s.End.Sub(s.Start)
	lat := slices.Clone(s.Latencies)
	slices.Sort(lat)

	var sum time.Duration
	for _, d := range lat {
		sum += d
	}
	var avg time.Duration
	if len(lat) > 0 {
		avg = sum / time.Duration(len(lat))
	}
	rps := 0.0
	if elapsed > 0 {
		rps = float64(s.Total) / elapsed.Seconds()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "=== Load test results ===")
	fmt.Fprintf(w, "Requests\t%d\n", s.Total)
	fmt.Fprintf(w, "Failed\t%d\n", s.Failed)
	fmt.Fprintf(w, "Elapsed\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Throughput\t%.1f req/s\n", rps)
	fmt.Fprintf(w, "Avg latency\t%v\n", avg)
	fmt.Fprintf(w, "p50\t%v\n", percentile(lat, 0.50))
	fmt.Fprintf(w, "p95\t%v\n", percentile(lat, 0.95))
	fmt.Fprintf(w, "p99\t%v\n", percentile(lat, 0.99))
	if len(lat) > 0 {
		fmt.Fprintf(w, "Max\t%v\n", lat[len(lat)-1])
	}

	codes := make([]int, 0, len(s.StatusCodes))
	for c := range s.StatusCodes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "HTTP %d\t%d\n", c, s.StatusCodes[c])
	}
	w.Flush()
}
