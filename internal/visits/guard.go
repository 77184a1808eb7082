package visits

import (
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
)

// SkipReason says why a page view was not recorded.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipAdmin        SkipReason = "admin"
	SkipFeed         SkipReason = "feed"
	SkipPreview      SkipReason = "preview"
	SkipAPI          SkipReason = "api"
	SkipExcludedPath SkipReason = "excluded_path"
	SkipDoNotTrack   SkipReason = "do_not_track"
	SkipExcludedIP   SkipReason = "excluded_ip"
)

// PathExcluder matches request paths against configured patterns.
// Patterns are compiled lazily and kept for the life of the excluder.
type PathExcluder struct {
	patterns []string

	mu       sync.RWMutex
	compiled map[string]*pcre.Regexp
}

// NewPathExcluder validates every pattern up front so a bad configuration
// fails at startup rather than on the first request.
func NewPathExcluder(patterns []string) (*PathExcluder, error) {
	e := &PathExcluder{compiled: make(map[string]*pcre.Regexp)}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := e.get(p); err != nil {
			return nil, fmt.Errorf("invalid excluded path pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, p)
	}
	return e, nil
}

// Match reports whether path matches any pattern.
func (e *PathExcluder) Match(path string) bool {
	if e == nil {
		return false
	}
	for _, p := range e.patterns {
		re, err := e.get(p)
		if err != nil {
			continue
		}
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (e *PathExcluder) get(pattern string) (*pcre.Regexp, error) {
	e.mu.RLock()
	if re, ok := e.compiled[pattern]; ok {
		e.mu.RUnlock()
		return re, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.compiled[pattern]; ok {
		return re, nil
	}
	re, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.compiled[pattern] = re
	return re, nil
}
