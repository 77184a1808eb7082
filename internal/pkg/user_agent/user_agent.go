package user_agent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed database/bots.yml
var databaseFiles embed.FS

// BotClassifier flags crawler traffic by ordered substring match.
type BotClassifier struct {
	patterns []string
}

// NewBotClassifier builds a classifier from an explicit ordered list.
// Patterns are lower-cased; blanks are skipped.
func NewBotClassifier(patterns []string) *BotClassifier {
	clean := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			clean = append(clean, p)
		}
	}
	return &BotClassifier{patterns: clean}
}

// Classify returns whether userAgent belongs to a bot and, if so, the
// pattern that matched first.
func (c *BotClassifier) Classify(userAgent string) (bool, string) {
	if userAgent == "" {
		return false, ""
	}
	ua := strings.ToLower(userAgent)
	for _, p := range c.patterns {
		if strings.Contains(ua, p) {
			return true, p
		}
	}
	return false, ""
}

var (
	defaultClassifier *BotClassifier
	loadErr           error
	once              sync.Once
)

// Default returns the classifier backed by the embedded pattern list.
func Default() (*BotClassifier, error) {
	once.Do(func() {
		data, err := databaseFiles.ReadFile("database/bots.yml")
		if err != nil {
			loadErr = fmt.Errorf("read bot patterns: %w", err)
			return
		}
		var patterns []string
		if err := yaml.Unmarshal(data, &patterns); err != nil {
			loadErr = fmt.Errorf("parse bot patterns: %w", err)
			return
		}
		defaultClassifier = NewBotClassifier(patterns)
	})
	return defaultClassifier, loadErr
}
