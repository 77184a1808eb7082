package referrers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFriendlyName(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		{"google.com", "Google"},
		{"news.ycombinator.com", "Hacker News"},
		{"t.co", "X/Twitter"},
		{"www.reddit.com", "Reddit"},

		// Subdomains of known referrers
		{"m.facebook.com", "Facebook"},
		{"mobile.twitter.com", "X/Twitter"},

		// Unknown referrers
		{"example.com", "Example.com"},
		{"www.example.com", "Example.com"},

		{"GOOGLE.COM", "Google"},
		{"", Direct},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			assert.Equal(t, tt.expected, FriendlyName(tt.hostname))
		})
	}
}

func TestFromURL(t *testing.T) {
	assert.Equal(t, Direct, FromURL("", "example.com"))
	assert.Equal(t, Direct, FromURL("not a url", "example.com"))
	assert.Equal(t, "Google", FromURL("https://www.google.com/search?q=x", "example.com"))
	assert.Equal(t, Internal, FromURL("https://www.example.com/about/", "example.com"))
	assert.Equal(t, "Myblog.io", FromURL("http://myblog.io/post", ""))
}
