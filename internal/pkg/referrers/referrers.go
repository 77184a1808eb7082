// Package referrers turns referrer URLs into traffic source names for
// reports.
package referrers

import (
	"net/url"
	"strings"
)

const (
	// Direct is the source of visits without a referrer.
	Direct = "Direct"
	// Internal is the source of visits referred by the tracked site itself.
	Internal = "Internal"
)

// sources groups the hostnames each well-known source is reached from.
var sources = map[string][]string{
	"Google":     {"google.com", "google.co.uk", "google.de", "google.fr", "google.es", "google.it", "google.ca", "google.com.au", "google.co.jp", "google.com.br"},
	"Bing":       {"bing.com"},
	"DuckDuckGo": {"duckduckgo.com"},
	"Yahoo":      {"yahoo.com"},
	"Baidu":      {"baidu.com"},
	"Yandex":     {"yandex.ru"},
	"Ecosia":     {"ecosia.org"},
	"Kagi":       {"kagi.com"},

	"X/Twitter": {"x.com", "twitter.com", "t.co"},
	"Facebook":  {"facebook.com", "fb.com", "l.facebook.com", "lm.facebook.com"},
	"Instagram": {"instagram.com", "l.instagram.com"},
	"LinkedIn":  {"linkedin.com", "lnkd.in"},
	"TikTok":    {"tiktok.com"},
	"Pinterest": {"pinterest.com"},
	"Reddit":    {"reddit.com", "old.reddit.com"},
	"Threads":   {"threads.net"},
	"Bluesky":   {"bsky.app"},
	"Mastodon":  {"mastodon.social"},
	"YouTube":   {"youtube.com", "youtu.be"},
	"Discord":   {"discord.com", "discordapp.com"},
	"WhatsApp":  {"whatsapp.com"},
	"Telegram":  {"telegram.org", "t.me"},

	"Hacker News":    {"news.ycombinator.com", "hn.algolia.com"},
	"Lobsters":       {"lobste.rs"},
	"Product Hunt":   {"producthunt.com"},
	"DEV Community":  {"dev.to"},
	"Medium":         {"medium.com"},
	"Substack":       {"substack.com"},
	"GitHub":         {"github.com"},
	"Stack Overflow": {"stackoverflow.com"},
	"WordPress.org":  {"wordpress.org"},

	"Gmail":       {"mail.google.com"},
	"Outlook":     {"outlook.live.com", "outlook.office.com"},
	"Proton Mail": {"protonmail.com", "mail.proton.me"},
	"Bitly":       {"bit.ly"},
}

var byHost = func() map[string]string {
	m := make(map[string]string)
	for name, hosts := range sources {
		for _, h := range hosts {
			m[h] = name
		}
	}
	return m
}()

// FriendlyName returns a display name for a referrer hostname. Unknown
// hosts come back without "www." and with the first letter capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if hostname == "" {
		return Direct
	}
	if name, ok := byHost[hostname]; ok {
		return name
	}
	hostname = strings.TrimPrefix(hostname, "www.")
	if name, ok := byHost[hostname]; ok {
		return name
	}

	// Longest known parent domain wins so results do not depend on map order.
	best := ""
	for h := range byHost {
		if strings.HasSuffix(hostname, "."+h) && len(h) > len(best) {
			best = h
		}
	}
	if best != "" {
		return byHost[best]
	}
	return strings.ToUpper(hostname[:1]) + hostname[1:]
}

// FromURL names the source of a referrer URL. homeHost, when set, marks
// referrers from the tracked site as Internal.
func FromURL(referrer, homeHost string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return Direct
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return Direct
	}
	host := strings.ToLower(u.Hostname())
	if homeHost != "" && strings.TrimPrefix(host, "www.") == strings.TrimPrefix(strings.ToLower(homeHost), "www.") {
		return Internal
	}
	return FriendlyName(host)
}
