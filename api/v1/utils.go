package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders are consulted after X-Forwarded-For, in order.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP returns the first public address found in the proxy headers
// or the connection, preferring IPv4. It returns "" when the request only
// carries private or loopback addresses.
func getClientIP(c *fiber.Ctx) string {
	if ip := selectPreferredIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	return selectPreferredIP([]string{c.Context().RemoteAddr().String(), c.IP()})
}

func isPublicAddr(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsUnspecified()
}

func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		addr, ok := normalizeIP(raw)
		if !ok || !isPublicAddr(addr) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if ipv6Fallback == "" {
			ipv6Fallback = addr.String()
		}
	}

	return ipv6Fallback
}

// normalizeIP parses an address as it appears in proxy headers: quoted,
// bracketed, with a port or a zone, or IPv4-mapped.
func normalizeIP(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), `"`)
	if clean == "" {
		return netip.Addr{}, false
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().WithZone("").Unmap(), true
	}

	trimmed := strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return addr.WithZone("").Unmap(), true
	}

	if host, _, err := net.SplitHostPort(clean); err == nil && host != clean {
		return normalizeIP(host)
	}

	return netip.Addr{}, false
}

func parseForwardedHeader(header string) []string {
	var candidates []string
	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if len(part) > 4 && strings.EqualFold(part[:4], "for=") {
				candidates = append(candidates, part[4:])
			}
		}
	}
	return candidates
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}
