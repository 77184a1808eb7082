package v1

import (
	"io"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIPVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain ipv4", raw: "79.144.65.173", want: "79.144.65.173"},
		{name: "ipv4 with spaces", raw: " 79.144.65.173 ", want: "79.144.65.173"},
		{name: "quoted ipv4", raw: "\"79.144.65.173\"", want: "79.144.65.173"},
		{name: "ipv4 with port", raw: "79.144.65.173:443", want: "79.144.65.173"},
		{name: "quoted forwarded ipv4", raw: "\"79.144.65.173:1234\"", want: "79.144.65.173"},
		{name: "ipv6 literal", raw: "2001:db8::1", want: "2001:db8::1"},
		{name: "ipv6 in brackets", raw: "[2001:db8::1]", want: "2001:db8::1"},
		{name: "ipv6 with port", raw: "[2001:db8::1]:8443", want: "2001:db8::1"},
		{name: "ipv6 with zone", raw: "fe80::1%eth0", want: "fe80::1"},
		{name: "ipv4 mapped ipv6", raw: "::ffff:203.0.113.9", want: "203.0.113.9"},
		{name: "invalid value", raw: "not-an-ip", want: ""},
		{name: "empty", raw: "   ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, ok := normalizeIP(tc.raw)
			if tc.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tc.want, addr.String())
		})
	}
}

func TestSelectPreferredIP(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{
			name:   "prefers public ipv4 over ipv6",
			values: []string{"2001:db8::1", "203.0.113.20"},
			want:   "203.0.113.20",
		},
		{
			name:   "skips private addresses",
			values: []string{"192.168.1.10", "10.0.0.5", "::1", "198.51.100.7"},
			want:   "198.51.100.7",
		},
		{
			name:   "skips mapped private addresses",
			values: []string{"::ffff:192.168.1.5", "::ffff:8.8.8.8"},
			want:   "8.8.8.8",
		},
		{
			name:   "returns ipv6 fallback when no ipv4",
			values: []string{"2001:db8::2"},
			want:   "2001:db8::2",
		},
		{
			name:   "returns empty when no valid candidates",
			values: []string{"", "   ", "not-an-ip", "0.0.0.0"},
			want:   "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, selectPreferredIP(tc.values))
		})
	}
}

func TestIsPublicAddr(t *testing.T) {
	for raw, want := range map[string]bool{
		"8.8.8.8":     true,
		"10.1.2.3":    false,
		"172.16.0.1":  false,
		"127.0.0.1":   false,
		"fd00::1":     false,
		"fe80::1":     false,
		"2606:4700::": true,
	} {
		assert.Equal(t, want, isPublicAddr(netip.MustParseAddr(raw)), raw)
	}
}

func TestGetClientIP(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(getClientIP(c))
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded for chain", map[string]string{"X-Forwarded-For": "10.0.0.1, 203.0.113.7"}, "203.0.113.7"},
		{"real ip header", map[string]string{"X-Real-IP": "198.51.100.3"}, "198.51.100.3"},
		{"rfc 7239 forwarded", map[string]string{"Forwarded": `for="[2001:db8::9]:4711";proto=https`}, "2001:db8::9"},
		{"only private", map[string]string{"X-Forwarded-For": "192.168.0.2"}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(body))
		})
	}
}

func TestGenerateETag(t *testing.T) {
	a := generateETag([]byte("one"))
	assert.Equal(t, a, generateETag([]byte("one")))
	assert.NotEqual(t, a, generateETag([]byte("two")))
	assert.True(t, a[0] == '"' && a[len(a)-1] == '"')
}
