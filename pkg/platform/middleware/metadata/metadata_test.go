package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"certmint/pkg/requestcontext"

	"github.com/stretchr/testify/assert"
)

const chromeOnWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestClientMetadata(t *testing.T) {
	var ip, rawUA, platform string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip = requestcontext.ClientIP(ctx)
		rawUA = requestcontext.UserAgent(ctx)
		platform = requestcontext.Platform(ctx)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", chromeOnWindows)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", ip)
	assert.Equal(t, chromeOnWindows, rawUA)
	assert.Equal(t, "Chrome on Windows", platform)
}

func TestPlatformSummary(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"browser with OS", chromeOnWindows, "Chrome on Windows"},
		{"bare product token", "certctl/1.0", "certctl/1.0"},
		{"product token with comment", "python-requests/2.31.0 (custom)", "python-requests/2.31.0"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlatformSummary(tt.ua))
		})
	}
}

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "direct connection",
			setup:  func(r *http.Request) { r.RemoteAddr = "198.51.100.4:9000" },
			expect: "198.51.100.4",
		},
		{
			name: "x-forwarded-for takes first hop",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			},
			expect: "203.0.113.7",
		},
		{
			name: "x-real-ip fallback",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "192.0.2.99")
			},
			expect: "192.0.2.99",
		},
		{
			name:   "ipv6 remote addr",
			setup:  func(r *http.Request) { r.RemoteAddr = "[::1]:8080" },
			expect: "[::1]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = ""
			tt.setup(req)
			assert.Equal(t, tt.expect, ClientIPFromRequest(req))
		})
	}
}
