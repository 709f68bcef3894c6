package metadata

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commandbridge/pkg/requestcontext"
)

func resolve(t *testing.T, cfg *Config, remote string, headers map[string]string) (ip, ua string) {
	t.Helper()
	h := NewMiddleware(cfg).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip = requestcontext.ClientIP(r.Context())
		ua = requestcontext.UserAgent(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return ip, ua
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.5")
	require.NoError(t, err)
	trusted := &Config{TrustedProxies: proxies}

	t.Run("direct peer without proxies", func(t *testing.T) {
		ip, _ := resolve(t, nil, "203.0.113.9:5555", map[string]string{"X-Forwarded-For": "1.1.1.1"})
		assert.Equal(t, "203.0.113.9", ip)
	})

	t.Run("xff honoured from trusted proxy", func(t *testing.T) {
		ip, _ := resolve(t, trusted, "10.2.3.4:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.2.3.4"})
		assert.Equal(t, "198.51.100.7", ip)
	})

	t.Run("single-host proxy entry", func(t *testing.T) {
		ip, _ := resolve(t, trusted, "192.168.1.5:80", map[string]string{"X-Real-IP": "198.51.100.8"})
		assert.Equal(t, "198.51.100.8", ip)
	})

	t.Run("garbage xff falls back to peer", func(t *testing.T) {
		ip, _ := resolve(t, trusted, "10.2.3.4:80", map[string]string{"X-Forwarded-For": "not-an-ip"})
		assert.Equal(t, "10.2.3.4", ip)
	})

	t.Run("ipv6 peer", func(t *testing.T) {
		ip, _ := resolve(t, nil, "[2001:db8::1]:443", nil)
		assert.Equal(t, "2001:db8::1", ip)
	})

	t.Run("user agent captured", func(t *testing.T) {
		_, ua := resolve(t, nil, "203.0.113.9:1", map[string]string{"User-Agent": "Mozilla/5.0"})
		assert.Equal(t, "Mozilla/5.0", ua)
	})
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = ParseTrustedProxies("10.1.2.3/8")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), got[0])

	_, err = ParseTrustedProxies("nope")
	assert.Error(t, err)
}
