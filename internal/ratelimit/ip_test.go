package ratelimit

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIP_IPv4(t *testing.T) {
	ip := net.ParseIP("203.0.113.42")
	assert.Equal(t, "203.0.113.42", NormalizeIP(ip))
}

func TestNormalizeIP_IPv6Truncated(t *testing.T) {
	ip := net.ParseIP("2001:db8:abcd:0012:ffff:ffff:ffff:ffff")
	assert.Equal(t, "2001:db8:abcd:12::/64", NormalizeIP(ip))
}

func TestNormalizeIP_IPv6SameSubnet(t *testing.T) {
	a := net.ParseIP("2001:db8:abcd:12::1")
	b := net.ParseIP("2001:db8:abcd:12::ffff")
	assert.Equal(t, NormalizeIP(a), NormalizeIP(b))
}

func TestExtractClientIP_TrustProxyXFF(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:1234"

	ip := ExtractClientIP(req, true)
	assert.Equal(t, "198.51.100.7", ip.String())
}

func TestExtractClientIP_IgnoresProxyHeadersWhenUntrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.RemoteAddr = "203.0.113.9:5678"

	ip := ExtractClientIP(req, false)
	assert.Equal(t, "203.0.113.9", ip.String())
}

func TestExtractClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5678"

	ip := ExtractClientIP(req, true)
	assert.Equal(t, "203.0.113.9", ip.String())
}
