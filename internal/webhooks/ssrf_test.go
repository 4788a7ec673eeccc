package webhooks

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlockedHost(t *testing.T) {
	blocked := []string{
		"localhost", "LOCALHOST",
		"127.0.0.1", "127.0.0.2",
		"10.0.0.1", "172.16.0.1", "192.168.1.1",
		"169.254.1.1", "169.254.169.254",
		"::1", "[::1]",
		"100.64.0.1", "100.127.255.254",
	}
	for _, h := range blocked {
		assert.True(t, IsBlockedHost(h), "expected %q to be blocked", h)
	}

	allowed := []string{"8.8.8.8", "1.1.1.1", "example.com", "api.example.com"}
	for _, h := range allowed {
		assert.False(t, IsBlockedHost(h), "expected %q to be allowed", h)
	}
}

func TestIsPrivateIPRanges(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"198.18.0.1", true},     // benchmark
		{"192.0.0.1", true},      // IETF
		{"192.0.2.1", true},      // TEST-NET-1
		{"198.51.100.1", true},   // TEST-NET-2
		{"203.0.113.1", true},    // TEST-NET-3
		{"224.0.0.1", true},      // multicast
		{"8.8.8.8", false},
		{"1.1.1.1", false},
	}
	for _, c := range cases {
		ip := net.ParseIP(c.ip)
		require.NotNil(t, ip)
		assert.Equal(t, c.private, IsPrivateIP(ip), c.ip)
	}
}

func TestVerifyResolvedIP_RejectsPrivateLiteral(t *testing.T) {
	_, err := VerifyResolvedIP("http://127.0.0.1:8080/hook")
	assert.Error(t, err)
}

func TestVerifyResolvedIP_DNSRebinding(t *testing.T) {
	orig := resolveHost
	defer func() { resolveHost = orig }()
	resolveHost = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("10.0.0.5")}, nil
	}

	_, err := VerifyResolvedIP("https://rebinds.example.com/hook")
	assert.Error(t, err, "delivery-time resolution to a private IP must be rejected even if create-time check passed")
}

func TestVerifyResolvedIP_AllowsPublic(t *testing.T) {
	orig := resolveHost
	defer func() { resolveHost = orig }()
	resolveHost = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	v, err := VerifyResolvedIP("https://example.com/hook")
	require.NoError(t, err)
	assert.Equal(t, "example.com", v.Host)
	assert.Equal(t, "93.184.216.34:443", v.Addr)
}
