package webhooks

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var blockedHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// IsBlockedHost performs the create-time static check: known loopback
// hostnames, or a host string that parses directly as a private/reserved
// IP literal. DNS resolution happens later, at delivery time, in
// VerifyResolvedIP — this check alone cannot catch a hostname that
// resolves to a private address only at delivery time.
func IsBlockedHost(host string) bool {
	lower := strings.ToLower(host)
	if blockedHostnames[lower] {
		return true
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if ip := net.ParseIP(trimmed); ip != nil {
		return IsPrivateIP(ip)
	}
	return false
}

// IsPrivateIP reports whether ip is loopback, private, link-local, or
// otherwise reserved for non-public routing, covering the full range table
// from the original SSRF guard: RFC1918, CGN (100.64.0.0/10), benchmark
// (198.18.0.0/15), the IETF/TEST-NET ranges, multicast and reserved
// (>=224.0.0.0/4), ULA (fc00::/7), IPv6 link-local (fe80::/10), and
// v4-mapped addresses pointing at any of the above.
func IsPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		if v4.IsLoopback() || v4.IsPrivate() || v4.IsLinkLocalUnicast() ||
			v4.IsLinkLocalMulticast() || v4.IsUnspecified() {
			return true
		}
		if v4.Equal(net.IPv4bcast) {
			return true
		}
		if v4[0] == 100 && (v4[1]&0xC0) == 64 {
			return true // 100.64.0.0/10 CGN
		}
		if v4[0] == 198 && (v4[1]&0xFE) == 18 {
			return true // 198.18.0.0/15 benchmark
		}
		if v4[0] == 192 && v4[1] == 0 && v4[2] == 0 {
			return true // 192.0.0.0/24 IETF
		}
		if v4[0] == 192 && v4[1] == 0 && v4[2] == 2 {
			return true // 192.0.2.0/24 TEST-NET-1
		}
		if v4[0] == 198 && v4[1] == 51 && v4[2] == 100 {
			return true // 198.51.100.0/24 TEST-NET-2
		}
		if v4[0] == 203 && v4[1] == 0 && v4[2] == 113 {
			return true // 203.0.113.0/24 TEST-NET-3
		}
		if v4[0] >= 224 {
			return true // multicast + reserved
		}
		return false
	}

	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}
	if len(ip) == net.IPv6len && (ip[0]&0xFE) == 0xFC {
		return true // fc00::/7 ULA
	}
	if v4 := ip.To4(); v4 != nil {
		return IsPrivateIP(v4)
	}
	return false
}

// VerifiedURL is a host with its pinned resolved address, so the HTTP
// client that ultimately dials it can't be redirected to a different IP
// than the one just validated (TOCTOU-safe DNS rebinding defense).
type VerifiedURL struct {
	Host string
	Addr string // "ip:port"
}

// resolveHost is overridable in tests to avoid real DNS lookups.
var resolveHost = net.LookupIP

// VerifyResolvedIP parses rawURL, resolves its host, and rejects delivery
// if any resolved address is private/reserved. This runs at every delivery
// attempt (not just webhook creation) so a host that initially resolved
// publicly but was rebound to an internal address by the time of delivery
// is still caught.
func VerifyResolvedIP(rawURL string) (VerifiedURL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return VerifiedURL{}, fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return VerifiedURL{}, fmt.Errorf("URL has no host")
	}
	port := parsed.Port()
	if port == "" {
		if parsed.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return VerifiedURL{}, fmt.Errorf("URL contains private IP address: %s", ip)
		}
		return VerifiedURL{Host: host, Addr: net.JoinHostPort(ip.String(), port)}, nil
	}

	ips, err := resolveHost(host)
	if err != nil {
		return VerifiedURL{}, fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}
	if len(ips) == 0 {
		return VerifiedURL{}, fmt.Errorf("DNS resolution returned no addresses for %s", host)
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return VerifiedURL{}, fmt.Errorf("DNS for %s resolved to private address %s", host, ip)
		}
	}
	return VerifiedURL{Host: host, Addr: net.JoinHostPort(ips[0].String(), port)}, nil
}
