package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating client address. With trustProxy
// false only the direct connection counts; forwarded headers are
// attacker-writable unless a trusted reverse proxy sets them.
// trustedProxyCount is the number of proxies under our control at the
// right-hand end of X-Forwarded-For (0 means one).
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := forwardedClientIP(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return remoteAddrIP(r.RemoteAddr)
}

// forwardedClientIP picks the client entry out of X-Forwarded-For. The
// list reads "client, proxy1, proxy2, ..." with our own proxies rightmost;
// the client sits immediately left of the trusted tail. Entries further
// left were written by hops we do not control and are ignored.
func forwardedClientIP(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	trusted := trustedProxyCount
	if trusted == 0 {
		trusted = 1
	}
	idx := len(hops) - trusted - 1
	if idx < 0 {
		idx = 0
	}
	return parseIP(strings.TrimSpace(hops[idx]))
}

// parseIP returns the input when it is a literal IP, otherwise "".
func parseIP(s string) string {
	if s == "" || net.ParseIP(s) == nil {
		return ""
	}
	return s
}

// remoteAddrIP strips the port from a host:port RemoteAddr.
func remoteAddrIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
