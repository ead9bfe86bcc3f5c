// Package utils provides HTTP helpers shared by handlers and middleware:
// client IP extraction, JSON responses, cookies, safe redirects and retry
// with backoff.
package utils

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ExtractClientIP returns the originating client address. It prefers the
// first entry of X-Forwarded-For, then X-Real-IP, then RemoteAddr with the
// port stripped. The result keys the platform rate limiter, so the
// deployment must sit behind a proxy that overwrites these headers.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsPrivateIP reports whether ip is loopback, private or link-local.
// Unparseable input is treated as not private.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
