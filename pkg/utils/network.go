package utils

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP returns the client address, preferring proxy headers over the
// socket peer. Only use it where a spoofed value is harmless, e.g. logs.
func GetRealIP(r *http.Request) string {
	for _, header := range []string{"X-Real-IP", "X-Forwarded-For"} {
		ip := r.Header.Get(header)
		if ip == "" {
			continue
		}
		// X-Forwarded-For lists the original client first
		if header == "X-Forwarded-For" {
			ip = strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	return RemoteIP(r)
}

// RemoteIP returns the IP of the socket peer.
func RemoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if net.ParseIP(r.RemoteAddr) != nil {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return ip
}

// GetHostname returns the request host without its port. IPv6 literals are
// returned without brackets.
func GetHostname(r *http.Request) string {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	return StripPort(host)
}

// StripPort removes an optional :port suffix from host.
func StripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
