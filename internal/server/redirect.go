package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/JamesGuthrie/httpserve/pkg/utils"
)

// RedirectOptions shape the redirect target.
type RedirectOptions struct {
	// TLSPort is appended to the target host when it is not 443. It only
	// applies to requests that reached this process directly; behind a
	// proxy the public port is assumed to be 443.
	TLSPort int
	// TrustProxy honours X-Forwarded-Proto. Leave it off unless every
	// request arrives through a proxy that sets or strips the header.
	TrustProxy bool
}

// RedirectMiddleware answers every plaintext request with a permanent
// redirect to its https equivalent. When disabled it returns next as is.
func RedirectMiddleware(enabled bool, opts RedirectOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isPlaintext(r, opts.TrustProxy) {
				next.ServeHTTP(w, r)
				return
			}
			target, ok := MaybeRedirect(r, enabled, opts)
			if !ok {
				http.Error(w, "400 bad request: missing host", http.StatusBadRequest)
				return
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
	}
}

// MaybeRedirect returns the https URL a plaintext request should be sent
// to. It returns false when redirects are disabled, the request is already
// secure or no host is known.
func MaybeRedirect(r *http.Request, enabled bool, opts RedirectOptions) (string, bool) {
	if !enabled || !isPlaintext(r, opts.TrustProxy) {
		return "", false
	}

	host := utils.GetHostname(r)
	if host == "" {
		return "", false
	}

	proxied := false
	if opts.TrustProxy {
		_, proxied = forwardedProto(r)
	}
	if !proxied && opts.TLSPort != 0 && opts.TLSPort != 443 {
		host = net.JoinHostPort(host, strconv.Itoa(opts.TLSPort))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return "https://" + host + r.URL.RequestURI(), true
}

// isPlaintext reads X-Forwarded-Proto when the proxy is trusted and falls
// back to the connection state otherwise.
func isPlaintext(r *http.Request, trustProxy bool) bool {
	if trustProxy {
		if proto, ok := forwardedProto(r); ok {
			return proto != "https"
		}
	}
	return r.TLS == nil
}

func forwardedProto(r *http.Request) (string, bool) {
	values := r.Header.Values("X-Forwarded-Proto")
	if len(values) == 0 {
		return "", false
	}
	first, _, _ := strings.Cut(values[0], ",")
	return strings.ToLower(strings.TrimSpace(first)), true
}
