// Package origin normalizes browser Origin headers and decides whether an
// origin may open a signaling socket.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it in canonical
// form (lower-cased scheme://host[:port], default ports removed) together
// with the host[:port] portion for same-host comparisons.
//
// The special Origin value "null" (sandboxed iframes, file:// pages) is
// allowed and returned as-is.
func Normalize(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	// A serialized origin is scheme://host[:port] and nothing else.
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", "", false
	}

	port := 0
	if raw := u.Port(); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 65535 {
			return "", "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") { // IPv6 literal
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether a normalized origin may access the service.
//
// With a non-empty allowlist, entries must be "*" or normalized origins as
// produced by Normalize. With an empty allowlist the policy is same-host:
// the origin's host[:port] must equal the request's Host header. The scheme
// is deliberately not compared because a TLS-terminating proxy makes the
// service see http while the browser origin is https.
func Allowed(normalized, originHost, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	scheme := ""
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		// "null" never matches a host-based request.
		return false
	}
	return originHost == canonicalRequestHost(requestHost, scheme)
}

func canonicalRequestHost(requestHost, scheme string) string {
	trimmed := strings.ToLower(strings.TrimSpace(requestHost))
	if trimmed == "" {
		return ""
	}

	hostname, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		// No port present (or malformed; a malformed host simply won't match).
		hostname, portStr = strings.Trim(trimmed, "[]"), ""
	}

	port := 0
	if portStr != "" {
		n, err := strconv.Atoi(portStr)
		if err != nil || n <= 0 || n > 65535 {
			return ""
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return host
}
