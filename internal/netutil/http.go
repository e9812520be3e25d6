// Package netutil provides shared URL/host normalization helpers.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// BaseURL joins a stored manager URL and API port into "scheme://host:port".
// A missing scheme defaults to https; any port or path on rawURL is dropped.
func BaseURL(rawURL string, port int) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("empty url")
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid port %d", port)
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := NormalizeHost(u.Host)
	if host == "" {
		return "", errors.New("missing host")
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// JoinPath appends an upstream endpoint (which may carry its own query
// string) to base.
func JoinPath(base, endpoint string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("empty endpoint")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return url.Parse(strings.TrimSuffix(base, "/") + endpoint)
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
