// Package source validates monitored page URLs and derives the short
// display names and colours used to tag their output.
package source

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrInvalidURL is returned for input that does not parse as a URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotLocalhost is returned for URLs that point away from this machine.
	ErrNotLocalhost = errors.New("only localhost urls are supported")
)

var localHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var listSeparator = regexp.MustCompile(`[\s,]+`)

// Normalize adds a missing http:// scheme and checks that the URL targets
// a local host.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if !IsLocal(u.Hostname()) {
		return "", fmt.Errorf("%w: %s", ErrNotLocalhost, u.Hostname())
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// IsLocal reports whether host names this machine.
func IsLocal(host string) bool {
	return localHosts[strings.Trim(host, "[]")]
}

// ParseList splits whitespace or comma separated URL lists, normalizes
// each URL and drops duplicates while keeping the first occurrence.
func ParseList(inputs ...string) ([]string, error) {
	var parts []string
	for _, input := range inputs {
		parts = append(parts, listSeparator.Split(strings.TrimSpace(input), -1)...)
	}
	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		u, err := Normalize(part)
		if err != nil {
			return nil, err
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}

// DisplayName shortens a URL to host:port, defaulting the port to 80.
// Input that is not a URL is returned unchanged.
func DisplayName(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// ColorIndex picks a stable slot in [0, n) for a source using the 32-bit
// string hash browsers conventionally use for this.
func ColorIndex(src string, n int) int {
	if n <= 0 {
		return 0
	}
	var hash int32
	for _, c := range utf16Units(src) {
		hash = (hash << 5) - hash + int32(c)
	}
	h := int64(hash)
	if h < 0 {
		h = -h
	}
	return int(h % int64(n))
}

func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		out = append(out, uint16(r))
	}
	return out
}
