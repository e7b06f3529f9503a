package urlkit

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURL is returned when an input cannot be parsed as an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid url")

// Normalize canonicalizes a raw URL string so that equal pages compare
// equal as strings: lowercase scheme and host, default ports stripped,
// fragment dropped, duplicate path slashes collapsed, percent-encoded
// triplets lowercased, and no trailing slash (the root path serializes
// as the bare origin).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := collapseSlashes(u.EscapedPath())
	path = lowerPercentTriplets(path)
	path = strings.TrimSuffix(path, "/")

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

func collapseSlashes(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// lowerPercentTriplets lowercases the hex digits of percent escapes so
// %2F and %2f compare equal, without touching other characters.
func lowerPercentTriplets(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	b := []byte(s)
	for i := 0; i+2 < len(b); i++ {
		if b[i] == '%' && isHex(b[i+1]) && isHex(b[i+2]) {
			b[i+1] = lowerHex(b[i+1])
			b[i+2] = lowerHex(b[i+2])
			i += 2
		}
	}
	return string(b)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func lowerHex(c byte) byte {
	if c >= 'A' && c <= 'F' {
		return c + ('a' - 'A')
	}
	return c
}

// Origin returns scheme://host for a normalized URL.
func Origin(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// IsPlatform reports whether the target belongs to a multi-tenant host
// where the crawl scope narrows to the target's own subtree. The
// allowlist entries are origins or bare hosts, compared
// case-insensitively; the user flag forces platform mode regardless.
func IsPlatform(target string, userFlag bool, allowlist []string) bool {
	if userFlag {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	host := strings.ToLower(u.Hostname())
	for _, entry := range allowlist {
		e := strings.ToLower(strings.TrimSuffix(entry, "/"))
		if e == origin || e == host {
			return true
		}
	}
	return false
}

// DeriveRoot computes the URL the site-map tree is rooted under.
//
// Platform targets root at themselves so sibling tenants stay out of
// the tree. With subdomainAsRoot the origin wins. Otherwise the root is
// the registrable domain (eTLD+1) on the target's scheme; when the
// public-suffix list cannot name one (IP literals, localhost, unlisted
// TLDs) the origin is used instead.
func DeriveRoot(target string, subdomainAsRoot bool, platform bool) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}

	if platform {
		return target
	}

	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	if subdomainAsRoot {
		return origin
	}

	host := strings.ToLower(u.Hostname())
	if u.Port() != "" {
		// Non-default ports never map onto a registrable domain.
		return origin
	}
	if net.ParseIP(host) != nil {
		return origin
	}
	// A TLD missing from the list only matches its default rule, which
	// names no registrable domain.
	if suffix, icann := publicsuffix.PublicSuffix(host); !icann && !strings.Contains(suffix, ".") {
		return origin
	}

	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil || base == "" {
		return origin
	}
	return strings.ToLower(u.Scheme) + "://" + base
}

// Ancestors returns the path prefixes of target on the same host, in
// shallow-to-deep order, excluding target itself. A bare origin has no
// ancestors.
func Ancestors(target string) []string {
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}

	segs := pathSegments(u.EscapedPath())
	if len(segs) == 0 {
		return nil
	}

	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	out := make([]string, 0, len(segs))
	out = append(out, origin)
	prefix := origin
	for _, seg := range segs[:len(segs)-1] {
		prefix = prefix + "/" + seg
		out = append(out, prefix)
	}
	return out
}

// Descendants filters candidates down to URLs on target's host whose
// path strictly extends target's path, ordered by path depth ascending
// then lexicographically.
func Descendants(target string, candidates []string) []string {
	tu, err := url.Parse(target)
	if err != nil {
		return nil
	}
	tHost := strings.ToLower(tu.Host)
	tPath := strings.TrimSuffix(tu.EscapedPath(), "/")

	var out []string
	for _, cand := range candidates {
		cu, err := url.Parse(cand)
		if err != nil {
			continue
		}
		if strings.ToLower(cu.Host) != tHost {
			continue
		}
		cPath := strings.TrimSuffix(cu.EscapedPath(), "/")
		if !isPathPrefix(tPath, cPath) || cPath == tPath {
			continue
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := Depth(out[i]), Depth(out[j])
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// Depth returns the number of path segments of a URL, 0 for a bare
// origin.
func Depth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	return len(pathSegments(u.EscapedPath()))
}

// isPathPrefix reports whether child's path lives under parent's path,
// respecting segment boundaries ("/a" is not a prefix of "/ab").
func isPathPrefix(parent, child string) bool {
	if parent == "" || parent == "/" {
		return true
	}
	if !strings.HasPrefix(child, parent) {
		return false
	}
	rest := child[len(parent):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// SameSubtree reports whether candidate lies at or under base: same
// host and base's path is a (possibly equal) path prefix.
func SameSubtree(base, candidate string) bool {
	bu, err1 := url.Parse(base)
	cu, err2 := url.Parse(candidate)
	if err1 != nil || err2 != nil {
		return false
	}
	if !strings.EqualFold(bu.Host, cu.Host) {
		return false
	}
	return isPathPrefix(strings.TrimSuffix(bu.EscapedPath(), "/"), strings.TrimSuffix(cu.EscapedPath(), "/"))
}

// SegmentsUnder returns the path segments of child relative to parent,
// or ok=false when child does not live under parent.
func SegmentsUnder(parent, child string) ([]string, bool) {
	pu, err1 := url.Parse(parent)
	cu, err2 := url.Parse(child)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	if !strings.EqualFold(pu.Host, cu.Host) {
		return nil, false
	}
	pPath := strings.TrimSuffix(pu.EscapedPath(), "/")
	cPath := strings.TrimSuffix(cu.EscapedPath(), "/")
	if !isPathPrefix(pPath, cPath) {
		return nil, false
	}
	rest := strings.TrimPrefix(cPath[len(pPath):], "/")
	if rest == "" {
		return nil, true
	}
	return strings.Split(rest, "/"), true
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
