// Package urlnorm normalizes URLs into the canonical form stored in the
// urls table.
//
// The canonical form is the fixed point of Canonical: scheme plus lowercased
// host plus a cleaned path, e.g. "https://github.com/serde-rs/serde" for
// "git://GitHub.com/serde-rs/serde.git/". Keeping one spelling per URL is
// what lets the deduplicator join packages across ecosystems by homepage.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformed is reported when an input cannot be canonicalized.
var ErrMalformed = errors.New("urlnorm: malformed URL")

// forges are hosts where a trailing ".git" on the path is punctuation, not
// identity.
var forges = map[string]bool{
	"github.com":    true,
	"gitlab.com":    true,
	"bitbucket.org": true,
	"codeberg.org":  true,
	"git.sr.ht":     true,
}

// httpsHosts are hosts known to serve https; an http or git scheme on these
// is rewritten. Unknown hosts keep the scheme they arrived with.
var httpsHosts = map[string]bool{
	"github.com":      true,
	"gitlab.com":      true,
	"bitbucket.org":   true,
	"codeberg.org":    true,
	"git.sr.ht":       true,
	"crates.io":       true,
	"docs.rs":         true,
	"pypi.org":        true,
	"rubygems.org":    true,
	"npmjs.com":       true,
	"www.npmjs.com":   true,
	"pkg.go.dev":      true,
	"sourceforge.net": true,
}

// trackingParams are query parameters dropped during canonicalization, in
// addition to any parameter starting with "utm_".
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
	"yclid":  true,
}

// Canonical returns the canonical form of raw.
//
// Canonicalization lowercases the host and strips userinfo, default ports,
// the fragment, trailing slashes, a trailing "index.html" or "index.htm",
// and common tracking parameters. A git+https scheme is rewritten to https,
// an http or git scheme is rewritten to https on well-known hosts, and a
// ".git" suffix is removed on well-known forges. Schemeless input is taken
// as https. Inputs that do not parse, have an empty host, or carry a scheme
// other than http, https, git, or git+https are rejected with an error
// wrapping [ErrMalformed].
//
// Canonical is idempotent: feeding its output back in returns the same
// string.
func Canonical(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", ErrMalformed)
	}
	in := raw
	switch {
	case strings.HasPrefix(in, "//"):
		in = "https:" + in
	case !hasScheme(in):
		in = "https://" + in
	}
	u, err := url.Parse(in)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	scheme := u.Scheme
	switch scheme {
	case "https":
	case "git+https":
		// The "git+" prefix marks the VCS; the transport is still https.
		scheme = "https"
	case "http", "git":
		if httpsHosts[strings.ToLower(u.Hostname())] {
			scheme = "https"
		}
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrMalformed, u.Scheme)
	}
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", fmt.Errorf("%w: empty host", ErrMalformed)
	}
	host := hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal; Hostname removed the brackets.
		host = "[" + hostname + "]"
	}
	switch p := u.Port(); p {
	case "", "80", "443":
	default:
		host += ":" + p
	}

	path := u.EscapedPath()
	for strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	path = strings.TrimSuffix(path, "/index.html")
	path = strings.TrimSuffix(path, "/index.htm")
	if forges[hostname] {
		path = strings.TrimSuffix(path, ".git")
	}

	var query string
	if u.RawQuery != "" {
		vs := u.Query()
		for k := range vs {
			if trackingParams[k] || strings.HasPrefix(k, "utm_") {
				vs.Del(k)
			}
		}
		query = vs.Encode()
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteString("?")
		b.WriteString(query)
	}
	return b.String(), nil
}

// IsCanonical reports whether raw is already in canonical form.
func IsCanonical(raw string) bool {
	c, err := Canonical(raw)
	return err == nil && c == raw
}

// PossibleNames extracts candidate package names from a URL, most specific
// first: "https://github.com/pkgxdev/mash" yields ["mash", "pkgxdev"], a
// bare host like "openssl.org" yields ["openssl"].
//
// The candidates feed name-equality searches across other ecosystems, so
// false positives are acceptable. A nil return means no candidates.
func PossibleNames(raw string) []string {
	c, err := Canonical(raw)
	if err != nil {
		return nil
	}
	if i := strings.Index(c, "://"); i != -1 {
		c = c[i+len("://"):]
	}
	c, _, _ = strings.Cut(c, "?")
	host, rest, _ := strings.Cut(c, "/")

	var names []string
	seen := make(map[string]bool)
	add := func(n string) {
		n = strings.TrimSuffix(n, ".git")
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}

	if rest != "" {
		segs := strings.Split(rest, "/")
		for i := len(segs) - 1; i >= 0; i-- {
			add(segs[i])
		}
		return names
	}
	// Bare host: the leftmost label is usually the project name.
	host, _, _ = strings.Cut(host, ":")
	labels := strings.Split(host, ".")
	if len(labels) > 1 && labels[0] == "www" {
		labels = labels[1:]
	}
	add(labels[0])
	return names
}

func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i < 1 {
		return false
	}
	for _, r := range s[:i] {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
