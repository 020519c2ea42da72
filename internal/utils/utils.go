package utils

import (
	"errors"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// Errors
var (
	ErrEmptyURL          = errors.New("empty url")
	ErrMissingHost       = errors.New("missing host")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// CanonicalizeOptions controls optional canonicalization policies.
type CanonicalizeOptions struct {
	DropTrackingParams bool   // remove common tracking params (utm_*, gclid, fbclid, ...)
	StripTrailingSlash bool   // treat /a and /a/ the same (root "/" is kept)
	DefaultScheme      string // scheme assumed for schemeless input; empty requires a scheme
}

// DefaultCanonicalizeOptions is the policy used for crawl deduplication.
var DefaultCanonicalizeOptions = CanonicalizeOptions{
	DropTrackingParams: true,
	StripTrailingSlash: true,
}

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {},
	"gclid": {}, "fbclid": {}, "mc_cid": {}, "mc_eid": {},
}

// Canonicalize returns a deterministic form of raw: lowercase scheme and
// punycode host, default port dropped, credentials and fragment removed,
// cleaned path and sorted query.
func Canonicalize(raw string, opts CanonicalizeOptions) (string, error) {
	u, err := canonicalURL(raw, opts)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func canonicalURL(raw string, opts CanonicalizeOptions) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &url.Error{Op: "canonicalize", URL: raw, Err: ErrEmptyURL}
	}
	if opts.DefaultScheme != "" && !strings.Contains(raw, "://") {
		raw = opts.DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "canonicalize", URL: raw, Err: ErrMissingHost}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		host = puny
	}
	port := u.Port()
	switch {
	case port == "", u.Scheme == "http" && port == "80", u.Scheme == "https" && port == "443":
		u.Host = host
	default:
		u.Host = net.JoinHostPort(host, port)
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	p := path.Clean("/" + u.Path)
	if strings.HasSuffix(u.Path, "/") && p != "/" && !opts.StripTrailingSlash {
		p += "/"
	}
	u.Path = p
	u.RawPath = ""

	q := u.Query()
	if opts.DropTrackingParams {
		for k := range q {
			if _, ok := trackingParams[strings.ToLower(k)]; ok {
				q.Del(k)
			}
		}
	}
	for _, vs := range q {
		sort.Strings(vs)
	}
	// url.Values.Encode sorts keys.
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	return u, nil
}

// ValidateTarget checks that raw is an http(s) URL suitable as a scan seed
// and returns its canonical form. A bare host is taken as https.
func ValidateTarget(raw string) (string, error) {
	u, err := canonicalURL(raw, CanonicalizeOptions{StripTrailingSlash: true, DefaultScheme: "https"})
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &url.Error{Op: "validate", URL: raw, Err: ErrUnsupportedScheme}
	}
	return u.String(), nil
}

// Scope is the set of URLs sharing a seed's origin and path prefix.
type Scope struct {
	origin string
	prefix string
	opts   CanonicalizeOptions
}

// NewScope builds the crawl scope of seed. A seed of https://a.com/docs covers
// https://a.com/docs and https://a.com/docs/x but not https://a.com/docsx.
func NewScope(seed string, opts CanonicalizeOptions) (*Scope, error) {
	u, err := canonicalURL(seed, opts)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(u.Path, "/")
	return &Scope{
		origin: u.Scheme + "://" + u.Host,
		prefix: prefix,
		opts:   opts,
	}, nil
}

// Origin returns scheme://host[:port] of the seed.
func (s *Scope) Origin() string { return s.origin }

// Canonical canonicalizes raw with the scope's options.
func (s *Scope) Canonical(raw string) (string, error) {
	return Canonicalize(raw, s.opts)
}

// Contains reports whether the canonical URL u lies within the scope.
func (s *Scope) Contains(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme+"://"+parsed.Host != s.origin {
		return false
	}
	if s.prefix == "" {
		return true
	}
	p := parsed.Path
	return p == s.prefix || strings.HasPrefix(p, s.prefix+"/")
}

// Resolve resolves href against base, canonicalizes it and reports whether
// the result lies within the scope. Non-navigational hrefs (mailto:,
// javascript:, tel:, data:, pure fragments) are rejected.
func (s *Scope) Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	canonical, err := s.Canonical(abs.String())
	if err != nil {
		return "", false
	}
	return canonical, s.Contains(canonical)
}
