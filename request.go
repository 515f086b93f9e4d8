package offline

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey identifies cache entry by retrieval method and absolute URL.
type RequestKey struct {
	Method string
	URL    string
}

// String returns key in "METHOD URL" format.
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// NewRequestKey normalizes request into cache key.
//
// HEAD shares key with GET, URL fragment is dropped.
func NewRequestKey(r *http.Request) RequestKey {
	return RequestKey{
		Method: http.MethodGet,
		URL:    normalizeURL(requestURL(r)),
	}
}

// IsRetrieval checks if method has no request body and no side effects.
func IsRetrieval(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead:
		return true
	default:
		return false
	}
}

// Origin is a scheme and host pair with default port omitted.
type Origin struct {
	Scheme string
	Host   string
}

// ParseOrigin parses origin from URL string.
func ParseOrigin(s string) (Origin, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Origin{}, fmt.Errorf("parse origin: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return Origin{}, fmt.Errorf("origin must be absolute URL: %q", s)
	}

	return originOf(u), nil
}

// String returns serialized origin.
func (o Origin) String() string {
	return o.Scheme + "://" + o.Host
}

// Matches checks if URL belongs to origin.
func (o Origin) Matches(u *url.URL) bool {
	return originOf(u) == o
}

// Resolve makes absolute URL of a path within origin.
func (o Origin) Resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}

	return (&url.URL{Scheme: o.Scheme, Host: o.Host, Path: "/"}).ResolveReference(ref)
}

// Key returns cache key of a path within origin.
func (o Origin) Key(path string) RequestKey {
	return RequestKey{Method: http.MethodGet, URL: normalizeURL(o.Resolve(path))}
}

func originOf(u *url.URL) Origin {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)

	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}

	return Origin{Scheme: scheme, Host: host}
}

func requestURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}

	u := *r.URL
	u.Host = r.Host

	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}

	return &u
}

func normalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	o := originOf(u)
	n.Scheme = o.Scheme
	n.Host = o.Host

	if n.Path == "" {
		n.Path = "/"
	}

	return n.String()
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
