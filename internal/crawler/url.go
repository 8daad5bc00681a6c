package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnexpectedURL marks a link that matches none of the known link classes.
var ErrUnexpectedURL = errors.New("unexpected url")

// LinkClass identifies how a relative link is resolved.
type LinkClass int

// Link classes found on catalog pages.
const (
	LinkUnknown LinkClass = iota
	// LinkCategory is "catalogue/...", resolved against the base URL.
	LinkCategory
	// LinkParent is "../../...", dot segments stripped and resolved under catalogue/.
	LinkParent
	// LinkPagination is "page-N.html", resolved against the current listing.
	LinkPagination
	// LinkAbsolute is an already shaped URL under the catalogue.
	LinkAbsolute
)

// Shaper turns extracted hrefs into absolute URLs.
type Shaper struct {
	base      *url.URL
	catalogue *url.URL
}

// NewShaper binds link shaping to the site base URL.
func NewShaper(baseURL string) (*Shaper, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &Shaper{base: base, catalogue: base.ResolveReference(&url.URL{Path: "catalogue/"})}, nil
}

// Classify reports the link class of href.
func (s *Shaper) Classify(href string) LinkClass {
	switch {
	case strings.HasPrefix(href, "catalogue/"):
		return LinkCategory
	case strings.HasPrefix(href, "../../"):
		return LinkParent
	case strings.HasPrefix(href, "page"):
		return LinkPagination
	}
	if u, err := url.Parse(href); err == nil && u.IsAbs() {
		norm, err := NormalizeURL(href)
		if err == nil && strings.HasPrefix(norm, s.catalogue.String()) {
			return LinkAbsolute
		}
	}
	return LinkUnknown
}

// Shape resolves href found on the page at current. Shaping an already
// shaped URL returns it unchanged.
func (s *Shaper) Shape(href, current string) (string, error) {
	href = strings.TrimSpace(href)
	var resolved *url.URL
	switch s.Classify(href) {
	case LinkCategory:
		ref, err := url.Parse(href)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrUnexpectedURL, href, err)
		}
		resolved = s.base.ResolveReference(ref)
	case LinkParent:
		ref, err := url.Parse(strings.ReplaceAll(href, "../", ""))
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrUnexpectedURL, href, err)
		}
		resolved = s.catalogue.ResolveReference(ref)
	case LinkPagination:
		cur, err := url.Parse(strings.TrimSuffix(current, "index.html"))
		if err != nil || !cur.IsAbs() {
			return "", fmt.Errorf("%w: %q relative to %q", ErrUnexpectedURL, href, current)
		}
		ref, err := url.Parse(href)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrUnexpectedURL, href, err)
		}
		resolved = cur.ResolveReference(ref)
	case LinkAbsolute:
		return NormalizeURL(href)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedURL, href)
	}
	return NormalizeURL(resolved.String())
}

// NormalizeURL lowercases the scheme and host, removes default ports and
// fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}
