package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/selector"
)

// ErrStructural is returned when a mandatory selector matches nothing.
var ErrStructural = errors.New("mandatory element not found")

// Image source failures. They are reported as warnings by the caller.
var (
	ErrImageMissing = errors.New("image element not found")
	ErrImageSource  = errors.New("image element has no src")
)

// Fragment is the raw extraction result for one field.
type Fragment struct {
	Node  selector.Element
	Found bool

	// Literal carries values that do not come from markup, such as the page URL.
	Literal string
}

// RawRecord holds the unshaped fragments of one detail page.
type RawRecord struct {
	URL       string
	Container selector.Element
	Fragments map[string]Fragment
}

// Pipeline extracts and normalizes records for a fixed Schema.
type Pipeline struct {
	schema Schema
	base   *url.URL
	logger *zap.Logger
}

// New validates schema and binds it to the site base URL used for image links.
func New(schema Schema, baseURL string, logger *zap.Logger) (*Pipeline, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction schema: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{schema: schema, base: base, logger: logger}, nil
}

// Fields returns the configured field names in output order.
func (p *Pipeline) Fields() []string {
	names := make([]string, len(p.schema.Fields))
	for i, f := range p.schema.Fields {
		names[i] = f.Name
	}
	return names
}

// Extract applies every field selector to doc. Missing fields become absent
// fragments; only a missing container or table is an error.
func (p *Pipeline) Extract(doc *selector.Document, pageURL string) (RawRecord, error) {
	raw := RawRecord{URL: pageURL, Fragments: make(map[string]Fragment, len(p.schema.Fields))}

	var container, table selector.Element
	if p.schema.Container != "" {
		el, ok := doc.SelectOne(p.schema.Container)
		if !ok {
			return RawRecord{}, fmt.Errorf("%w: container %q on %s", ErrStructural, p.schema.Container, pageURL)
		}
		container = el
		raw.Container = el
	}
	if p.schema.Table != "" {
		el, ok := doc.SelectOne(p.schema.Table)
		if !ok {
			return RawRecord{}, fmt.Errorf("%w: table %q on %s", ErrStructural, p.schema.Table, pageURL)
		}
		table = el
	}

	for _, f := range p.schema.Fields {
		var root selector.Element
		switch f.Scope {
		case ScopePage:
			raw.Fragments[f.Name] = Fragment{Found: true, Literal: pageURL}
			continue
		case ScopeContainer:
			root = container
		case ScopeTable:
			root = table
		default:
			root = doc.Root()
		}
		el, ok := root.SelectOne(f.Selector)
		raw.Fragments[f.Name] = Fragment{Node: el, Found: ok}
	}
	return raw, nil
}

// ImageURL locates the record image inside the container and resolves its
// src against the base URL.
func (p *Pipeline) ImageURL(raw RawRecord, imageSelector string) (string, error) {
	img, ok := raw.Container.SelectOne(imageSelector)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrImageMissing, imageSelector)
	}
	src, ok := img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", ErrImageSource
	}
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", fmt.Errorf("parse image src %q: %w", src, err)
	}
	return p.base.ResolveReference(ref).String(), nil
}
