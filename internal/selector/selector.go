// Package selector exposes CSS selection over parsed HTML documents.
package selector

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from an HTML body.
func Parse(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Root returns the document as an Element.
func (d *Document) Root() Element {
	return Element{sel: d.doc.Selection}
}

// SelectOne returns the first element matching expr.
func (d *Document) SelectOne(expr string) (Element, bool) {
	return d.Root().SelectOne(expr)
}

// SelectAll returns every element matching expr in document order.
func (d *Document) SelectAll(expr string) []Element {
	return d.Root().SelectAll(expr)
}

// Element is a handle to one matched node.
type Element struct {
	sel *goquery.Selection
}

// SelectOne returns the first descendant matching expr.
func (e Element) SelectOne(expr string) (Element, bool) {
	if e.sel == nil || strings.TrimSpace(expr) == "" {
		return Element{}, false
	}
	found := e.sel.Find(expr).First()
	if found.Length() == 0 {
		return Element{}, false
	}
	return Element{sel: found}, true
}

// SelectAll returns every descendant matching expr.
func (e Element) SelectAll(expr string) []Element {
	if e.sel == nil || strings.TrimSpace(expr) == "" {
		return nil
	}
	found := e.sel.Find(expr)
	out := make([]Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Element{sel: s})
	})
	return out
}

// Text returns the combined text content of the element.
func (e Element) Text() string {
	if e.sel == nil {
		return ""
	}
	return e.sel.Text()
}

// Attr returns the named attribute value.
func (e Element) Attr(name string) (string, bool) {
	if e.sel == nil {
		return "", false
	}
	return e.sel.Attr(name)
}

// Classes returns the element's class tokens in source order.
func (e Element) Classes() []string {
	class, ok := e.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(class)
}
