// Package extract turns fetched detail pages into normalized records.
package extract

import "fmt"

// Sentinel replaces any field value that could not be resolved.
const Sentinel = "none"

// Scope names the element a field selector is evaluated against.
type Scope string

// Field scopes.
const (
	ScopePage      Scope = "page"
	ScopeDocument  Scope = "document"
	ScopeContainer Scope = "container"
	ScopeTable     Scope = "table"
)

// Kind selects the shaping converter applied to a field.
type Kind string

// Field kinds.
const (
	KindURL      Kind = "url"
	KindText     Kind = "text"
	KindInteger  Kind = "integer"
	KindRating   Kind = "rating"
	KindStock    Kind = "stock"
	KindImageURL Kind = "image_url"
)

// FieldSpec configures one output column.
type FieldSpec struct {
	Name     string `mapstructure:"name"`
	Scope    Scope  `mapstructure:"scope"`
	Selector string `mapstructure:"selector"`
	Kind     Kind   `mapstructure:"kind"`

	// Attr reads an attribute instead of the element text.
	Attr string `mapstructure:"attr"`
}

// Schema is the full extraction layout of a detail page.
type Schema struct {
	// Container and Table are mandatory: a page where either matches nothing
	// is a structural failure.
	Container string
	Table     string
	Fields    []FieldSpec
}

// DefaultFields reproduces the catalog record layout.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Name: "url", Scope: ScopePage, Kind: KindURL},
		{Name: "title", Scope: ScopeContainer, Selector: "h1", Kind: KindText},
		{Name: "price", Scope: ScopeTable, Selector: `th:contains("excl") + td`, Kind: KindText},
		{Name: "star", Scope: ScopeContainer, Selector: "div.product_main p.star-rating", Kind: KindRating},
		{Name: "reviews", Scope: ScopeTable, Selector: `th:contains("reviews") + td`, Kind: KindInteger},
		{Name: "stock", Scope: ScopeTable, Selector: `th:contains("Availability") + td`, Kind: KindStock},
		{Name: "upc", Scope: ScopeTable, Selector: `th:contains("UPC") + td`, Kind: KindInteger},
		{Name: "image_url", Scope: ScopeContainer, Selector: "div.item > img", Attr: "src", Kind: KindImageURL},
	}
}

// Validate checks names are unique and every scope and kind is known.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("fields[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, ok := converters[f.Kind]; !ok {
			return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
		switch f.Scope {
		case ScopePage:
		case ScopeDocument, ScopeContainer, ScopeTable:
			if f.Selector == "" {
				return fmt.Errorf("field %q: selector is required for scope %q", f.Name, f.Scope)
			}
		default:
			return fmt.Errorf("field %q: unknown scope %q", f.Name, f.Scope)
		}
		if f.Scope == ScopeContainer && s.Container == "" {
			return fmt.Errorf("field %q: container selector is not configured", f.Name)
		}
		if f.Scope == ScopeTable && s.Table == "" {
			return fmt.Errorf("field %q: table selector is not configured", f.Name)
		}
	}
	return nil
}
