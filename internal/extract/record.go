package extract

import "fmt"

// Record is a normalized row. It always holds exactly the configured fields.
type Record struct {
	fields []string
	values map[string]any
}

func newRecord(size int) Record {
	return Record{fields: make([]string, 0, size), values: make(map[string]any, size)}
}

// NewRecord builds a Record from parallel name and value slices.
func NewRecord(fields []string, values []any) Record {
	rec := newRecord(len(fields))
	for i, name := range fields {
		var v any = Sentinel
		if i < len(values) {
			v = values[i]
		}
		rec.set(name, v)
	}
	return rec
}

func (r *Record) set(name string, value any) {
	if _, ok := r.values[name]; !ok {
		r.fields = append(r.fields, name)
	}
	r.values[name] = value
}

// Fields returns the field names in output order.
func (r Record) Fields() []string {
	return append([]string(nil), r.fields...)
}

// Len is the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Get returns the typed value for name.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// String returns the value for name formatted for output.
func (r Record) String(name string) string {
	v, ok := r.values[name]
	if !ok {
		return Sentinel
	}
	return fmt.Sprint(v)
}

// Row returns the formatted values in field order.
func (r Record) Row() []string {
	row := make([]string, len(r.fields))
	for i, name := range r.fields {
		row[i] = r.String(name)
	}
	return row
}
