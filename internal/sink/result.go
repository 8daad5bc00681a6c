// Package sink accumulates the records and images of a run in memory and
// writes them out in one pass once the run has succeeded.
package sink

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// Clock supplies the timestamps used for unique image names.
type Clock interface {
	Now() time.Time
}

// Image is a named binary payload.
type Image struct {
	Name string
	Data []byte
}

// Result is the in-memory CrawlResult of one run.
type Result struct {
	mu      sync.Mutex
	clock   Clock
	records []extract.Record
	images  []Image
	names   map[string]struct{}
}

// NewResult returns an empty Result.
func NewResult(clock Clock) *Result {
	return &Result{clock: clock, names: make(map[string]struct{})}
}

// AddRecord appends a normalized record.
func (r *Result) AddRecord(rec extract.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// AddImage stores data under a unique name derived from title and returns
// that name. An empty title uses a timestamp token; a taken title gets a
// "_copy(<token>)" suffix. Names are never overwritten.
func (r *Result) AddImage(title string, data []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	title = sanitizeName(title)
	token := strconv.FormatInt(r.clock.Now().UnixMicro(), 10)
	name := title
	switch {
	case name == "":
		name = token
	case r.taken(name):
		name = fmt.Sprintf("%s_copy(%s)", title, token)
	}
	// Two images within the same clock tick.
	base := name
	for i := 1; r.taken(name); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	r.names[name] = struct{}{}
	r.images = append(r.images, Image{Name: name, Data: data})
	return name
}

func (r *Result) taken(name string) bool {
	_, ok := r.names[name]
	return ok
}

// Records returns the accumulated records in insertion order.
func (r *Result) Records() []extract.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]extract.Record(nil), r.records...)
}

// Images returns the accumulated images in insertion order.
func (r *Result) Images() []Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Image(nil), r.images...)
}

// Len is the number of records.
func (r *Result) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset discards everything accumulated so far.
func (r *Result) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.images = nil
	r.names = make(map[string]struct{})
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
