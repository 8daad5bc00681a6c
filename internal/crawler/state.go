package crawler

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
)

// Clock abstracts time for run timing.
type Clock interface {
	Now() time.Time
}

// RunState holds the counters of one run. The crawl goroutine writes them
// through the fetcher.Counters methods while controllers read snapshots.
type RunState struct {
	mu        sync.Mutex
	started   time.Time
	requests  int
	responses int
	statuses  map[int]int
	fields    int
	records   int
	observers []fetcher.Counters
}

// NewRunState starts a fresh set of counters. Observers receive the same
// request accounting, e.g. process-wide metrics.
func NewRunState(started time.Time, observers ...fetcher.Counters) *RunState {
	return &RunState{
		started:   started,
		statuses:  make(map[int]int),
		observers: observers,
	}
}

// RequestSent implements fetcher.Counters.
func (s *RunState) RequestSent() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	for _, o := range s.observers {
		o.RequestSent()
	}
}

// StatusReceived implements fetcher.Counters.
func (s *RunState) StatusReceived(code int) {
	s.mu.Lock()
	s.statuses[code]++
	s.mu.Unlock()
	for _, o := range s.observers {
		o.StatusReceived(code)
	}
}

// ResponseReceived implements fetcher.Counters.
func (s *RunState) ResponseReceived() {
	s.mu.Lock()
	s.responses++
	s.mu.Unlock()
	for _, o := range s.observers {
		o.ResponseReceived()
	}
}

// RecordProcessed counts one normalized record with n fields.
func (s *RunState) RecordProcessed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	s.fields += n
}

// Started returns the run start time.
func (s *RunState) Started() time.Time {
	return s.started
}

// Snapshot is a point-in-time copy of the run counters.
type Snapshot struct {
	Requests  int           `json:"requests_sent"`
	Responses int           `json:"responses_received"`
	Statuses  map[int]int   `json:"status_codes"`
	Fields    int           `json:"fields_processed"`
	Records   int           `json:"records"`
	Started   time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Snapshot copies the counters as of now.
func (s *RunState) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Requests:  s.requests,
		Responses: s.responses,
		Statuses:  maps.Clone(s.statuses),
		Fields:    s.fields,
		Records:   s.records,
		Started:   s.started,
		Elapsed:   now.Sub(s.started),
	}
}

// StatusCodes returns the observed codes in ascending order.
func (s Snapshot) StatusCodes() []int {
	return slices.Sorted(maps.Keys(s.Statuses))
}

// FormatElapsed renders d as H:MM:SS, truncated to whole seconds.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
