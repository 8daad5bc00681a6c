package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingObserver struct{ requests, statuses, responses int }

func (o *countingObserver) RequestSent()        { o.requests++ }
func (o *countingObserver) StatusReceived(int) { o.statuses++ }
func (o *countingObserver) ResponseReceived()  { o.responses++ }

// TestRunStateSnapshot copies counters and forwards to observers.
func TestRunStateSnapshot(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := &countingObserver{}
	s := NewRunState(start, obs)
	s.RequestSent()
	s.RequestSent()
	s.StatusReceived(503)
	s.StatusReceived(200)
	s.ResponseReceived()
	s.RecordProcessed(8)

	snap := s.Snapshot(start.Add(90 * time.Minute))
	assert.Equal(t, 2, snap.Requests)
	assert.Equal(t, 1, snap.Responses)
	assert.Equal(t, map[int]int{200: 1, 503: 1}, snap.Statuses)
	assert.Equal(t, []int{200, 503}, snap.StatusCodes())
	assert.Equal(t, 8, snap.Fields)
	assert.Equal(t, 1, snap.Records)
	assert.Equal(t, 90*time.Minute, snap.Elapsed)

	snap.Statuses[404] = 1
	assert.NotContains(t, s.Snapshot(start).Statuses, 404)
	assert.Equal(t, &countingObserver{requests: 2, statuses: 2, responses: 1}, obs)
}

// TestFormatElapsed renders hours without zero padding.
func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0:00:00", FormatElapsed(0))
	assert.Equal(t, "0:01:05", FormatElapsed(65*time.Second+400*time.Millisecond))
	assert.Equal(t, "26:03:04", FormatElapsed(26*time.Hour+3*time.Minute+4*time.Second))
}
