// Package fetcher issues rate-limited, cached GET requests and classifies
// their outcomes for the traversal engine.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// FailureReason names why a fetch did not produce a usable response.
type FailureReason string

// Failure reasons reported on Outcome and FetchError.
const (
	ReasonNone             FailureReason = ""
	ReasonTimeout          FailureReason = "timeout"
	ReasonConnectionError  FailureReason = "connection_error"
	ReasonPermanentHTTP    FailureReason = "permanent_http_error"
	ReasonRetriesExhausted FailureReason = "retries_exhausted"
)

// Outcome is the result of one Fetch call. It is consumed immediately by
// the caller and never retained.
type Outcome struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	FromCache  bool
	Attempts   int
	Failure    FailureReason
}

// OK reports whether the outcome carries a usable body.
func (o Outcome) OK() bool {
	return o.Failure == ReasonNone && o.StatusCode > 0 && o.StatusCode < 400
}

// Request is the input to the HTTP capability.
type Request struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// Response is what the HTTP capability returns for any status code.
type Response struct {
	StatusCode int
	FinalURL   string
	Body       []byte
	FromCache  bool

	// ContentType is the response header. When it declares a charset the
	// transport has already converted Body to UTF-8.
	ContentType string
}

// Transport is the consumed HTTP capability: a single GET that reports the
// status without treating error codes as failures.
type Transport interface {
	Get(ctx context.Context, req Request) (Response, error)
}

// Counters receives the run-scoped request accounting. Implementations must
// be safe for use from the crawl goroutine while a controller reads them.
type Counters interface {
	RequestSent()
	StatusReceived(code int)
	ResponseReceived()
}

type noopCounters struct{}

func (noopCounters) RequestSent()        {}
func (noopCounters) StatusReceived(int) {}
func (noopCounters) ResponseReceived()  {}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Limiter caps the request rate per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}
