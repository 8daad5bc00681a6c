package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// transientStatusCodes are retried with backoff; every other code >= 400 is permanent.
var transientStatusCodes = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// IsTransientStatus reports whether code is retry-worthy.
func IsTransientStatus(code int) bool {
	_, ok := transientStatusCodes[code]
	return ok
}

// Config controls fetch behavior for one run.
type Config struct {
	AllowedDomains []string
	UserAgent      string
	Delay          time.Duration
	Randomize      bool
	Timeout        time.Duration

	// Encoding is the response charset; bodies are transcoded to UTF-8.
	Encoding    string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Fetcher enforces the domain policy, politeness delay and retry policy
// around a Transport.
type Fetcher struct {
	transport Transport
	allowed   map[string]struct{}
	headers   http.Header
	timeout   time.Duration
	encoding  string
	delay     DelayPolicy
	retry     *ExponentialRetryPolicy
	sleep     Sleeper
	limiter   Limiter
	logger    *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithSleeper replaces the blocking wait used for delays and backoff.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleep = s
		}
	}
}

// WithLimiter adds a request rate ceiling applied after the politeness delay.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithRandom replaces the random source used for randomized delays.
func WithRandom(fn func() float64) Option {
	return func(f *Fetcher) {
		f.delay.Float = fn
	}
}

// New builds a Fetcher over transport.
func New(cfg Config, transport Transport, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			allowed[d] = struct{}{}
		}
	}
	headers := http.Header{}
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	f := &Fetcher{
		transport: transport,
		allowed:   allowed,
		headers:   headers,
		timeout:   cfg.Timeout,
		encoding:  cfg.Encoding,
		delay:     DelayPolicy{Base: cfg.Delay, Randomize: cfg.Randomize},
		retry:     NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffBase, cfg.BackoffMax),
		sleep:     SleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Headers returns a copy of the request headers sent with every fetch.
func (f *Fetcher) Headers() http.Header {
	return f.headers.Clone()
}

// Fetch retrieves rawURL. It returns an error for policy violations,
// permanent HTTP errors and exhausted retries; the Outcome is populated
// as far as the last attempt got.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, counters Counters) (Outcome, error) {
	return f.fetch(ctx, rawURL, counters, true)
}

// FetchBytes is Fetch without charset transcoding, for binary payloads.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string, counters Counters) (Outcome, error) {
	return f.fetch(ctx, rawURL, counters, false)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, counters Counters, decode bool) (Outcome, error) {
	if counters == nil {
		counters = noopCounters{}
	}
	if err := f.CheckPolicy(rawURL); err != nil {
		return Outcome{URL: rawURL}, err
	}

	var (
		last    Outcome
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		out, err := f.attempt(ctx, rawURL, counters, decode)
		out.Attempts = attempt
		if err == nil {
			counters.ResponseReceived()
			return out, nil
		}
		last, lastErr = out, err

		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Warn("transient fetch failure, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := f.sleep(ctx, wait); serr != nil {
			return last, fmt.Errorf("fetch %s: backoff interrupted: %w", rawURL, serr)
		}
	}

	var fe *FetchError
	if errors.As(lastErr, &fe) && fe.Reason == ReasonPermanentHTTP {
		fe.Attempts = last.Attempts
		return last, fe
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return last, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
	}
	last.Failure = ReasonRetriesExhausted
	return last, &FetchError{
		URL:        rawURL,
		Reason:     ReasonRetriesExhausted,
		StatusCode: last.StatusCode,
		Attempts:   last.Attempts,
		Err:        lastErr,
	}
}

// CheckPolicy validates that rawURL targets an allowed host.
func (f *Fetcher) CheckPolicy(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return &PolicyError{URL: rawURL}
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := f.allowed[host]; !ok {
		return &PolicyError{URL: rawURL, Host: host}
	}
	return nil
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, counters Counters, decode bool) (Outcome, error) {
	out := Outcome{URL: rawURL}
	delay := f.delay.Next()
	lo, hi := f.delay.Bounds()
	f.logger.Info("sending request",
		zap.String("url", rawURL),
		zap.Duration("delay", delay),
		zap.Duration("delay_min", lo),
		zap.Duration("delay_max", hi),
	)
	if err := f.sleep(ctx, delay); err != nil {
		return out, err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return out, err
		}
	}

	counters.RequestSent()
	resp, err := f.transport.Get(ctx, Request{URL: rawURL, Headers: f.headers.Clone(), Timeout: f.timeout})
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		reason := classifyNetworkError(err)
		out.Failure = reason
		f.logger.Warn("request failed", zap.String("url", rawURL), zap.String("reason", string(reason)), zap.Error(err))
		return out, &FetchError{URL: rawURL, Reason: reason, Err: err}
	}

	out.StatusCode = resp.StatusCode
	out.FinalURL = resp.FinalURL
	if out.FinalURL == "" {
		out.FinalURL = rawURL
	}
	out.FromCache = resp.FromCache
	counters.StatusReceived(resp.StatusCode)

	fields := []zap.Field{
		zap.String("url", out.FinalURL),
		zap.Int("status_code", resp.StatusCode),
		zap.Bool("from_cache", resp.FromCache),
	}
	if resp.StatusCode >= 400 {
		f.logger.Error("response status", fields...)
	} else {
		f.logger.Info("response status", fields...)
	}

	switch {
	case IsTransientStatus(resp.StatusCode):
		return out, &transientStatusError{code: resp.StatusCode}
	case resp.StatusCode >= 400:
		out.Failure = ReasonPermanentHTTP
		return out, &FetchError{URL: rawURL, Reason: ReasonPermanentHTTP, StatusCode: resp.StatusCode}
	}

	if !decode {
		out.Body = resp.Body
		return out, nil
	}
	body, err := f.decode(resp.Body, resp.ContentType)
	if err != nil {
		f.logger.Warn("charset conversion failed, keeping raw body",
			zap.String("encoding", f.encoding), zap.Error(err))
		body = resp.Body
	}
	out.Body = body
	return out, nil
}

// decode converts body from the configured encoding to UTF-8. Bodies whose
// Content-Type declares a charset were converted by the transport and are
// returned as is.
func (f *Fetcher) decode(body []byte, contentType string) ([]byte, error) {
	name := strings.ToLower(strings.TrimSpace(f.encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return body, nil
	}
	if declaresCharset(contentType) {
		return body, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("lookup encoding %q: %w", name, err)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	return out, nil
}

func declaresCharset(contentType string) bool {
	if contentType == "" {
		return false
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "charset=")
	}
	return strings.TrimSpace(params["charset"]) != ""
}

func classifyNetworkError(err error) FailureReason {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonConnectionError
}
