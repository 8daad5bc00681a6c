// Package collyfetcher implements the fetcher.Transport HTTP capability using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/cache"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration

	// Wrap decorates the pooled base transport, e.g. with the response cache.
	Wrap func(http.RoundTripper) http.RoundTripper
}

// Transport implements fetcher.Transport using the Colly collector.
type Transport struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	c := colly.NewCollector(colly.Async(false))
	// Retries revisit the same URL and error statuses are classified upstream.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.Wrap != nil {
		transport = cfg.Wrap(transport)
	}
	c.WithTransport(transport)

	return &Transport{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET using Colly.
func (t *Transport) Get(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	var (
		result   fetcher.Response
		fetchErr error
	)
	collector := t.buildCollector(req, &result, &fetchErr)
	if err := t.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	return result, nil
}

func (t *Transport) buildCollector(
	req fetcher.Request,
	result *fetcher.Response,
	fetchErr *error,
) *colly.Collector {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(t.transport)

	t.configureCollectorHooks(collector, req, result, fetchErr)
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	req fetcher.Request,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		t.copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := req.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		fromCache := false
		contentType := ""
		if r.Headers != nil {
			fromCache = r.Headers.Get(cache.HeaderFromCache) != ""
			contentType = r.Headers.Get("Content-Type")
		}
		// Colly has already converted declared non-UTF-8 charsets.
		*result = fetcher.Response{
			StatusCode:  r.StatusCode,
			FinalURL:    finalURL,
			Body:        append([]byte(nil), r.Body...),
			FromCache:   fromCache,
			ContentType: contentType,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (t *Transport) copyHeaders(req fetcher.Request, r *colly.Request) {
	if req.Headers == nil {
		return
	}
	for key, values := range req.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
