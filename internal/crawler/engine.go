package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/control"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher"
	"github.com/JakeFAU/catalog-crawler/internal/selector"
)

// ErrNoLinks is returned when a mandatory link selector matches nothing.
var ErrNoLinks = errors.New("no links matched")

// Selectors locate navigation links on catalog pages.
type Selectors struct {
	CategoryLinks string
	DetailLinks   string
	NextPage      string
	Image         string
}

// Config is the immutable per-run traversal configuration.
type Config struct {
	StartURL string
	BaseURL  string

	// CatalogPageLimit caps categories; DetailPageLimit caps listing pages
	// per category. Zero means unbounded.
	CatalogPageLimit int
	DetailPageLimit  int
	Selectors        Selectors
	Images           bool
	ImageTitle       string
}

// PageFetcher is the fetch layer used by the engine.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, counters fetcher.Counters) (fetcher.Outcome, error)
	FetchBytes(ctx context.Context, rawURL string, counters fetcher.Counters) (fetcher.Outcome, error)
}

// Checkpointer is the control gate as seen by the crawl goroutine.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Collector receives the run output.
type Collector interface {
	AddRecord(rec extract.Record)
	AddImage(title string, data []byte) string
}

// AbortError is the run-abort fault for every non-cancellation failure.
type AbortError struct {
	Stage    string
	URL      string
	Err      error
	Snapshot Snapshot
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("crawl aborted during %s (%s): %v", e.Stage, e.URL, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Traversal stages reported on AbortError.
const (
	StageStart    = "start page"
	StageCategory = "category page"
	StageNextPage = "next page"
	StageDetail   = "detail page"
	StageImage    = "image"
)

// Deps are the collaborators of one run.
type Deps struct {
	Fetcher  PageFetcher
	Gate     Checkpointer
	Pipeline *extract.Pipeline
	Result   Collector
	State    *RunState
	Clock    Clock
	Logger   *zap.Logger
}

// Engine runs one traversal.
type Engine struct {
	cfg    Config
	deps   Deps
	shaper *Shaper
	logger *zap.Logger
}

type page struct {
	url string
	doc *selector.Document
}

// New validates cfg and wires the engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("start url is required")
	}
	if deps.Fetcher == nil || deps.Gate == nil || deps.Pipeline == nil || deps.Result == nil ||
		deps.State == nil || deps.Clock == nil {
		return nil, fmt.Errorf("crawler dependencies are incomplete")
	}
	shaper, err := NewShaper(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, shaper: shaper, logger: logger}, nil
}

// Run performs the traversal. It returns nil on completion, an error
// matching control.ErrCancelled on cancellation, and *AbortError otherwise.
// The summary is logged in every case.
func (e *Engine) Run(ctx context.Context) error {
	err := e.run(ctx)
	e.LogSummary()
	if err == nil {
		return nil
	}
	if errors.Is(err, control.ErrCancelled) {
		e.logger.Info("crawl cancelled")
		return err
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		abort.Snapshot = e.deps.State.Snapshot(e.deps.Clock.Now())
		e.logger.Error("crawl aborted",
			zap.String("stage", abort.Stage),
			zap.String("url", abort.URL),
			zap.Error(abort.Err),
		)
	}
	return err
}

func (e *Engine) run(ctx context.Context) error {
	start, err := e.fetchPage(ctx, e.cfg.StartURL, StageStart)
	if err != nil {
		return err
	}
	categories, err := e.links(start, e.cfg.Selectors.CategoryLinks, false, StageStart)
	if err != nil {
		return err
	}
	for i, categoryURL := range categories {
		if e.cfg.CatalogPageLimit > 0 && i >= e.cfg.CatalogPageLimit {
			break
		}
		if err := e.deps.Gate.Checkpoint(ctx); err != nil {
			return err
		}
		if err := e.crawlCategory(ctx, categoryURL); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) crawlCategory(ctx context.Context, categoryURL string) error {
	listing, err := e.fetchPage(ctx, categoryURL, StageCategory)
	if err != nil {
		return err
	}
	for pageNo := 1; ; pageNo++ {
		details, err := e.links(listing, e.cfg.Selectors.DetailLinks, false, StageCategory)
		if err != nil {
			return err
		}
		for _, detailURL := range details {
			if err := e.deps.Gate.Checkpoint(ctx); err != nil {
				return err
			}
			if err := e.crawlDetail(ctx, detailURL); err != nil {
				return err
			}
		}

		if e.cfg.DetailPageLimit > 0 && pageNo >= e.cfg.DetailPageLimit {
			return nil
		}
		next, err := e.links(listing, e.cfg.Selectors.NextPage, true, StageNextPage)
		if err != nil {
			return err
		}
		if len(next) == 0 {
			return nil
		}
		if err := e.deps.Gate.Checkpoint(ctx); err != nil {
			return err
		}
		listing, err = e.fetchPage(ctx, next[0], StageNextPage)
		if err != nil {
			return err
		}
		e.logger.Info("moved to next listing page", zap.String("url", listing.url), zap.Int("page", pageNo+1))
	}
}

func (e *Engine) crawlDetail(ctx context.Context, detailURL string) error {
	pg, err := e.fetchPage(ctx, detailURL, StageDetail)
	if err != nil {
		return err
	}
	raw, err := e.deps.Pipeline.Extract(pg.doc, pg.url)
	if err != nil {
		return &AbortError{Stage: StageDetail, URL: pg.url, Err: err}
	}
	rec := e.deps.Pipeline.Normalize(raw)
	e.deps.State.RecordProcessed(rec.Len())
	for _, name := range rec.Fields() {
		e.logger.Info("record field", zap.String("field", name), zap.String("value", rec.String(name)))
	}
	e.deps.Result.AddRecord(rec)

	if !e.cfg.Images {
		return nil
	}
	return e.collectImage(ctx, raw)
}

// collectImage fetches the record image. A missing image element is only a warning.
func (e *Engine) collectImage(ctx context.Context, raw extract.RawRecord) error {
	src, err := e.deps.Pipeline.ImageURL(raw, e.cfg.Selectors.Image)
	if err != nil {
		e.logger.Warn("image skipped", zap.String("url", raw.URL), zap.Error(err))
		return nil
	}
	out, err := e.deps.Fetcher.FetchBytes(ctx, src, e.deps.State)
	if err != nil {
		return e.fetchFailure(StageImage, src, err)
	}
	name := e.deps.Result.AddImage(e.cfg.ImageTitle, out.Body)
	e.logger.Info("image stored", zap.String("src", src), zap.String("name", name))
	return nil
}

func (e *Engine) fetchPage(ctx context.Context, rawURL, stage string) (page, error) {
	e.logger.Info("crawling", zap.String("stage", stage), zap.String("url", rawURL))
	out, err := e.deps.Fetcher.Fetch(ctx, rawURL, e.deps.State)
	if err != nil {
		return page{}, e.fetchFailure(stage, rawURL, err)
	}
	doc, err := selector.Parse(out.Body)
	if err != nil {
		return page{}, &AbortError{Stage: stage, URL: rawURL, Err: err}
	}
	return page{url: out.FinalURL, doc: doc}, nil
}

// fetchFailure maps a fetch error to the run outcome. A fetch interrupted by
// a done context counts as cancellation.
func (e *Engine) fetchFailure(stage, rawURL string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", control.ErrCancelled, err)
	}
	return &AbortError{Stage: stage, URL: rawURL, Err: err}
}

// links extracts and shapes hrefs. When optional is set an empty match is
// not an error.
func (e *Engine) links(pg page, expr string, optional bool, stage string) ([]string, error) {
	elems := pg.doc.SelectAll(expr)
	if len(elems) == 0 {
		if optional {
			return nil, nil
		}
		return nil, &AbortError{Stage: stage, URL: pg.url, Err: fmt.Errorf("%w: %q", ErrNoLinks, expr)}
	}
	urls := make([]string, 0, len(elems))
	for _, el := range elems {
		href, ok := el.Attr("href")
		if !ok {
			return nil, &AbortError{Stage: stage, URL: pg.url, Err: fmt.Errorf("%w: %q has no href", ErrNoLinks, expr)}
		}
		shaped, err := e.shaper.Shape(href, pg.url)
		if err != nil {
			return nil, &AbortError{Stage: stage, URL: pg.url, Err: err}
		}
		urls = append(urls, shaped)
	}
	return urls, nil
}

// LogBanner logs the effective run settings.
func (e *Engine) LogBanner(userAgent string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("start_url", e.cfg.StartURL),
		zap.String("user_agent", userAgent),
		zap.Int("catalog_page_limit", e.cfg.CatalogPageLimit),
		zap.Int("detail_page_limit", e.cfg.DetailPageLimit),
		zap.Bool("images", e.cfg.Images),
	}
	e.logger.Info("----- crawl started -----", append(base, fields...)...)
}

// LogSummary logs the run counters.
func (e *Engine) LogSummary() {
	snap := e.deps.State.Snapshot(e.deps.Clock.Now())
	e.logger.Info("===== finished =====")
	e.logger.Info("> requests sent", zap.Int("count", snap.Requests))
	e.logger.Info("> responses received", zap.Int("count", snap.Responses))
	for _, code := range snap.StatusCodes() {
		e.logger.Info("> status code", zap.Int("code", code), zap.Int("count", snap.Statuses[code]))
	}
	e.logger.Info("> fields processed", zap.Int("count", snap.Fields))
	e.logger.Info("> elapsed", zap.String("elapsed", FormatElapsed(snap.Elapsed)))
}
