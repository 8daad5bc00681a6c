package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/selector"
)

const baseURL = "https://books.example/"

func detailPage(rating, stock, reviews, img string) string {
	return fmt.Sprintf(`<html><body><article class="product_page"><div class="row">
  <div class="item active"><img src="%s" alt="cover"></div>
  <div class="product_main">
    <h1>  A Light in the Attic
    </h1>
    <p class="star-rating %s"></p>
  </div>
</div>
<table class="table">
  <tr><th>UPC</th><td>1053632</td></tr>
  <tr><th>Price (excl. tax)</th><td>£51.77</td></tr>
  <tr><th>Availability</th><td>%s</td></tr>
  <tr><th>Number of reviews</th><td>%s</td></tr>
</table></article></body></html>`, img, rating, stock, reviews)
}

func newPipeline(t *testing.T) (*Pipeline, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	p, err := New(Schema{Container: "article > div.row", Table: "table", Fields: DefaultFields()},
		baseURL, zap.New(core))
	require.NoError(t, err)
	return p, logs
}

func process(t *testing.T, p *Pipeline, html string) Record {
	t.Helper()
	doc, err := selector.Parse([]byte(html))
	require.NoError(t, err)
	raw, err := p.Extract(doc, baseURL+"catalogue/a-light_1000/index.html")
	require.NoError(t, err)
	return p.Normalize(raw)
}

// TestNormalizeWellFormedPage shapes every default field.
func TestNormalizeWellFormedPage(t *testing.T) {
	t.Parallel()

	p, logs := newPipeline(t)
	rec := process(t, p, detailPage("Three", "In stock (22 available)", "0", "../../media/cache/fe/72/cover.jpg"))

	assert.Equal(t, []string{"url", "title", "price", "star", "reviews", "stock", "upc", "image_url"}, rec.Fields())
	assert.Equal(t, []string{
		baseURL + "catalogue/a-light_1000/index.html",
		"A Light in the Attic",
		"£51.77",
		"3",
		"0",
		"22",
		"1053632",
		baseURL + "media/cache/fe/72/cover.jpg",
	}, rec.Row())
	star, _ := rec.Get("star")
	assert.Equal(t, 3, star)
	assert.Zero(t, logs.Len())
}

// TestRatingWords maps One..Five and rejects anything else.
func TestRatingWords(t *testing.T) {
	t.Parallel()

	for word, want := range map[string]int{"One": 1, "Two": 2, "Three": 3, "Four": 4, "Five": 5} {
		p, _ := newPipeline(t)
		rec := process(t, p, detailPage(word, "In stock (1 available)", "1", "x.jpg"))
		got, _ := rec.Get("star")
		assert.Equal(t, want, got, word)
	}

	p, logs := newPipeline(t)
	rec := process(t, p, detailPage("Six", "In stock (1 available)", "1", "x.jpg"))
	got, _ := rec.Get("star")
	assert.Equal(t, Sentinel, got)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "star", logs.All()[0].ContextMap()["field"])
}

// TestRatingReadsTokenAfterStarRating ignores trailing class tokens.
func TestRatingReadsTokenAfterStarRating(t *testing.T) {
	t.Parallel()

	p, logs := newPipeline(t)
	rec := process(t, p, detailPage("Three extra", "In stock (1 available)", "1", "x.jpg"))
	got, _ := rec.Get("star")
	assert.Equal(t, 3, got)
	assert.Zero(t, logs.Len())
}

// TestStockExtraction parses the available count and rejects other text.
func TestStockExtraction(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	rec := process(t, p, detailPage("One", "In stock (22 available)", "1", "x.jpg"))
	got, _ := rec.Get("stock")
	assert.Equal(t, 22, got)

	p, logs := newPipeline(t)
	rec = process(t, p, detailPage("One", "Out of stock", "1", "x.jpg"))
	got, _ = rec.Get("stock")
	assert.Equal(t, Sentinel, got)
	assert.Equal(t, 1, logs.Len())
}

// TestBadFieldsNeverDropKeys keeps the full field set when values are malformed.
func TestBadFieldsNeverDropKeys(t *testing.T) {
	t.Parallel()

	p, logs := newPipeline(t)
	html := `<html><body><article><div class="row"><p class="star-rating"></p></div>
<table><tr><th>Number of reviews</th><td>many</td></tr></table></article></body></html>`
	rec := process(t, p, html)

	assert.Equal(t, p.Fields(), rec.Fields())
	for _, name := range []string{"title", "price", "star", "reviews", "stock", "upc", "image_url"} {
		assert.Equal(t, Sentinel, rec.String(name), name)
	}
	assert.Equal(t, 7, logs.Len())
}

// TestImageURLMustBeJPG rejects non-jpg references.
func TestImageURLMustBeJPG(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	rec := process(t, p, detailPage("One", "In stock (1 available)", "1", "../../media/cover.png"))
	assert.Equal(t, Sentinel, rec.String("image_url"))
}

// TestExtractStructuralFailure aborts when the container is absent.
func TestExtractStructuralFailure(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	doc, err := selector.Parse([]byte(`<html><body><table></table></body></html>`))
	require.NoError(t, err)
	_, err = p.Extract(doc, baseURL)
	require.ErrorIs(t, err, ErrStructural)

	doc, err = selector.Parse([]byte(`<html><body><article><div class="row"></div></article></body></html>`))
	require.NoError(t, err)
	_, err = p.Extract(doc, baseURL)
	require.ErrorIs(t, err, ErrStructural)
}

// TestImageURLResolution resolves the container image against the base URL.
func TestImageURLResolution(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	doc, err := selector.Parse([]byte(detailPage("One", "x", "1", "../../media/cache/cover.jpg")))
	require.NoError(t, err)
	raw, err := p.Extract(doc, baseURL)
	require.NoError(t, err)

	src, err := p.ImageURL(raw, "div.item > img")
	require.NoError(t, err)
	assert.Equal(t, baseURL+"media/cache/cover.jpg", src)

	_, err = p.ImageURL(raw, "div.gallery > img")
	require.ErrorIs(t, err, ErrImageMissing)
}

// TestSchemaValidate rejects unknown kinds and duplicate names.
func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	err := Schema{Fields: []FieldSpec{{Name: "a", Scope: ScopePage, Kind: "weird"}}}.Validate()
	require.Error(t, err)
	err = Schema{Fields: []FieldSpec{
		{Name: "a", Scope: ScopePage, Kind: KindURL},
		{Name: "a", Scope: ScopePage, Kind: KindURL},
	}}.Validate()
	require.Error(t, err)
	err = Schema{Fields: []FieldSpec{{Name: "t", Scope: ScopeContainer, Selector: "h1", Kind: KindText}}}.Validate()
	require.Error(t, err)
	require.NoError(t, Schema{Container: "div", Table: "table", Fields: DefaultFields()}.Validate())
}
