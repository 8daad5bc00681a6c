package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><body>
<article class="product_page"><div class="row">
  <h1>A Light in the Attic</h1>
  <p class="star-rating Three">stars</p>
  <div class="item active"><img src="../../media/cache/fe/72/cover.jpg" alt="cover"></div>
</div>
<table>
  <tr><th>UPC</th><td>a897fe39b1053632</td></tr>
  <tr><th>Price (excl. tax)</th><td>£51.77</td></tr>
</table></article>
<ul><li class="next"><a href="page-2.html">next</a></li></ul>
</body></html>`

// TestSelectOneAndAll covers single and multi element selection.
func TestSelectOneAndAll(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	row, ok := doc.SelectOne("article > div.row")
	require.True(t, ok)
	title, ok := row.SelectOne("h1")
	require.True(t, ok)
	assert.Equal(t, "A Light in the Attic", title.Text())

	cells := doc.SelectAll("table td")
	require.Len(t, cells, 2)
	assert.Equal(t, "£51.77", cells[1].Text())

	_, ok = doc.SelectOne("li.previous > a")
	assert.False(t, ok)
	assert.Empty(t, doc.SelectAll("li.previous > a"))
}

// TestElementAttributesAndClasses reads attribute values and class tokens.
func TestElementAttributesAndClasses(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	img, ok := doc.SelectOne("div.item > img")
	require.True(t, ok)
	src, ok := img.Attr("src")
	require.True(t, ok)
	assert.Equal(t, "../../media/cache/fe/72/cover.jpg", src)
	_, ok = img.Attr("data-missing")
	assert.False(t, ok)

	rating, ok := doc.SelectOne("p.star-rating")
	require.True(t, ok)
	assert.Equal(t, []string{"star-rating", "Three"}, rating.Classes())
}

// TestContainsPseudoClass supports header-cell lookups by label text.
func TestContainsPseudoClass(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(page))
	require.NoError(t, err)

	price, ok := doc.SelectOne(`th:contains("excl") + td`)
	require.True(t, ok)
	assert.Equal(t, "£51.77", price.Text())
}

// TestZeroElementIsSafe ensures an empty handle never panics.
func TestZeroElementIsSafe(t *testing.T) {
	t.Parallel()

	var e Element
	assert.Empty(t, e.Text())
	assert.Nil(t, e.Classes())
	_, ok := e.SelectOne("a")
	assert.False(t, ok)
}
