package crawler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// catalogSite serves a synthetic catalog: categories x listing pages x books.
type catalogSite struct {
	categories int
	pages      int
	books      int

	mu    sync.Mutex
	paths []string

	// onRequest runs before every response, outside the lock.
	onRequest func(path string)
}

func newCatalogSite(t *testing.T, categories, pages, books int) (*catalogSite, *httptest.Server) {
	t.Helper()
	site := &catalogSite{categories: categories, pages: pages, books: books}
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)
	return site, srv
}

func (s *catalogSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	hook := s.onRequest
	s.mu.Unlock()
	if hook != nil {
		hook(r.URL.Path)
	}

	p := r.URL.Path
	switch {
	case p == "/" || p == "/index.html":
		s.writeIndex(w)
	case strings.HasPrefix(p, "/catalogue/category/books/"):
		var cat, pg int
		rest := strings.TrimPrefix(p, "/catalogue/category/books/")
		if _, err := fmt.Sscanf(rest, "cat-%d/index.html", &cat); err == nil && strings.HasSuffix(rest, "/index.html") {
			pg = 1
		} else if _, err := fmt.Sscanf(rest, "cat-%d/page-%d.html", &cat, &pg); err != nil {
			http.NotFound(w, r)
			return
		}
		s.writeListing(w, cat, pg)
	case strings.HasPrefix(p, "/catalogue/book-"):
		var cat, pg, book int
		if _, err := fmt.Sscanf(p, "/catalogue/book-%d-%d-%d/index.html", &cat, &pg, &book); err != nil {
			http.NotFound(w, r)
			return
		}
		s.writeDetail(w, cat, pg, book)
	case strings.HasPrefix(p, "/media/cache/"):
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	default:
		http.NotFound(w, r)
	}
}

func (s *catalogSite) writeIndex(w http.ResponseWriter) {
	var b strings.Builder
	b.WriteString(`<html><body><ul class="nav nav-list"><li><a href="catalogue/category/books_1/index.html">Books</a><ul>`)
	for c := 1; c <= s.categories; c++ {
		fmt.Fprintf(&b, `<li><a href="catalogue/category/books/cat-%d/index.html">Category %d</a></li>`, c, c)
	}
	b.WriteString(`</ul></li></ul></body></html>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *catalogSite) writeListing(w http.ResponseWriter, cat, pg int) {
	var b strings.Builder
	b.WriteString(`<html><body><ol class="row">`)
	for i := 1; i <= s.books; i++ {
		fmt.Fprintf(&b, `<li><article class="product_pod"><h3><a href="../../../book-%d-%d-%d/index.html">Book</a></h3></article></li>`,
			cat, pg, i)
	}
	b.WriteString(`</ol><ul class="pager">`)
	if pg < s.pages {
		fmt.Fprintf(&b, `<li class="next"><a href="page-%d.html">next</a></li>`, pg+1)
	}
	b.WriteString(`</ul></body></html>`)
	_, _ = w.Write([]byte(b.String()))
}

func (s *catalogSite) writeDetail(w http.ResponseWriter, cat, pg, book int) {
	fmt.Fprintf(w, `<html><body><article class="product_page"><div class="row">
<div class="item active"><img src="../../media/cache/%[1]d-%[2]d-%[3]d.jpg" alt="cover"></div>
<div class="product_main"><h1>Book %[1]d-%[2]d-%[3]d</h1><p class="star-rating Four"></p></div>
</div>
<table class="table table-striped">
<tr><th>UPC</th><td>%[1]d%[2]d%[3]d</td></tr>
<tr><th>Price (excl. tax)</th><td>£10.00</td></tr>
<tr><th>Availability</th><td>In stock (%[3]d available)</td></tr>
<tr><th>Number of reviews</th><td>0</td></tr>
</table></article></body></html>`, cat, pg, book)
}

func (s *catalogSite) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *catalogSite) countPrefix(prefix string) int {
	n := 0
	for _, p := range s.requests() {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

// newStaticServer serves fixed HTML bodies by path and 404 otherwise.
func newStaticServer(t *testing.T, pages map[string]string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html><body>" + body + "</body></html>"))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
