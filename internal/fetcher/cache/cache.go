// Package cache provides a persistent response cache exposed as an
// http.RoundTripper, keyed by request method, URL and headers.
package cache

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// HeaderFromCache is set on responses served from the cache.
const HeaderFromCache = "X-From-Cache"

// Hasher digests request fingerprints into cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Entry is the persisted form of one cached response.
type Entry struct {
	Dump     []byte
	StoredAt time.Time
}

func init() {
	gob.Register(Entry{})
}

// Config controls the cache.
type Config struct {
	// Path is the gob file the cache is loaded from and saved to. Empty disables persistence.
	Path string
	// TTL bounds how long an entry is served; zero keeps entries forever.
	TTL time.Duration
}

// Store is a caching RoundTripper. Only successful GET responses are stored.
type Store struct {
	cfg    Config
	items  *gocache.Cache
	hasher Hasher
	logger *zap.Logger
}

// New builds an empty Store.
func New(cfg Config, hasher Hasher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Store{
		cfg:    cfg,
		items:  gocache.New(ttl, 0),
		hasher: hasher,
		logger: logger,
	}
}

// Wrap returns a RoundTripper that consults the store before next.
func (s *Store) Wrap(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{store: s, next: next}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	return s.items.ItemCount()
}

// Load reads persisted entries. A missing file is not an error.
func (s *Store) Load() error {
	if s.cfg.Path == "" {
		return nil
	}
	if err := s.items.LoadFile(s.cfg.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load response cache %s: %w", s.cfg.Path, err)
	}
	s.items.DeleteExpired()
	s.logger.Info("response cache loaded", zap.String("path", s.cfg.Path), zap.Int("entries", s.Len()))
	return nil
}

// Save persists the live entries so later runs can reuse them.
func (s *Store) Save() error {
	if s.cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	s.items.DeleteExpired()
	if err := s.items.SaveFile(s.cfg.Path); err != nil {
		return fmt.Errorf("save response cache %s: %w", s.cfg.Path, err)
	}
	return nil
}

// Key returns the cache key for req.
func (s *Store) Key(req *http.Request) (string, error) {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL.String())
	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(req.Header.Values(name), ","))
	}
	key, err := s.hasher.Hash([]byte(b.String()))
	if err != nil {
		return "", fmt.Errorf("hash cache key: %w", err)
	}
	return key, nil
}

func (s *Store) lookup(key string, req *http.Request) (*http.Response, bool) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(Entry)
	if !ok {
		s.items.Delete(key)
		return nil, false
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(entry.Dump)), req)
	if err != nil {
		s.logger.Warn("dropping unreadable cache entry", zap.String("url", req.URL.String()), zap.Error(err))
		s.items.Delete(key)
		return nil, false
	}
	resp.Header.Set(HeaderFromCache, "1")
	return resp, true
}

func (s *Store) store(key string, resp *http.Response) error {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("dump response: %w", err)
	}
	s.items.Set(key, Entry{Dump: dump, StoredAt: time.Now()}, gocache.DefaultExpiration)
	return nil
}

type roundTripper struct {
	store *Store
	next  http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return rt.next.RoundTrip(req)
	}
	key, err := rt.store.Key(req)
	if err != nil {
		return nil, err
	}
	if resp, ok := rt.store.lookup(key, req); ok {
		return resp, nil
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp, nil
	}
	// DumpResponse buffers the body and restores it for the caller.
	if err := rt.store.store(key, resp); err != nil {
		rt.store.logger.Warn("response not cached", zap.String("url", req.URL.String()), zap.Error(err))
		if resp.Body == nil {
			resp.Body = io.NopCloser(bytes.NewReader(nil))
		}
	}
	return resp, nil
}
