package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.StartURL != "https://books.toscrape.com/" {
		t.Fatalf("unexpected start url %q", cfg.Crawler.StartURL)
	}
	if cfg.Delay() != 2*time.Second || !cfg.Crawler.Randomize {
		t.Fatalf("expected randomized 2s delay, got %v randomize=%v", cfg.Delay(), cfg.Crawler.Randomize)
	}
	if cfg.Crawler.CatalogPageLimit != 2 || cfg.Crawler.DetailPageLimit != 2 {
		t.Fatalf("expected page limits 2/2")
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BackoffBase != time.Second {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Crawler.RequestTimeout != 3500*time.Millisecond {
		t.Fatalf("expected 3.5s request timeout, got %v", cfg.Crawler.RequestTimeout)
	}
	if len(cfg.Fields) != len(extract.DefaultFields()) {
		t.Fatalf("expected default fields, got %d", len(cfg.Fields))
	}
	if len(cfg.Logging.OutputPaths) != 0 {
		t.Fatalf("expected no extra log outputs, got %v", cfg.Logging.OutputPaths)
	}
	if cfg.Logging.File != "tmp.log" {
		t.Fatalf("expected tmp.log, got %q", cfg.Logging.File)
	}
	if cfg.APIKey() != "" {
		t.Fatalf("expected auth disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  start_url: https://shop.example/
  base_url: https://shop.example/
  allowed_domains: [shop.example]
  delay_seconds: 0.5
  randomize: false
  encoding: iso-8859-1
  catalog_page_limit: 0
  detail_page_limit: 3
retry:
  max_attempts: 2
  backoff_base: 250ms
output:
  dir: ` + dir + `
  extension: tsv
  images: false
  image_title: cover
fields:
  - name: url
    scope: page
    kind: url
  - name: upc
    scope: table
    selector: 'th:contains("UPC") + td'
    kind: text
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.APIKey() != "secret" {
		t.Fatalf("expected server overrides to apply")
	}
	crawl := cfg.CrawlConfig()
	if crawl.StartURL != "https://shop.example/" || crawl.CatalogPageLimit != 0 || crawl.DetailPageLimit != 3 {
		t.Fatalf("unexpected crawl config %+v", crawl)
	}
	if crawl.Images || crawl.ImageTitle != "cover" {
		t.Fatalf("expected image overrides to apply")
	}
	fetch := cfg.FetchConfig()
	if fetch.Delay != 500*time.Millisecond || fetch.Randomize || fetch.Encoding != "iso-8859-1" {
		t.Fatalf("unexpected fetch config %+v", fetch)
	}
	if fetch.MaxAttempts != 2 || fetch.BackoffBase != 250*time.Millisecond {
		t.Fatalf("unexpected retry overrides %+v", fetch)
	}
	schema := cfg.Schema()
	if len(schema.Fields) != 2 || schema.Fields[1].Kind != extract.KindText {
		t.Fatalf("expected field overrides, got %+v", schema.Fields)
	}
	if schema.Container != "article > div.row" {
		t.Fatalf("expected default container selector, got %q", schema.Container)
	}
	if w := cfg.WriterConfig(); w.Extension != "tsv" || w.Images {
		t.Fatalf("unexpected writer config %+v", w)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "relative start url",
			cfg: func() Config {
				c := base
				c.Crawler.StartURL = "/catalogue/"
				return c
			}(),
			want: "crawler.start_url",
		},
		{
			name: "start host not allowed",
			cfg: func() Config {
				c := base
				c.Crawler.AllowedDomains = []string{"other.example"}
				return c
			}(),
			want: "crawler.allowed_domains",
		},
		{
			name: "negative limit",
			cfg: func() Config {
				c := base
				c.Crawler.DetailPageLimit = -1
				return c
			}(),
			want: "page limits",
		},
		{
			name: "no attempts",
			cfg: func() Config {
				c := base
				c.Retry.MaxAttempts = 0
				return c
			}(),
			want: "retry.max_attempts",
		},
		{
			name: "unknown field kind",
			cfg: func() Config {
				c := base
				c.Fields = []extract.FieldSpec{{Name: "x", Scope: extract.ScopePage, Kind: "colour"}}
				return c
			}(),
			want: "unknown kind",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
