package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

const minimalConfig = `
sources:
  - id: demo
    adapter: static
    enabled: true
    seeds:
      - https://example.com/rent
    page_param: ep
    listing:
      card_selector: a.card
      fields:
        Title: h1.title
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Harvest.RetryBudget != 3 {
		t.Errorf("retry_budget = %d, want 3", cfg.Harvest.RetryBudget)
	}
	if cfg.Harvest.BackoffBase != 2*time.Second {
		t.Errorf("backoff_base = %v, want 2s", cfg.Harvest.BackoffBase)
	}
	if cfg.Harvest.MaxPages != 50 {
		t.Errorf("max_pages = %d, want 50", cfg.Harvest.MaxPages)
	}
	if cfg.Assets.Workers != 10 {
		t.Errorf("assets.workers = %d, want 10", cfg.Assets.Workers)
	}
	if cfg.Sink.Placeholder != "not found" {
		t.Errorf("sink.placeholder = %q", cfg.Sink.Placeholder)
	}
	if cfg.Progress.Driver != "sqlite" {
		t.Errorf("progress.driver = %q, want sqlite", cfg.Progress.Driver)
	}
}

func TestLoadParsesSources(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.ID != "demo" || !src.Enabled || src.PageParam != "ep" {
		t.Errorf("source = %+v", src)
	}
	if src.Listing.Fields["Title"] != "h1.title" {
		t.Errorf("field selector = %q", src.Listing.Fields["Title"])
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Harvest: HarvestConfig{PageWorkers: 2},
			Assets:  AssetsConfig{Workers: 10},
			Sources: []SourceConfig{
				{ID: "a", Adapter: "static", Seeds: []string{"https://x"}},
			},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}, wantErr: false},
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }, wantErr: true},
		{name: "missing id", mutate: func(c *Config) { c.Sources[0].ID = "" }, wantErr: true},
		{name: "duplicate id", mutate: func(c *Config) {
			c.Sources = append(c.Sources, c.Sources[0])
		}, wantErr: true},
		{name: "no seeds", mutate: func(c *Config) { c.Sources[0].Seeds = nil }, wantErr: true},
		{name: "unknown adapter", mutate: func(c *Config) { c.Sources[0].Adapter = "carrier-pigeon" }, wantErr: true},
		{name: "browser adapter ok", mutate: func(c *Config) { c.Sources[0].Adapter = "browser" }, wantErr: false},
		{name: "zero page workers", mutate: func(c *Config) { c.Harvest.PageWorkers = 0 }, wantErr: true},
		{name: "zero asset workers", mutate: func(c *Config) { c.Assets.Workers = 0 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
