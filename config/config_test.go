package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	// No config file on the search path; defaults must apply.
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search.MaxParallel != 5 {
		t.Errorf("search.max_parallel = %d, want 5", cfg.Search.MaxParallel)
	}
	if cfg.Session.Timeout != 55*time.Second {
		t.Errorf("session.timeout = %v, want 55s", cfg.Session.Timeout)
	}
	if cfg.Queue.RateBurst != 3 || cfg.Queue.MaxRetries != 3 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Session.MinRelevance != 0.7 {
		t.Errorf("session.min_relevance = %v, want 0.7", cfg.Session.MinRelevance)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"search": {"max_parallel": 2}, "session": {"min_relevance": 0.5}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Search.MaxParallel != 2 {
		t.Errorf("search.max_parallel = %d, want 2", cfg.Search.MaxParallel)
	}
	if cfg.Session.MinRelevance != 0.5 {
		t.Errorf("session.min_relevance = %v, want 0.5", cfg.Session.MinRelevance)
	}
	// Untouched keys keep their defaults.
	if cfg.Browser.PoolSize != 5 {
		t.Errorf("browser.pool_size = %d, want default 5", cfg.Browser.PoolSize)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"session": {"min_relevance": 7}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted min_relevance 7, want error")
	}
}
