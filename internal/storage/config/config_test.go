package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Features.Percentile.Enabled {
		t.Error("expected percentile enabled by default")
	}
	if cfg.Archive.Enabled {
		t.Error("expected archive disabled by default")
	}
	if cfg.Archive.Retention <= 0 {
		t.Error("expected positive archive retention")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid archive", func(c *Config) {
			c.DataDir = "/tmp/aura"
			c.Archive.Enabled = true
		}, ""},
		{"bad accuracy", func(c *Config) { c.Features.Percentile.Accuracy = 1.5 }, "accuracy"},
		{"accuracy ignored when disabled", func(c *Config) {
			c.Features.Percentile.Enabled = false
			c.Features.Percentile.Accuracy = 0
		}, ""},
		{"bad compression", func(c *Config) { c.Features.Compression.Algorithm = "brotli" }, "algorithm"},
		{"bad schedule", func(c *Config) {
			c.DataDir = "/tmp/aura"
			c.Archive.Enabled = true
			c.Archive.Schedule = "every tuesday"
		}, "schedule"},
		{"archive without dir", func(c *Config) { c.Archive.Enabled = true }, "archive.dir"},
		{"archive retention", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Dir = "/tmp/a"
			c.Archive.Retention = 0
		}, "archive.retention"},
		{"archive checks skipped when disabled", func(c *Config) { c.Archive.Schedule = "nope" }, ""},
		{"memory limit", func(c *Config) { c.Query.MemoryLimit = "lots" }, "memory_limit"},
		{"query timeout", func(c *Config) { c.Query.Timeout = 0 }, "timeout"},
		{"max rows", func(c *Config) { c.Query.MaxRows = -1 }, "max_rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
			if !errors.IsConfig(err) {
				t.Errorf("error should be a config error: %v", err)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.Timeout = 0
	cfg.Query.MaxRows = 0

	var verrs *errors.ValidationErrors
	if err := cfg.Validate(); !errors.As(err, &verrs) || len(verrs.Errors) != 2 {
		t.Errorf("Validate() = %v, want 2 collected errors", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.yaml")

	content := `
data_dir: /var/lib/aura
archive:
  enabled: true
  schedule: "*/15 * * * *"
  retention: 720h
  bucket_size: 5m
features:
  compression:
    algorithm: snappy
query:
  memory_limit: 1GB
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ArchiveDir() != filepath.Join("/var/lib/aura", "archive") {
		t.Errorf("archive dir = %s", cfg.ArchiveDir())
	}
	if cfg.Archive.Retention != 720*time.Hour || cfg.Archive.BucketSize != 5*time.Minute {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Features.Compression.Algorithm != "snappy" {
		t.Errorf("algorithm = %s", cfg.Features.Compression.Algorithm)
	}
	// Untouched values keep defaults.
	if cfg.Query.MaxRows != DefaultConfig().Query.MaxRows {
		t.Errorf("max_rows = %d", cfg.Query.MaxRows)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.IsIO(err) {
		t.Errorf("missing file error = %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("archive: [unclosed"), 0644)
	if _, err := Load(bad); !errors.IsConfig(err) {
		t.Errorf("parse error = %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("query:\n  max_rows: 0\n"), 0644)
	if _, err := Load(invalid); !errors.IsConfig(err) {
		t.Errorf("validation error = %v", err)
	}
}

func TestArchiveDir(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ArchiveDir() != "" {
		t.Error("no data dir should mean no archive dir")
	}
	if err := cfg.EnsureDirectories(); !errors.IsConfig(err) {
		t.Errorf("EnsureDirectories() error = %v", err)
	}

	cfg.DataDir = t.TempDir()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if st, err := os.Stat(cfg.ArchiveDir()); err != nil || !st.IsDir() {
		t.Errorf("archive dir not created: %v", err)
	}

	cfg.Archive.Dir = "/elsewhere"
	if cfg.ArchiveDir() != "/elsewhere" {
		t.Errorf("override ignored: %s", cfg.ArchiveDir())
	}
}

func TestCalculateRequirements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Enabled = true
	cfg.Archive.Retention = 10 * 24 * time.Hour

	r := cfg.CalculateRequirements(Plan{
		Interval:       time.Second,
		StoreRetention: 24 * time.Hour,
		LiveBuffer:     3600,
		ExportEvery:    time.Hour,
	})

	if r.SnapshotsPerDay != 86400 {
		t.Errorf("snapshots/day = %d", r.SnapshotsPerDay)
	}
	if r.StoreBytes != 86400*bytesPerStoreRow {
		t.Errorf("store bytes = %d", r.StoreBytes)
	}
	if r.ArchiveBytes != 10*86400*bytesPerArchiveRow {
		t.Errorf("archive bytes = %d", r.ArchiveBytes)
	}
	if r.ArchiveFiles != 240*filesPerExport {
		t.Errorf("archive files = %d", r.ArchiveFiles)
	}
	if r.QueryCacheBytes != 512_000_000 {
		t.Errorf("query cache = %d", r.QueryCacheBytes)
	}

	out := r.FormatRequirements()
	for _, want := range []string{"86,400", "Archive:", "480 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted output missing %q:\n%s", want, out)
		}
	}

	if zero := cfg.CalculateRequirements(Plan{}); zero.TotalBytes != 0 {
		t.Error("zero interval should estimate nothing")
	}
}
