package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "")
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("ENRICHMENT_FIELDS", "")

	cfg := Load()
	if cfg.Pipeline.BatchSize != MaxBatchSize {
		t.Fatalf("expected batch size %d, got %d", MaxBatchSize, cfg.Pipeline.BatchSize)
	}
	if got := cfg.Enrichment.Fields; len(got) != 2 || got[0] != "appcode" || got[1] != "lob" {
		t.Fatalf("unexpected enrichment fields %v", got)
	}
	if cfg.Pipeline.RetryBaseDelay != time.Second {
		t.Fatalf("expected 1s base delay, got %s", cfg.Pipeline.RetryBaseDelay)
	}
	if err := cfg.Validate(); err != ErrMissingProjectID {
		t.Fatalf("expected ErrMissingProjectID, got %v", err)
	}
}

func TestLoadClampsBatchSize(t *testing.T) {
	t.Setenv("GCP_PROJECT_ID", "proj")
	t.Setenv("BATCH_SIZE", "1200")

	cfg := Load()
	if cfg.Pipeline.BatchSize != MaxBatchSize {
		t.Fatalf("expected clamp to %d, got %d", MaxBatchSize, cfg.Pipeline.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}

func TestGetenvHelpers(t *testing.T) {
	t.Setenv("X_LIST", " a, ,b ,c")
	t.Setenv("X_DURATION", "2")
	t.Setenv("X_BOOL", "off")

	if got := GetenvList("X_LIST", nil); len(got) != 3 || got[1] != "b" {
		t.Fatalf("unexpected list %v", got)
	}
	if got := GetenvDuration("X_DURATION", 0); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	if GetenvBool("X_BOOL", true) {
		t.Fatalf("expected false")
	}
	if got := GetenvInt("X_MISSING", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}
