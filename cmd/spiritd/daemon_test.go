package main

import (
	"testing"
	"time"

	"github.com/haasonsaas/spiritd/internal/config"
	"github.com/haasonsaas/spiritd/internal/sandbox"
	"github.com/haasonsaas/spiritd/internal/store"
)

func TestDialectFromConfig(t *testing.T) {
	cases := map[string]store.Dialect{
		"postgres": store.DialectPostgres,
		"sqlite3":  store.DialectSQLite,
		"sqlite":   store.DialectSQLitePure,
		"":         store.DialectSQLitePure,
		"bogus":    store.DialectSQLitePure,
	}
	for in, want := range cases {
		if got := dialectFromConfig(in); got != want {
			t.Errorf("dialectFromConfig(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompactorConfigCopiesTuning(t *testing.T) {
	cfg := compactorConfig(config.CompactorConfig{
		ChunkSize:        30,
		KeepRecent:       7,
		MaxSummaryTokens: 2048,
		ClipFirst:        1,
		ClipLast:         3,
	})
	if cfg.ChunkSize != 30 || cfg.KeepRecent != 7 || cfg.MaxSummaryTokens != 2048 || cfg.ClipFirst != 1 || cfg.ClipLast != 3 {
		t.Fatalf("unexpected compactor config: %+v", cfg)
	}
}

func TestSandboxOptionsAppliesRuntimePathOnlyWhenSet(t *testing.T) {
	withPath := sandboxOptions(config.SandboxConfig{DenoPath: "/usr/local/bin/deno", Timeout: time.Second})
	withoutPath := sandboxOptions(config.SandboxConfig{Timeout: time.Second})
	if len(withPath) != len(withoutPath)+1 {
		t.Fatalf("expected one extra option when deno_path is set, got %d vs %d", len(withPath), len(withoutPath))
	}
}

func TestSandboxOptionsAppliesAllowRun(t *testing.T) {
	opts := sandboxOptions(config.SandboxConfig{
		Timeout:  time.Second,
		AllowRun: []string{"git", "ls"},
	})

	var cfg sandbox.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Capabilities.AllowedRun) != 2 || cfg.Capabilities.AllowedRun[0] != "git" || cfg.Capabilities.AllowedRun[1] != "ls" {
		t.Fatalf("expected allow_run entries to reach Capabilities.AllowedRun, got %+v", cfg.Capabilities.AllowedRun)
	}
}

func TestBuildModelRejectsMissingAPIKey(t *testing.T) {
	if _, err := buildModel(config.ModelConfig{Provider: "anthropic", APIKey: ""}); err == nil {
		t.Fatalf("expected an error when no API key is configured")
	}
}

func TestBuildEmbedderRequiresAPIKey(t *testing.T) {
	if _, err := buildEmbedder(config.EmbeddingConfig{Provider: "openai"}); err == nil {
		t.Fatalf("expected an error when no API key is configured")
	}
}
