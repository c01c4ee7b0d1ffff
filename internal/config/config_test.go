package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"cache addrs", func(c *Config) { c.Cache.Enabled = true }, "cache.addrs"},
		{"rerank provider", func(c *Config) { c.Rerank.Provider = "cohere" }, "rerank.provider"},
		{"rerank url", func(c *Config) { c.Rerank.Provider = "http" }, "rerank.url"},
		{"rerank command", func(c *Config) { c.Rerank.Provider = "command" }, "rerank.command"},
		{"alpha", func(c *Config) { c.Retrieval.Alpha = ptr(1.2) }, "retrieval.alpha"},
		{"prefilter", func(c *Config) { c.Retrieval.PrefilterThreshold = ptr(-0.1) }, "prefilter_threshold"},
		{"fusion", func(c *Config) { c.Retrieval.Fusion = "borda" }, "retrieval.fusion"},
		{"rerank width", func(c *Config) { c.Retrieval.RerankWidth = 80 }, "rerank_width"},
		{"top k", func(c *Config) { c.Retrieval.DefaultTopK = 500 }, "default_top_k"},
		{"embed text", func(c *Config) { c.Build.EmbedText = "title" }, "build.embed_text"},
		{"overlap", func(c *Config) { c.Corpus.ChunkOverlap = 3000 }, "chunk_overlap"},
		{"dimensions", func(c *Config) { c.Embedding.Dimensions = -1 }, "embedding.dimensions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 8080 || cfg.HTTP.ReadTimeoutSec != 10 || cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("http defaults = %+v", cfg.HTTP)
	}
	if *cfg.Retrieval.Alpha != 0.5 || cfg.Retrieval.Fusion != "weighted" || cfg.Retrieval.RRFK != 60 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if *cfg.Retrieval.PrefilterThreshold != 0.2 || !*cfg.Retrieval.RerankByDefault {
		t.Errorf("retrieval filter defaults = %+v", cfg.Retrieval)
	}
	if cfg.Corpus.ChunkSize != 3000 || cfg.Corpus.ChunkOverlap != 200 {
		t.Errorf("corpus defaults = %+v", cfg.Corpus)
	}
	if cfg.Metadata.MinChars != 50 || cfg.Rerank.Provider != "none" || cfg.Build.EmbedText != "keywords" {
		t.Errorf("defaults: metadata %+v rerank %+v build %+v", cfg.Metadata, cfg.Rerank, cfg.Build)
	}
	if !*cfg.Resilience.BreakerEnabled {
		t.Error("breaker should default to enabled")
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:      HTTPConfig{Port: 9000, ReadTimeoutSec: 30},
		Embedding: EmbeddingConfig{APIKey: "emb-key", BaseURL: "https://emb.example/v1"},
		Retrieval: RetrievalConfig{Alpha: ptr(0.0), Fusion: "rrf"},
		Corpus:    CorpusConfig{ChunkSize: 1000, ChunkOverlap: 100},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 9000 || cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("http overridden: %+v", cfg.HTTP)
	}
	if *cfg.Retrieval.Alpha != 0 {
		t.Errorf("explicit alpha 0 replaced with %v", *cfg.Retrieval.Alpha)
	}
	if cfg.Retrieval.Fusion != "rrf" || cfg.Corpus.ChunkSize != 1000 {
		t.Errorf("overridden: %+v %+v", cfg.Retrieval, cfg.Corpus)
	}
	if cfg.Metadata.APIKey != "emb-key" || cfg.Metadata.BaseURL != "https://emb.example/v1" {
		t.Errorf("metadata should inherit embedding credentials: %+v", cfg.Metadata)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("POLICYRAG_TEST_KEY", "sk-123")
	got := string(expandEnvVars([]byte("key: ${POLICYRAG_TEST_KEY}\nurl: ${POLICYRAG_TEST_UNSET:-http://localhost}\nempty: ${POLICYRAG_TEST_UNSET}")))
	want := "key: sk-123\nurl: http://localhost\nempty: "
	if got != want {
		t.Errorf("expandEnvVars = %q, want %q", got, want)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yml := `
http:
  port: ${POLICYRAG_TEST_PORT:-8181}
retrieval:
  alpha: 0.7
  fusion: rrf
snapshot:
  root: /tmp/policyrag
`
	if err := os.WriteFile(filepath.Join(dir, "config", "unittest.yaml"), []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("unittest")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8181 || *cfg.Retrieval.Alpha != 0.7 || cfg.Retrieval.Fusion != "rrf" {
		t.Errorf("loaded = %+v %+v", cfg.HTTP, cfg.Retrieval)
	}
	if cfg.Snapshot.Root != "/tmp/policyrag" || cfg.Corpus.ChunkSize != 3000 {
		t.Errorf("loaded = %+v %+v", cfg.Snapshot, cfg.Corpus)
	}
}
