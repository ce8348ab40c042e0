package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvToConfig(t *testing.T) {
	t.Setenv("PROXY_BASE_URL", "https://proxy.example")
	t.Setenv("PROXY_SERP_ZONE", "serp1")
	t.Setenv("MAX_SEARCH_CALLS", "7")
	t.Setenv("MAX_WALL_CLOCK", "30s")
	t.Setenv("BLOCKED_DOMAINS", "a.com, b.com")
	t.Setenv("DOMAIN_TTLS", "vivino.com=2h,decanter.com=45m")
	t.Setenv("VERBOSE", "true")

	cfg := Config{ProxyBaseURL: "https://explicit.example"}
	ApplyEnvToConfig(&cfg)

	if cfg.ProxyBaseURL != "https://explicit.example" {
		t.Fatalf("explicit value overwritten: %q", cfg.ProxyBaseURL)
	}
	if cfg.SERPZone != "serp1" || cfg.MaxSearchCalls != 7 || cfg.MaxWallClock != 30*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.BlockedDomains) != 2 || cfg.BlockedDomains[1] != "b.com" {
		t.Fatalf("blocked domains = %v", cfg.BlockedDomains)
	}
	if cfg.DomainTTLs["decanter.com"] != 45*time.Minute {
		t.Fatalf("domain ttls = %v", cfg.DomainTTLs)
	}
	if !cfg.Verbose {
		t.Fatal("verbose not set")
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winesleuth.yaml")
	data := `
proxy:
  base: https://proxy.example
  serpZone: serp1
  unlockerZone: unlock1
llm:
  model: gpt-4o-mini
budget:
  searchCalls: 9
  wallClock: 45s
cache:
  path: /tmp/ws.db
  domains:
    vivino.com: 2h
locale: en-gb
confidence: 0.8
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var cfg Config
	ApplyFileConfig(&cfg, fc)
	if cfg.ProxyBaseURL != "https://proxy.example" || cfg.SERPZone != "serp1" || cfg.UnlockerZone != "unlock1" {
		t.Fatalf("proxy section = %+v", cfg)
	}
	if cfg.LLMModel != "gpt-4o-mini" || cfg.MaxSearchCalls != 9 || cfg.MaxWallClock != 45*time.Second {
		t.Fatalf("llm/budget = %+v", cfg)
	}
	if cfg.CachePath != "/tmp/ws.db" || cfg.DomainTTLs["vivino.com"] != 2*time.Hour {
		t.Fatalf("cache = %+v", cfg)
	}
	if cfg.Locale != "en-gb" || cfg.ConfidenceThreshold != 0.8 {
		t.Fatalf("locale/confidence = %+v", cfg)
	}
}

func TestApplyFileConfig_FlagsWin(t *testing.T) {
	cfg := Config{SERPZone: "flagzone", MaxSearchCalls: 3}
	var fc FileConfig
	fc.Proxy.SERPZone = "filezone"
	fc.Budget.SearchCalls = 99
	ApplyFileConfig(&cfg, fc)
	if cfg.SERPZone != "flagzone" || cfg.MaxSearchCalls != 3 {
		t.Fatalf("file config overrode explicit values: %+v", cfg)
	}
}

func TestPrecedence_FlagsOverEnvOverFile(t *testing.T) {
	t.Setenv("LLM_MODEL", "model-from-env")
	t.Setenv("PROXY_SERP_ZONE", "zone-from-env")

	var fc FileConfig
	fc.LLM.Model = "model-from-file"
	fc.Proxy.SERPZone = "zone-from-file"
	fc.Locale = "it-it"

	// Same layering as the CLI: flag-built config, then env, then file.
	cfg := Config{SERPZone: "zone-from-flag"}
	ApplyEnvToConfig(&cfg)
	ApplyFileConfig(&cfg, fc)

	if cfg.SERPZone != "zone-from-flag" {
		t.Fatalf("flag value lost: %q", cfg.SERPZone)
	}
	if cfg.LLMModel != "model-from-env" {
		t.Fatalf("file outranked env: %q", cfg.LLMModel)
	}
	if cfg.Locale != "it-it" {
		t.Fatalf("file did not fill unset field: %q", cfg.Locale)
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{}); err == nil {
		t.Fatal("missing proxy must fail validation")
	}
	if err := ValidateConfig(Config{Explain: true}); err != nil {
		t.Fatalf("explain mode must not require proxy: %v", err)
	}
	ok := Config{ProxyBaseURL: "https://p", SERPZone: "z", SkipExtraction: true}
	if err := ValidateConfig(ok); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := ok
	bad.ConfidenceThreshold = 1.5
	if err := ValidateConfig(bad); err == nil {
		t.Fatal("out-of-range confidence accepted")
	}
	needsModel := Config{ProxyBaseURL: "https://p", SERPZone: "z"}
	if err := ValidateConfig(needsModel); err == nil {
		t.Fatal("extraction without model accepted")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := "# comment\nPROXY_API_KEY=\"secret\"\nMALFORMED\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXY_API_KEY", "")
	if err := LoadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("PROXY_API_KEY"); got != "secret" {
		t.Fatalf("PROXY_API_KEY = %q", got)
	}
}
