package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the single-file configuration schema. Nested sections map
// naturally onto flags and env vars.
type FileConfig struct {
	Proxy struct {
		Base         string `yaml:"base" json:"base"`
		Key          string `yaml:"key" json:"key"`
		SERPZone     string `yaml:"serpZone" json:"serpZone"`
		UnlockerZone string `yaml:"unlockerZone" json:"unlockerZone"`
	} `yaml:"proxy" json:"proxy"`

	LLM struct {
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
		APIKey  string `yaml:"key" json:"key"`
	} `yaml:"llm" json:"llm"`

	// Durations are Go duration strings ("45s", "2h").
	Budget struct {
		SearchCalls     int    `yaml:"searchCalls" json:"searchCalls"`
		DocumentFetches int    `yaml:"documentFetches" json:"documentFetches"`
		Bytes           int64  `yaml:"bytes" json:"bytes"`
		WallClock       string `yaml:"wallClock" json:"wallClock"`
	} `yaml:"budget" json:"budget"`

	Timeouts struct {
		SERP     string `yaml:"serp" json:"serp"`
		Direct   string `yaml:"direct" json:"direct"`
		Unlocker string `yaml:"unlocker" json:"unlocker"`
		Document string `yaml:"document" json:"document"`
	} `yaml:"timeouts" json:"timeouts"`

	Cache struct {
		Path       string            `yaml:"path" json:"path"`
		Search     string            `yaml:"search" json:"search"`
		Page       string            `yaml:"page" json:"page"`
		Extraction string            `yaml:"extraction" json:"extraction"`
		Degraded   string            `yaml:"degraded" json:"degraded"`
		Domains    map[string]string `yaml:"domains" json:"domains"`
	} `yaml:"cache" json:"cache"`

	BlockedDomains []string `yaml:"blockedDomains" json:"blockedDomains"`

	Locale     string  `yaml:"locale" json:"locale"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	TopN       int     `yaml:"topN" json:"topN"`

	Verbose        bool `yaml:"verbose" json:"verbose"`
	SkipExtraction bool `yaml:"skipExtraction" json:"skipExtraction"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays FileConfig values into cfg for fields that are
// currently unset, so flags and env stay higher precedence.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	setString(&cfg.ProxyBaseURL, fc.Proxy.Base)
	setString(&cfg.ProxyAPIKey, fc.Proxy.Key)
	setString(&cfg.SERPZone, fc.Proxy.SERPZone)
	setString(&cfg.UnlockerZone, fc.Proxy.UnlockerZone)
	setString(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	setString(&cfg.LLMModel, fc.LLM.Model)
	setString(&cfg.LLMAPIKey, fc.LLM.APIKey)
	setString(&cfg.CachePath, fc.Cache.Path)
	setString(&cfg.Locale, fc.Locale)

	if cfg.MaxSearchCalls == 0 && fc.Budget.SearchCalls > 0 {
		cfg.MaxSearchCalls = fc.Budget.SearchCalls
	}
	if cfg.MaxDocumentFetches == 0 && fc.Budget.DocumentFetches > 0 {
		cfg.MaxDocumentFetches = fc.Budget.DocumentFetches
	}
	if cfg.MaxBytes == 0 && fc.Budget.Bytes > 0 {
		cfg.MaxBytes = fc.Budget.Bytes
	}
	setDuration := func(dst *time.Duration, v string) {
		if *dst != 0 || v == "" {
			return
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
	setDuration(&cfg.MaxWallClock, fc.Budget.WallClock)
	setDuration(&cfg.SERPTimeout, fc.Timeouts.SERP)
	setDuration(&cfg.DirectTimeout, fc.Timeouts.Direct)
	setDuration(&cfg.UnlockerTimeout, fc.Timeouts.Unlocker)
	setDuration(&cfg.DocumentTimeout, fc.Timeouts.Document)
	setDuration(&cfg.SearchTTL, fc.Cache.Search)
	setDuration(&cfg.PageTTL, fc.Cache.Page)
	setDuration(&cfg.ExtractionTTL, fc.Cache.Extraction)
	setDuration(&cfg.DegradedTTL, fc.Cache.Degraded)

	if len(cfg.DomainTTLs) == 0 && len(fc.Cache.Domains) > 0 {
		overrides := map[string]time.Duration{}
		for dom, v := range fc.Cache.Domains {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				overrides[dom] = d
			}
		}
		if len(overrides) > 0 {
			cfg.DomainTTLs = overrides
		}
	}
	if len(cfg.BlockedDomains) == 0 && len(fc.BlockedDomains) > 0 {
		cfg.BlockedDomains = append([]string{}, fc.BlockedDomains...)
	}
	if cfg.ConfidenceThreshold == 0 && fc.Confidence > 0 {
		cfg.ConfidenceThreshold = fc.Confidence
	}
	if cfg.TopN == 0 && fc.TopN > 0 {
		cfg.TopN = fc.TopN
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
	if !cfg.SkipExtraction && fc.SkipExtraction {
		cfg.SkipExtraction = true
	}
}

// ValidateConfig performs minimal schema validation. Explain mode may omit
// the proxy and model settings since nothing is fetched.
func ValidateConfig(cfg Config) error {
	if !cfg.Explain {
		if strings.TrimSpace(cfg.ProxyBaseURL) == "" {
			return errors.New("config: proxy base url is required (or set PROXY_BASE_URL)")
		}
		if strings.TrimSpace(cfg.SERPZone) == "" {
			return errors.New("config: serp zone is required (or set PROXY_SERP_ZONE)")
		}
		if !cfg.SkipExtraction && strings.TrimSpace(cfg.LLMModel) == "" {
			return errors.New("config: llm model is required (or set LLM_MODEL, or pass -skip-extraction)")
		}
	}
	if cfg.MaxSearchCalls < 0 || cfg.MaxDocumentFetches < 0 || cfg.MaxBytes < 0 {
		return errors.New("config: negative budget caps are not allowed")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return errors.New("config: confidence threshold must be within [0,1]")
	}
	return nil
}
