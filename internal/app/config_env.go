package app

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment
// variables. Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	setString := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.ProxyBaseURL, "PROXY_BASE_URL")
	setString(&cfg.ProxyAPIKey, "PROXY_API_KEY")
	setString(&cfg.SERPZone, "PROXY_SERP_ZONE")
	setString(&cfg.UnlockerZone, "PROXY_UNLOCKER_ZONE")

	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")

	setString(&cfg.CachePath, "CACHE_PATH")
	setString(&cfg.Locale, "LOCALE", "LANGUAGE")

	if cfg.MaxSearchCalls == 0 {
		if n, err := strconv.Atoi(os.Getenv("MAX_SEARCH_CALLS")); err == nil && n > 0 {
			cfg.MaxSearchCalls = n
		}
	}
	if cfg.MaxDocumentFetches == 0 {
		if n, err := strconv.Atoi(os.Getenv("MAX_DOCUMENT_FETCHES")); err == nil && n > 0 {
			cfg.MaxDocumentFetches = n
		}
	}
	if cfg.MaxBytes == 0 {
		if n, err := strconv.ParseInt(os.Getenv("MAX_BYTES"), 10, 64); err == nil && n > 0 {
			cfg.MaxBytes = n
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if *dst != 0 {
			return
		}
		if s := os.Getenv(key); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}
	setDuration(&cfg.MaxWallClock, "MAX_WALL_CLOCK")
	setDuration(&cfg.SERPTimeout, "SERP_TIMEOUT")
	setDuration(&cfg.DirectTimeout, "FETCH_TIMEOUT")
	setDuration(&cfg.UnlockerTimeout, "UNLOCKER_TIMEOUT")
	setDuration(&cfg.DocumentTimeout, "DOCUMENT_TIMEOUT")
	setDuration(&cfg.SearchTTL, "SEARCH_TTL")
	setDuration(&cfg.PageTTL, "PAGE_TTL")
	setDuration(&cfg.ExtractionTTL, "EXTRACTION_TTL")
	setDuration(&cfg.DegradedTTL, "DEGRADED_TTL")

	// BLOCKED_DOMAINS is a comma-separated list.
	if len(cfg.BlockedDomains) == 0 {
		if s := strings.TrimSpace(os.Getenv("BLOCKED_DOMAINS")); s != "" {
			for _, d := range strings.Split(s, ",") {
				if d = strings.TrimSpace(d); d != "" {
					cfg.BlockedDomains = append(cfg.BlockedDomains, d)
				}
			}
		}
	}

	// DOMAIN_TTLS is "domain=duration,domain=duration".
	if len(cfg.DomainTTLs) == 0 {
		if s := strings.TrimSpace(os.Getenv("DOMAIN_TTLS")); s != "" {
			overrides := map[string]time.Duration{}
			for _, pair := range strings.Split(s, ",") {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					continue
				}
				if d, err := time.ParseDuration(strings.TrimSpace(kv[1])); err == nil {
					overrides[strings.TrimSpace(kv[0])] = d
				}
			}
			if len(overrides) > 0 {
				cfg.DomainTTLs = overrides
			}
		}
	}

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
		case "1", "true", "yes", "on":
			*dst = true
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.Explain, "EXPLAIN")
	setBool(&cfg.SkipExtraction, "SKIP_EXTRACTION")
}

// LoadEnvFiles loads dotenv files of KEY=VALUE pairs into the process
// environment. Later files override earlier ones; missing files are
// skipped. Lines starting with '#' and blank lines are ignored.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := loadEnvFile(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		_ = os.Setenv(key, val)
	}
	return scanner.Err()
}
