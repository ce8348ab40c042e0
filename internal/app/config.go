package app

import "time"

// Config holds runtime configuration for one winesleuth process.
type Config struct {
	// Scraping proxy
	ProxyBaseURL string
	ProxyAPIKey  string
	SERPZone     string
	UnlockerZone string

	// Extraction model (OpenAI-compatible)
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	// Per-request budget caps; zero means library default.
	MaxSearchCalls     int
	MaxDocumentFetches int
	MaxBytes           int64
	MaxWallClock       time.Duration

	// Per-operation timeouts
	SERPTimeout     time.Duration
	DirectTimeout   time.Duration
	UnlockerTimeout time.Duration
	DocumentTimeout time.Duration

	// BlockedDomains forces unlocker routing beyond the source catalog.
	BlockedDomains []string

	// Cache
	CachePath     string
	SearchTTL     time.Duration
	PageTTL       time.Duration
	ExtractionTTL time.Duration
	DegradedTTL   time.Duration
	// DomainTTLs shortens cache TTLs for domains known to flap.
	DomainTTLs map[string]time.Duration

	// Discovery
	Locale              string
	ConfidenceThreshold float64
	TopN                int
	MaxPageChars        int

	// Behavior
	Explain        bool
	Verbose        bool
	SkipExtraction bool
}
