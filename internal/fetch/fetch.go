// Package fetch retrieves and normalizes page content for extraction. It
// routes anti-bot domains through the content-unlocking proxy, revalidates
// stale cache entries conditionally, classifies blocked and consent pages,
// and records every terminal outcome in the cache so retries are
// rate-limited by TTL.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/cellarist/winesleuth/internal/budget"
	"github.com/cellarist/winesleuth/internal/cache"
	"github.com/cellarist/winesleuth/internal/dedup"
	"github.com/cellarist/winesleuth/internal/wine"
)

// MinContentLength is the threshold below which extracted text is treated
// as insufficient for extraction.
const MinContentLength = 200

// Result is the structured outcome of one fetch. Err is informational;
// callers branch on Success/Blocked/Status, never on error identity.
type Result struct {
	URL         string
	Content     string
	Success     bool
	Status      cache.Status
	StatusCode  int
	Blocked     bool
	Revalidated bool
	FromCache   bool
	Err         error
}

// Fetcher retrieves pages and documents. It is a process-wide service; the
// per-request state (budget) is passed per call.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
	Cache      *cache.Store
	Dedup      *dedup.Group
	Unlocker   *Unlocker
	// BlockedDomains forces unlocker routing for domains beyond those the
	// source catalog already marks.
	BlockedDomains []string

	// DirectTimeout bounds plain fetches; UnlockerTimeout is longer since
	// the proxy renders the page server-side. DocumentTimeout bounds
	// pdf/doc downloads.
	DirectTimeout   time.Duration
	UnlockerTimeout time.Duration
	DocumentTimeout time.Duration
}

func (f *Fetcher) directTimeout() time.Duration {
	if f.DirectTimeout > 0 {
		return f.DirectTimeout
	}
	return 15 * time.Second
}

func (f *Fetcher) unlockerTimeout() time.Duration {
	if f.UnlockerTimeout > 0 {
		return f.UnlockerTimeout
	}
	return 45 * time.Second
}

func (f *Fetcher) documentTimeout() time.Duration {
	if f.DocumentTimeout > 0 {
		return f.DocumentTimeout
	}
	return 30 * time.Second
}

// Fetch retrieves pageURL and returns at most maxLen characters of
// normalized text. Document URLs (pdf/doc/xls) consume the document-fetch
// budget; everything else is a page fetch.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, maxLen int, b *budget.Budget) Result {
	if maxLen <= 0 {
		maxLen = 12_000
	}
	v, _, err := f.Dedup.Do(dedup.Key("fetch", pageURL), func() (any, error) {
		return f.fetchOnce(ctx, pageURL, maxLen, b), nil
	})
	if err != nil {
		return Result{URL: pageURL, Status: cache.StatusError, Err: err}
	}
	return v.(Result)
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string, maxLen int, b *budget.Budget) Result {
	if IsDocumentURL(pageURL) {
		return f.fetchDocument(ctx, pageURL, maxLen, b)
	}

	// Cache first, stale entries included so they can drive revalidation.
	var stale *cache.PageEntry
	if f.Cache != nil {
		e, err := f.Cache.GetPage(ctx, pageURL, true)
		if err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("page cache read failed")
		} else if e != nil {
			if !e.Stale {
				return cachedResult(pageURL, e)
			}
			stale = e
		}
	}

	useUnlocker := f.routeThroughUnlocker(pageURL)

	// A stale valid entry is worth a conditional request before paying for
	// a full refetch. The unlocker path cannot carry conditional headers.
	if stale != nil && stale.Status == cache.StatusValid && !useUnlocker {
		if res, ok := f.revalidate(ctx, pageURL, stale, maxLen, b); ok {
			return res
		}
	}

	var body string
	var statusCode int
	var err error
	if useUnlocker {
		body, statusCode, err = f.fetchUnlocked(ctx, pageURL, b)
	} else {
		body, statusCode, err = f.fetchDirect(ctx, pageURL, "", "", b)
	}
	return f.classify(ctx, pageURL, body, statusCode, maxLen, false, err)
}

// revalidate attempts a conditional GET using the URL's recorded
// validators. A 304 refreshes the entry's freshness and serves the cached
// content; a changed page is classified as a normal fetch outcome. Returns
// ok=false only when no validators exist.
func (f *Fetcher) revalidate(ctx context.Context, pageURL string, stale *cache.PageEntry, maxLen int, b *budget.Budget) (Result, bool) {
	meta, err := f.Cache.GetURLMeta(ctx, pageURL)
	if err != nil || meta == nil || (meta.ETag == "" && meta.LastModified == "") {
		return Result{}, false
	}
	body, statusCode, err := f.fetchDirect(ctx, pageURL, meta.ETag, meta.LastModified, b)
	if err == nil && statusCode == http.StatusNotModified {
		if terr := f.Cache.TouchPage(ctx, pageURL); terr != nil {
			log.Warn().Err(terr).Str("url", pageURL).Msg("revalidation refresh failed")
		}
		log.Debug().Str("url", pageURL).Msg("revalidated from cache")
		return Result{
			URL:         pageURL,
			Content:     stale.Record.Content,
			Success:     true,
			Status:      cache.StatusValid,
			StatusCode:  statusCode,
			Revalidated: true,
			FromCache:   true,
		}, true
	}
	return f.classify(ctx, pageURL, body, statusCode, maxLen, false, err), true
}

func (f *Fetcher) fetchDirect(ctx context.Context, pageURL, etag, lastMod string, b *budget.Budget) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.directTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", 0, err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	raw, err := f.readBody(resp.Body, b)
	if err != nil {
		return "", resp.StatusCode, err
	}
	// A 304 carries no payload and must not overwrite the recorded
	// validators.
	if resp.StatusCode != http.StatusNotModified {
		f.recordMeta(ctx, pageURL, resp, len(raw))
	}
	return string(raw), resp.StatusCode, nil
}

func (f *Fetcher) fetchUnlocked(ctx context.Context, pageURL string, b *budget.Budget) (string, int, error) {
	if f.Unlocker == nil {
		return "", 0, errors.New("unlocker proxy not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, f.unlockerTimeout())
	defer cancel()
	body, statusCode, err := f.Unlocker.Fetch(ctx, pageURL)
	if err != nil {
		return "", statusCode, err
	}
	if b != nil && !b.ReserveBytes(int64(len(body))) {
		return "", statusCode, errBudgetBytes
	}
	if f.Cache != nil {
		_ = f.Cache.RecordURLMeta(ctx, cache.URLMeta{
			URL: pageURL, ByteSize: int64(len(body)), Status: cache.StatusValid,
		})
	}
	return body, statusCode, nil
}

// fetchDocument downloads a pdf/doc/xls on the document budget. Binary
// payloads are stored raw, not text-extracted; the caller hands them to
// the document pipeline. The cache still records the outcome.
func (f *Fetcher) fetchDocument(ctx context.Context, docURL string, maxLen int, b *budget.Budget) Result {
	if f.Cache != nil {
		if e, err := f.Cache.GetPage(ctx, docURL, false); err == nil && e != nil {
			return cachedResult(docURL, e)
		}
	}
	if b != nil && !b.ReserveDocumentFetch() {
		log.Info().Str("url", docURL).Msg("document budget exhausted, skipping")
		return Result{URL: docURL, Status: cache.StatusEmpty}
	}
	ctx, cancel := context.WithTimeout(ctx, f.documentTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return Result{URL: docURL, Status: cache.StatusError, Err: err}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := f.httpClient().Do(req)
	if err != nil {
		return f.classify(ctx, docURL, "", 0, maxLen, true, err)
	}
	defer resp.Body.Close()
	raw, err := f.readBody(resp.Body, b)
	if err != nil {
		return f.classify(ctx, docURL, "", resp.StatusCode, maxLen, true, err)
	}
	f.recordMeta(ctx, docURL, resp, len(raw))
	return f.classify(ctx, docURL, string(raw), resp.StatusCode, maxLen, true, nil)
}

var errBudgetBytes = errors.New("byte budget exhausted")

func (f *Fetcher) readBody(r io.Reader, b *budget.Budget) ([]byte, error) {
	const hardCap = 2 << 20 // never read more than 2 MiB from one page
	raw, err := io.ReadAll(io.LimitReader(r, hardCap))
	if err != nil {
		return nil, err
	}
	if b != nil && !b.ReserveBytes(int64(len(raw))) {
		return nil, errBudgetBytes
	}
	return raw, nil
}

func (f *Fetcher) recordMeta(ctx context.Context, pageURL string, resp *http.Response, size int) {
	if f.Cache == nil {
		return
	}
	status := cache.StatusValid
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = cache.StatusError
	}
	_ = f.Cache.RecordURLMeta(ctx, cache.URLMeta{
		URL:          pageURL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentType:  resp.Header.Get("Content-Type"),
		ByteSize:     int64(size),
		Status:       status,
	})
}

// classify turns the raw outcome of a network attempt into a Result and
// writes the corresponding cache entry. Every terminal branch below caches
// so a failing URL is retried on the TTL's schedule, not unconditionally.
// Document bodies skip text extraction and the length cap; their payload
// passes through raw.
func (f *Fetcher) classify(ctx context.Context, pageURL, body string, statusCode, maxLen int, document bool, err error) Result {
	put := func(content string, status cache.Status, errMsg string) {
		if f.Cache == nil {
			return
		}
		rec := cache.PageRecord{URL: pageURL, Content: content, StatusCode: statusCode, ErrorMessage: errMsg}
		if perr := f.Cache.PutPage(ctx, rec, status, 0); perr != nil {
			log.Warn().Err(perr).Str("url", pageURL).Msg("page cache write failed")
		}
	}

	switch {
	case errors.Is(err, errBudgetBytes):
		// Budget exhaustion is a request-local condition, not a property
		// of the URL; it must not poison the cache.
		return Result{URL: pageURL, Status: cache.StatusEmpty, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		put("", cache.StatusTimeout, "timeout")
		return Result{URL: pageURL, Status: cache.StatusTimeout, Err: err}
	case err != nil:
		put("", cache.StatusError, err.Error())
		return Result{URL: pageURL, Status: cache.StatusError, Err: err}
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		put("", cache.StatusGone, "")
		return Result{URL: pageURL, Status: cache.StatusGone, StatusCode: statusCode}
	case statusCode < 200 || statusCode > 299:
		status := cache.StatusError
		if statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests {
			status = cache.StatusBlocked
		}
		put("", status, http.StatusText(statusCode))
		return Result{URL: pageURL, Status: status, StatusCode: statusCode, Blocked: status == cache.StatusBlocked}
	}

	if IsBlockedBody(body) {
		put("", cache.StatusBlocked, "anti-bot interstitial")
		return Result{URL: pageURL, Status: cache.StatusBlocked, StatusCode: statusCode, Blocked: true}
	}

	text := body
	if !document {
		text = truncateRunes(f.extractText(pageURL, body), maxLen)
	}
	if len(strings.TrimSpace(text)) < MinContentLength {
		put(text, cache.StatusEmpty, "")
		return Result{URL: pageURL, Content: text, Status: cache.StatusEmpty, StatusCode: statusCode}
	}
	put(text, cache.StatusValid, "")
	return Result{URL: pageURL, Content: text, Success: true, Status: cache.StatusValid, StatusCode: statusCode}
}

// extractText prefers the site-specific hydration payload on known SPA
// rating sites and falls back to generic tag stripping.
func (f *Fetcher) extractText(pageURL, body string) string {
	if src, ok := wine.ByDomain(hostOf(pageURL)); ok && src.SPA {
		if text, ok := FromHydration(body); ok {
			return text
		}
	}
	return FromHTML(body)
}

// truncateRunes cuts s to at most max bytes without splitting a rune at
// the boundary.
func truncateRunes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (f *Fetcher) routeThroughUnlocker(pageURL string) bool {
	host := hostOf(pageURL)
	if src, ok := wine.ByDomain(host); ok && src.Unlocker {
		return f.Unlocker != nil
	}
	for _, d := range f.BlockedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if host == d || strings.HasSuffix(host, "."+d) {
			return f.Unlocker != nil
		}
	}
	return false
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

func cachedResult(pageURL string, e *cache.PageEntry) Result {
	return Result{
		URL:        pageURL,
		Content:    e.Record.Content,
		Success:    e.Status == cache.StatusValid,
		Status:     e.Status,
		StatusCode: e.Record.StatusCode,
		Blocked:    e.Status == cache.StatusBlocked,
		FromCache:  true,
	}
}

// IsDocumentURL reports whether the URL points at a downloadable document
// rather than a web page.
func IsDocumentURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf", ".doc", ".docx", ".xls", ".xlsx":
		return true
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
