// Package cache persists search results, page content, extraction output
// and per-URL revalidation metadata in SQLite, with status-aware TTLs.
// Stale rows are kept rather than deleted so callers can attempt a
// conditional refetch before paying for a full one.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store owns the cache database. It is a process-wide service shared by
// all concurrent requests; SQLite serializes writes internally.
type Store struct {
	db     *sql.DB
	policy TTLPolicy
	now    func() time.Time
}

// Open opens or creates the cache database at path and ensures the schema.
func Open(path string, policy TTLPolicy) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache database path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// SQLite supports one writer; readers benefit from WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db, policy: policy, now: time.Now}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache tables: %w", err)
	}
	return s, nil
}

// WithClock replaces the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_cache (
		cache_key    TEXT PRIMARY KEY,
		query_type   TEXT NOT NULL,
		query_params TEXT NOT NULL,
		results      TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		status       TEXT NOT NULL,
		expires_at   INTEGER NOT NULL,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS page_cache (
		url_hash       TEXT PRIMARY KEY,
		url            TEXT NOT NULL,
		content        TEXT NOT NULL,
		content_length INTEGER NOT NULL,
		fetch_status   TEXT NOT NULL,
		status_code    INTEGER,
		error_message  TEXT,
		expires_at     INTEGER NOT NULL,
		created_at     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS extraction_cache (
		wine_id           TEXT NOT NULL,
		content_hash      TEXT NOT NULL,
		extraction_type   TEXT NOT NULL,
		extracted_ratings TEXT,
		extracted_windows TEXT,
		tasting_notes     TEXT,
		model_version     TEXT,
		status            TEXT NOT NULL,
		expires_at        INTEGER NOT NULL,
		created_at        INTEGER NOT NULL,
		PRIMARY KEY (wine_id, content_hash, extraction_type)
	);

	CREATE TABLE IF NOT EXISTS public_url_cache (
		url           TEXT PRIMARY KEY,
		etag          TEXT,
		last_modified TEXT,
		content_type  TEXT,
		byte_size     INTEGER NOT NULL DEFAULT 0,
		fetched_at    INTEGER NOT NULL,
		expires_at    INTEGER NOT NULL,
		fetch_count   INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_search_expires ON search_cache(expires_at);
	CREATE INDEX IF NOT EXISTS idx_page_expires ON page_cache(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetSearch looks a search entry up by key. A fresh hit is returned with
// Stale=false; an expired row is returned only when includeStale is set,
// flagged stale. Misses return (nil, nil).
func (s *Store) GetSearch(ctx context.Context, key string, includeStale bool) (*SearchEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT results, status, expires_at FROM search_cache WHERE cache_key = ?`, key)
	var resultsJSON, status string
	var expiresAt int64
	if err := row.Scan(&resultsJSON, &status, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("search cache lookup: %w", err)
	}
	e := &SearchEntry{
		Key:       key,
		Status:    Status(status),
		ExpiresAt: time.Unix(expiresAt, 0),
	}
	e.Stale = s.now().After(e.ExpiresAt)
	if e.Stale && !includeStale {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(resultsJSON), &e.Record); err != nil {
		return nil, fmt.Errorf("decode search record: %w", err)
	}
	return e, nil
}

// PutSearch writes a search entry. ttlOverride zero resolves the TTL from
// the policy (keyed on the first restricted domain, if any).
func (s *Store) PutSearch(ctx context.Context, key string, rec SearchRecord, status Status, ttlOverride time.Duration) error {
	ttl := ttlOverride
	if ttl <= 0 {
		domain := ""
		if len(rec.Domains) > 0 {
			domain = rec.Domains[0]
		}
		ttl = s.policy.For(KindSearch, status, domain)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode search record: %w", err)
	}
	params, err := json.Marshal(map[string]any{
		"query": rec.Query, "domains": rec.Domains, "locale": rec.Locale,
	})
	if err != nil {
		return fmt.Errorf("encode search params: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_cache (cache_key, query_type, query_params, results, result_count, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			query_type = excluded.query_type,
			query_params = excluded.query_params,
			results = excluded.results,
			result_count = excluded.result_count,
			status = excluded.status,
			expires_at = excluded.expires_at`,
		key, rec.QueryType, string(params), string(payload), len(rec.Hits),
		string(status), now.Add(ttl).Unix(), now.Unix())
	return err
}

// GetPage looks a page entry up by URL.
func (s *Store) GetPage(ctx context.Context, pageURL string, includeStale bool) (*PageEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, content, fetch_status, status_code, error_message, expires_at
		FROM page_cache WHERE url_hash = ?`, URLKey(pageURL))
	var e PageEntry
	var statusCode sql.NullInt64
	var errMsg sql.NullString
	var status string
	var expiresAt int64
	err := row.Scan(&e.Record.URL, &e.Record.Content, &status, &statusCode, &errMsg, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("page cache lookup: %w", err)
	}
	e.Status = Status(status)
	e.Record.StatusCode = int(statusCode.Int64)
	e.Record.ErrorMessage = errMsg.String
	e.ExpiresAt = time.Unix(expiresAt, 0)
	e.Stale = s.now().After(e.ExpiresAt)
	if e.Stale && !includeStale {
		return nil, nil
	}
	return &e, nil
}

// PutPage writes a page entry, resolving the TTL from the URL's domain and
// the outcome status unless ttlOverride is positive.
func (s *Store) PutPage(ctx context.Context, rec PageRecord, status Status, ttlOverride time.Duration) error {
	ttl := ttlOverride
	if ttl <= 0 {
		ttl = s.policy.For(KindPage, status, hostOf(rec.URL))
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_cache (url_hash, url, content, content_length, fetch_status, status_code, error_message, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			content = excluded.content,
			content_length = excluded.content_length,
			fetch_status = excluded.fetch_status,
			status_code = excluded.status_code,
			error_message = excluded.error_message,
			expires_at = excluded.expires_at`,
		URLKey(rec.URL), rec.URL, rec.Content, len(rec.Content), string(status),
		rec.StatusCode, rec.ErrorMessage, now.Add(ttl).Unix(), now.Unix())
	return err
}

// TouchPage extends a page entry's freshness without rewriting its
// payload. Used after a 304 Not Modified revalidation.
func (s *Store) TouchPage(ctx context.Context, pageURL string) error {
	ttl := s.policy.For(KindPage, StatusValid, hostOf(pageURL))
	res, err := s.db.ExecContext(ctx,
		`UPDATE page_cache SET expires_at = ?, fetch_status = ? WHERE url_hash = ?`,
		s.now().Add(ttl).Unix(), string(StatusValid), URLKey(pageURL))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("no page entry to refresh")
	}
	return nil
}

// GetExtraction looks an extraction entry up by its composite key.
func (s *Store) GetExtraction(ctx context.Context, wineID, contentHash, extractionType string, includeStale bool) (*ExtractionEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT extracted_ratings, extracted_windows, tasting_notes, model_version, status, expires_at
		FROM extraction_cache WHERE wine_id = ? AND content_hash = ? AND extraction_type = ?`,
		wineID, contentHash, extractionType)
	var ratings, windows, notes, model sql.NullString
	var status string
	var expiresAt int64
	if err := row.Scan(&ratings, &windows, &notes, &model, &status, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("extraction cache lookup: %w", err)
	}
	e := &ExtractionEntry{
		Record: ExtractionRecord{
			WineID:       wineID,
			ContentHash:  contentHash,
			Type:         extractionType,
			Ratings:      json.RawMessage(ratings.String),
			Windows:      json.RawMessage(windows.String),
			TastingNotes: notes.String,
			ModelVersion: model.String,
		},
		Status:    Status(status),
		ExpiresAt: time.Unix(expiresAt, 0),
	}
	e.Stale = s.now().After(e.ExpiresAt)
	if e.Stale && !includeStale {
		return nil, nil
	}
	return e, nil
}

// PutExtraction writes an extraction entry.
func (s *Store) PutExtraction(ctx context.Context, rec ExtractionRecord, status Status, ttlOverride time.Duration) error {
	ttl := ttlOverride
	if ttl <= 0 {
		ttl = s.policy.For(KindExtraction, status, "")
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (wine_id, content_hash, extraction_type, extracted_ratings, extracted_windows, tasting_notes, model_version, status, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wine_id, content_hash, extraction_type) DO UPDATE SET
			extracted_ratings = excluded.extracted_ratings,
			extracted_windows = excluded.extracted_windows,
			tasting_notes = excluded.tasting_notes,
			model_version = excluded.model_version,
			status = excluded.status,
			expires_at = excluded.expires_at`,
		rec.WineID, rec.ContentHash, rec.Type, string(rec.Ratings), string(rec.Windows),
		rec.TastingNotes, rec.ModelVersion, string(status), now.Add(ttl).Unix(), now.Unix())
	return err
}

// GetURLMeta returns the revalidation metadata recorded for a URL, or nil.
func (s *Store) GetURLMeta(ctx context.Context, pageURL string) (*URLMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, etag, last_modified, content_type, byte_size, fetched_at, expires_at, fetch_count, status
		FROM public_url_cache WHERE url = ?`, pageURL)
	var m URLMeta
	var etag, lastMod, ctype sql.NullString
	var fetchedAt, expiresAt int64
	var status string
	err := row.Scan(&m.URL, &etag, &lastMod, &ctype, &m.ByteSize, &fetchedAt, &expiresAt, &m.FetchCount, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("url metadata lookup: %w", err)
	}
	m.ETag = etag.String
	m.LastModified = lastMod.String
	m.ContentType = ctype.String
	m.FetchedAt = time.Unix(fetchedAt, 0)
	m.ExpiresAt = time.Unix(expiresAt, 0)
	m.Status = Status(status)
	return &m, nil
}

// RecordURLMeta upserts a URL's metadata after a fetch, incrementing its
// lifetime fetch count.
func (s *Store) RecordURLMeta(ctx context.Context, m URLMeta) error {
	now := s.now()
	ttl := s.policy.For(KindPage, m.Status, hostOf(m.URL))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public_url_cache (url, etag, last_modified, content_type, byte_size, fetched_at, expires_at, fetch_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(url) DO UPDATE SET
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			content_type = excluded.content_type,
			byte_size = excluded.byte_size,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at,
			fetch_count = public_url_cache.fetch_count + 1,
			status = excluded.status`,
		m.URL, m.ETag, m.LastModified, m.ContentType, m.ByteSize,
		now.Unix(), now.Add(ttl).Unix(), string(m.Status))
	return err
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
