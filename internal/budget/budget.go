package budget

import (
	"sync/atomic"
	"time"
)

// Budget tracks the hard resource limits of a single discovery request:
// search-engine calls, document fetches, downloaded bytes, and wall clock.
// Reservations fail closed: once a counter would exceed its cap, the
// reservation returns false and the caller is expected to skip the
// operation and continue with what it has.
//
// A Budget is request-scoped and must not be shared across requests.
// Counters use atomics so parallel stages of the same request can reserve
// concurrently.
type Budget struct {
	searchCalls     atomic.Int64
	documentFetches atomic.Int64
	bytes           atomic.Int64

	maxSearchCalls     int64
	maxDocumentFetches int64
	maxBytes           int64

	start   time.Time
	maxWall time.Duration
	now     func() time.Time
}

// Caps configures the limits for a request. Zero values fall back to the
// defaults below.
type Caps struct {
	MaxSearchCalls     int
	MaxDocumentFetches int
	MaxBytes           int64
	MaxWallClock       time.Duration
}

const (
	defaultMaxSearchCalls     = 12
	defaultMaxDocumentFetches = 3
	defaultMaxBytes           = 4 << 20 // 4 MiB
	defaultMaxWallClock       = 90 * time.Second
)

// New starts a budget clock for one request.
func New(caps Caps) *Budget {
	if caps.MaxSearchCalls <= 0 {
		caps.MaxSearchCalls = defaultMaxSearchCalls
	}
	if caps.MaxDocumentFetches <= 0 {
		caps.MaxDocumentFetches = defaultMaxDocumentFetches
	}
	if caps.MaxBytes <= 0 {
		caps.MaxBytes = defaultMaxBytes
	}
	if caps.MaxWallClock <= 0 {
		caps.MaxWallClock = defaultMaxWallClock
	}
	b := &Budget{
		maxSearchCalls:     int64(caps.MaxSearchCalls),
		maxDocumentFetches: int64(caps.MaxDocumentFetches),
		maxBytes:           caps.MaxBytes,
		maxWall:            caps.MaxWallClock,
		now:                time.Now,
	}
	b.start = b.now()
	return b
}

// WithClock replaces the budget's clock. Intended for tests.
func (b *Budget) WithClock(now func() time.Time) *Budget {
	b.now = now
	b.start = now()
	return b
}

// ReserveSearchCall consumes one search-engine call if any remain.
func (b *Budget) ReserveSearchCall() bool {
	return reserve(&b.searchCalls, 1, b.maxSearchCalls)
}

// ReserveDocumentFetch consumes one document fetch if any remain.
func (b *Budget) ReserveDocumentFetch() bool {
	return reserve(&b.documentFetches, 1, b.maxDocumentFetches)
}

// ReserveBytes consumes n bytes of the download budget if they fit.
func (b *Budget) ReserveBytes(n int64) bool {
	if n < 0 {
		return false
	}
	return reserve(&b.bytes, n, b.maxBytes)
}

// reserve check-and-increments cnt by n without ever letting it exceed max.
func reserve(cnt *atomic.Int64, n, max int64) bool {
	for {
		cur := cnt.Load()
		if cur+n > max {
			return false
		}
		if cnt.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

// HasWallClock reports whether the request deadline has not yet elapsed.
func (b *Budget) HasWallClock() bool {
	return b.now().Sub(b.start) < b.maxWall
}

// WallClockRemaining returns the time left before the deadline, and false
// once the deadline has passed.
func (b *Budget) WallClockRemaining() (time.Duration, bool) {
	rem := b.maxWall - b.now().Sub(b.start)
	if rem <= 0 {
		return 0, false
	}
	return rem, true
}

// Usage is a point-in-time snapshot of consumed resources, reported in the
// run's coverage counters.
type Usage struct {
	SearchCalls     int   `json:"search_calls"`
	DocumentFetches int   `json:"document_fetches"`
	Bytes           int64 `json:"bytes"`
	ElapsedMs       int64 `json:"elapsed_ms"`
}

// Snapshot returns current usage.
func (b *Budget) Snapshot() Usage {
	return Usage{
		SearchCalls:     int(b.searchCalls.Load()),
		DocumentFetches: int(b.documentFetches.Load()),
		Bytes:           b.bytes.Load(),
		ElapsedMs:       b.now().Sub(b.start).Milliseconds(),
	}
}
