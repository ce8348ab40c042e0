// Package dedup coalesces identical concurrent operations so that many
// wines being researched at once never issue the same paid search or fetch
// twice in parallel.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Group wraps singleflight with the key discipline used across the
// pipeline. Both callers of an in-flight key observe the same result or
// the same error; the key is forgotten once the call settles.
type Group struct {
	sf singleflight.Group
}

// Do runs fn once per in-flight key and shares its outcome.
func (g *Group) Do(key string, fn func() (any, error)) (any, bool, error) {
	v, err, shared := g.sf.Do(key, fn)
	return v, shared, err
}

// Key derives a stable key from an operation name and its semantically
// relevant parameters. Parameters are normalized and sorted so key
// derivation does not depend on argument order, then hashed with a
// truncated SHA-256.
func Key(op string, params ...string) string {
	norm := make([]string, 0, len(params))
	for _, p := range params {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			norm = append(norm, p)
		}
	}
	sort.Strings(norm)
	h := sha256.Sum256([]byte(op + "\x00" + strings.Join(norm, "\x00")))
	return hex.EncodeToString(h[:16])
}
