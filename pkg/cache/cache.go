// Package cache provides keyed prediction caching. Optimization re-executes
// candidate programs on resampled examples; caching (program, inputs) pairs
// avoids paying for duplicate LM calls across rounds.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Cache stores predicted outputs under opaque keys.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]interface{}, bool, error)
	Set(ctx context.Context, key string, outputs map[string]interface{}, ttl time.Duration) error
	Clear(ctx context.Context) error
	Close() error
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
}

// Fingerprinter is implemented by programs whose learned state has a
// stable identity; the fingerprint keys cached predictions.
type Fingerprinter interface {
	Fingerprint() string
}

// Key derives a stable cache key from a program fingerprint and a set of
// inputs. Inputs are canonicalized by sorted field name so map iteration
// order cannot split cache entries.
func Key(fingerprint string, inputs map[string]interface{}) string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(fingerprint))
	for _, name := range names {
		encoded, err := json.Marshal(inputs[name])
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", inputs[name]))
		}
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(encoded)
	}
	return hex.EncodeToString(h.Sum(nil))
}
