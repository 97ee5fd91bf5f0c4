// Package idempotency implements the deduplicated-write store that sits
// between the router's decision and the measured HTTP layer: every
// exchange-mutating call is keyed so retries after an ambiguous response
// never double-submit. Grounded on the teacher's internal/core
// request-dedup map, generalized to the spec's scope:op:hex32 key format
// and INFLIGHT/DONE/FAILED lifecycle.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// KeyParams is the semantic parameter set hashed into an idempotency key.
// Price and Quantity must already be normalized (exact decimal strings);
// Extra carries any additional operation-specific fields, sorted by key
// before hashing so equal parameter sets always hash identically.
type KeyParams struct {
	Symbol   string
	Side     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	LevelID  uint64
	Extra    map[string]string
}

type canonicalParams struct {
	Symbol   string            `json:"symbol"`
	Side     string            `json:"side"`
	Price    string            `json:"price"`
	Quantity string            `json:"quantity"`
	LevelID  uint64            `json:"level_id"`
	Extra    []canonicalExtra  `json:"extra"`
}

type canonicalExtra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ComputeKey returns "{scope}:{op}:{hex32}" where hex32 is the SHA-256 hex
// digest of the canonical JSON of params.
func ComputeKey(scope, op string, params KeyParams) string {
	extra := make([]canonicalExtra, 0, len(params.Extra))
	for k, v := range params.Extra {
		extra = append(extra, canonicalExtra{Key: k, Value: v})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Key < extra[j].Key })

	cp := canonicalParams{
		Symbol:   params.Symbol,
		Side:     params.Side,
		Price:    params.Price.String(),
		Quantity: params.Quantity.String(),
		LevelID:  params.LevelID,
		Extra:    extra,
	}
	b, _ := json.Marshal(cp)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%s:%s:%s", scope, op, hex.EncodeToString(sum[:]))
}

// Fingerprint returns a 16-hex abbreviation of the same canonical hash,
// used to detect parameter drift under an identical key (a bug signal: the
// same key should never be computed from two different parameter sets).
func Fingerprint(params KeyParams) string {
	extra := make([]canonicalExtra, 0, len(params.Extra))
	for k, v := range params.Extra {
		extra = append(extra, canonicalExtra{Key: k, Value: v})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Key < extra[j].Key })

	cp := canonicalParams{
		Symbol:   params.Symbol,
		Side:     params.Side,
		Price:    params.Price.String(),
		Quantity: params.Quantity.String(),
		LevelID:  params.LevelID,
		Extra:    extra,
	}
	b, _ := json.Marshal(cp)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
