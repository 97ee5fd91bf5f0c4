package idempotency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridcore/internal/core"
)

type countingMetrics struct {
	hits      int64
	conflicts int64
	expired   int64
}

func (m *countingMetrics) IncHit(string)  { atomic.AddInt64(&m.hits, 1) }
func (m *countingMetrics) IncConflict()   { atomic.AddInt64(&m.conflicts, 1) }
func (m *countingMetrics) IncExpired()    { atomic.AddInt64(&m.expired, 1) }

func sampleParams() KeyParams {
	return KeyParams{
		Symbol: "BTCUSDT", Side: "BUY",
		Price: decimal.RequireFromString("50000.00"), Quantity: decimal.RequireFromString("0.001"),
		LevelID: 1,
	}
}

// TestComputeKey_S3 implements scenario S3 with n concurrent callers:
// exactly one put_if_absent call for the same key succeeds, and each loser
// increments the conflict counter.
func TestComputeKey_S3(t *testing.T) {
	key := ComputeKey("exec", "place", sampleParams())
	assert.Contains(t, key, "exec:place:")

	metrics := &countingMetrics{}
	store := NewStore(metrics)

	const n = 32
	var successes int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			entry := core.IdempotencyEntry{Key: key, Status: core.IdempotencyInflight, OpName: "place", ExpiresAtMs: 300_000}
			if store.PutIfAbsent(key, entry, 0) {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), successes)
	assert.Equal(t, int64(n-1), atomic.LoadInt64(&metrics.conflicts))
}

func TestComputeKey_StableForEqualParams(t *testing.T) {
	k1 := ComputeKey("exec", "place", sampleParams())
	k2 := ComputeKey("exec", "place", sampleParams())
	assert.Equal(t, k1, k2)
}

func TestComputeKey_DiffersOnDifferentParams(t *testing.T) {
	p2 := sampleParams()
	p2.LevelID = 2
	assert.NotEqual(t, ComputeKey("exec", "place", sampleParams()), ComputeKey("exec", "place", p2))
}

func TestFingerprint_DetectsDriftUnderSameKey(t *testing.T) {
	f1 := Fingerprint(sampleParams())
	p2 := sampleParams()
	p2.Quantity = decimal.RequireFromString("0.002")
	f2 := Fingerprint(p2)
	assert.NotEqual(t, f1, f2)
	assert.Len(t, f1, 16)
}

func TestStore_FailedEntryMayBeOverwritten(t *testing.T) {
	store := NewStore(nil)
	key := "exec:place:abc"

	require.True(t, store.PutIfAbsent(key, core.IdempotencyEntry{Status: core.IdempotencyInflight, ExpiresAtMs: 1000}, 0))
	store.MarkFailed(key, "TIMEOUT")

	require.True(t, store.PutIfAbsent(key, core.IdempotencyEntry{Status: core.IdempotencyInflight, ExpiresAtMs: 1000}, 0),
		"a FAILED entry may be overwritten to permit retry")
}

func TestStore_DoneEntryReturnsCachedResultAndBlocksOverwrite(t *testing.T) {
	store := NewStore(nil)
	key := "exec:place:abc"

	require.True(t, store.PutIfAbsent(key, core.IdempotencyEntry{Status: core.IdempotencyInflight, ExpiresAtMs: 1000}, 0))
	store.MarkDone(key, map[string]string{"order_id": "123"}, 0, 300_000)

	entry, ok := store.Get(key, 0)
	require.True(t, ok)
	assert.Equal(t, core.IdempotencyDone, entry.Status)

	assert.False(t, store.PutIfAbsent(key, core.IdempotencyEntry{Status: core.IdempotencyInflight}, 0))
}

func TestStore_ExpiredEntryIsRemovedAndCounted(t *testing.T) {
	metrics := &countingMetrics{}
	store := NewStore(metrics)
	key := "exec:place:abc"

	store.PutIfAbsent(key, core.IdempotencyEntry{Status: core.IdempotencyDone, ExpiresAtMs: 100}, 0)

	_, ok := store.Get(key, 200)
	assert.False(t, ok)
	assert.Equal(t, int64(1), atomic.LoadInt64(&metrics.expired))
}
