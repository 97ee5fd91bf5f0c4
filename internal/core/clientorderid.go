package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ClientOrderIDGenerator produces monotone, collision-free client order ids
// of the form grinder_{strategy_id}_{symbol}_{level_id}_{ts_ms}_{seq}. seq
// resets whenever ts_ms advances and increments within a shared ts_ms
// window, mirroring the teacher's timestamp+sequence order-id scheme.
type ClientOrderIDGenerator struct {
	mu       sync.Mutex
	lastTsMs int64
	seq      uint64
}

// NewClientOrderIDGenerator constructs an empty generator.
func NewClientOrderIDGenerator() *ClientOrderIDGenerator {
	return &ClientOrderIDGenerator{}
}

// Next returns the next client order id for the given strategy/symbol/level
// at the supplied ts_ms, guaranteeing a strictly increasing seq for repeated
// calls within the same ts_ms.
func (g *ClientOrderIDGenerator) Next(strategyID, symbol string, levelID uint64, tsMs int64) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tsMs != g.lastTsMs {
		g.lastTsMs = tsMs
		g.seq = 0
	} else {
		g.seq++
	}

	return NewClientOrderID(ClientOrderIDParts{
		StrategyID: strategyID,
		Symbol:     symbol,
		LevelID:    levelID,
		TsMs:       tsMs,
		Seq:        g.seq,
	})
}

// ParseClientOrderID decomposes a grinder_ client order id back into its
// parts. Returns an error on malformed input instead of a best-effort guess.
func ParseClientOrderID(clientOrderID string) (ClientOrderIDParts, error) {
	const prefix = "grinder_"
	if !strings.HasPrefix(clientOrderID, prefix) {
		return ClientOrderIDParts{}, fmt.Errorf("client order id %q missing grinder_ prefix", clientOrderID)
	}

	// strategy_id and symbol are drawn from closed, underscore-free sets
	// (§6), so the remaining five underscore-delimited fields split cleanly.
	rest := strings.TrimPrefix(clientOrderID, prefix)
	parts := strings.Split(rest, "_")
	if len(parts) != 5 {
		return ClientOrderIDParts{}, fmt.Errorf("client order id %q has %d fields, want 5", clientOrderID, len(parts))
	}

	strategyID, symbol := parts[0], parts[1]

	levelID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return ClientOrderIDParts{}, fmt.Errorf("client order id %q: invalid level_id: %w", clientOrderID, err)
	}

	tsMs, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ClientOrderIDParts{}, fmt.Errorf("client order id %q: invalid ts_ms: %w", clientOrderID, err)
	}

	seq, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return ClientOrderIDParts{}, fmt.Errorf("client order id %q: invalid seq: %w", clientOrderID, err)
	}

	return ClientOrderIDParts{
		StrategyID: strategyID,
		Symbol:     symbol,
		LevelID:    levelID,
		TsMs:       tsMs,
		Seq:        seq,
	}, nil
}
