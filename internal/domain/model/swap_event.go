package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version identifies the protocol variant an event was sourced from.
type Version string

const (
	VersionV2 Version = "v2"
	VersionV3 Version = "v3"
)

func (v Version) String() string { return string(v) }

// Valid reports whether v is a known protocol version.
func (v Version) Valid() bool {
	return v == VersionV2 || v == VersionV3
}

// TokenInfo describes one side of a swap pair.
type TokenInfo struct {
	Address  string   `json:"address"`
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Decimals uint8    `json:"decimals"`
	PriceUSD *float64 `json:"price_usd,omitempty"`
}

// PoolInfo is pool metadata attached during enrichment.
// Owned by the enricher cache, keyed by pool address.
type PoolInfo struct {
	Address     string    `json:"address"`
	Token0      string    `json:"token0"`
	Token1      string    `json:"token1"`
	FeeTier     *uint32   `json:"fee_tier,omitempty"` // V3 only
	Reserve0    string    `json:"reserve0,omitempty"` // V2 only
	Reserve1    string    `json:"reserve1,omitempty"` // V2 only
	Liquidity   string    `json:"liquidity,omitempty"`
	VolumeUSD   string    `json:"volume_usd,omitempty"`
	FeesUSD     string    `json:"fees_usd,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// SwapEvent is a single swap observed on one subgraph source.
//
// Identity is (TxHash, LogIndex). Values are immutable once constructed;
// enrichment returns an extended copy instead of mutating in place.
type SwapEvent struct {
	ID             uuid.UUID  `json:"id"`
	Version        Version    `json:"version"`
	TxHash         string     `json:"transaction_hash"`
	LogIndex       int64      `json:"log_index"`
	PoolAddress    string     `json:"pool_address"`
	TokenIn        TokenInfo  `json:"token_in"`
	TokenOut       TokenInfo  `json:"token_out"`
	AmountIn       string     `json:"amount_in"`
	AmountOut      string     `json:"amount_out"`
	AmountUSD      *float64   `json:"amount_usd,omitempty"`
	Sender         string     `json:"sender"`
	Recipient      string     `json:"recipient"`
	BlockNumber    int64      `json:"block_number"`
	BlockTime      time.Time  `json:"block_time"`
	Price          *float64   `json:"price,omitempty"`
	LiquidityDelta string     `json:"liquidity_delta,omitempty"` // V3 only
	Pool           *PoolInfo  `json:"pool,omitempty"`
	EnrichedAt     *time.Time `json:"enriched_at,omitempty"`
	StaleMetadata  bool       `json:"stale_metadata,omitempty"`
}

// Identity returns the stable event identity used for deduplication.
func (e SwapEvent) Identity() string {
	return fmt.Sprintf("%s#%d", e.TxHash, e.LogIndex)
}

// Position returns the event's cursor position.
func (e SwapEvent) Position() Cursor {
	return Cursor{BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}

// WithPool returns a copy of the event with pool metadata attached.
func (e SwapEvent) WithPool(pool *PoolInfo, stale bool) SwapEvent {
	now := time.Now().UTC()
	out := e
	out.Pool = pool
	out.EnrichedAt = &now
	out.StaleMetadata = stale
	return out
}

// WithTokens returns a copy of the event with token metadata filled from
// cached values. Fields already populated on the event are preserved.
func (e SwapEvent) WithTokens(in, out *TokenInfo) SwapEvent {
	next := e
	next.TokenIn = mergeToken(e.TokenIn, in)
	next.TokenOut = mergeToken(e.TokenOut, out)
	return next
}

func mergeToken(base TokenInfo, cached *TokenInfo) TokenInfo {
	if cached == nil {
		return base
	}
	if base.Symbol == "" {
		base.Symbol = cached.Symbol
	}
	if base.Name == "" {
		base.Name = cached.Name
	}
	if base.Decimals == 0 {
		base.Decimals = cached.Decimals
	}
	if base.PriceUSD == nil {
		base.PriceUSD = cached.PriceUSD
	}
	return base
}
