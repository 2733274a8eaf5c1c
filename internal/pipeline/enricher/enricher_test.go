package enricher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/source"
)

type fakeSource struct {
	version model.Version
	pool    model.PoolInfo
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (f *fakeSource) Version() model.Version { return f.version }

func (f *fakeSource) FetchPage(context.Context, model.Cursor, int) (*source.Page, error) {
	return &source.Page{}, nil
}

func (f *fakeSource) FetchPool(ctx context.Context, address string) (*model.PoolInfo, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	pool := f.pool
	pool.Address = address
	return &pool, nil
}

func sources(f *fakeSource) map[model.Version]source.SwapSource {
	return map[model.Version]source.SwapSource{f.version: f}
}

func testEvent() model.SwapEvent {
	return model.SwapEvent{
		Version:     model.VersionV2,
		TxHash:      "0xabc",
		LogIndex:    1,
		PoolAddress: "0xpool",
		TokenIn:     model.TokenInfo{Address: "0xt0", Symbol: "WETH"},
		TokenOut:    model.TokenInfo{Address: "0xt1", Symbol: "USDC"},
	}
}

func TestEnrichFetchesWithinWait(t *testing.T) {
	src := &fakeSource{version: model.VersionV2, pool: model.PoolInfo{Token0: "0xt0"}}
	e := New(Config{RefreshWait: time.Second}, sources(src), nil, nil)

	out := e.Enrich(context.Background(), testEvent())

	require.NotNil(t, out.Pool)
	assert.Equal(t, "0xpool", out.Pool.Address)
	assert.False(t, out.StaleMetadata)
	assert.NotNil(t, out.EnrichedAt)
	assert.False(t, out.Pool.RefreshedAt.IsZero())
}

func TestEnrichUsesFreshCache(t *testing.T) {
	src := &fakeSource{version: model.VersionV2}
	e := New(Config{RefreshWait: time.Second}, sources(src), nil, nil)

	e.Enrich(context.Background(), testEvent())
	e.Enrich(context.Background(), testEvent())

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestEnrichSlowRefreshFailsOpenWithoutCache(t *testing.T) {
	src := &fakeSource{version: model.VersionV2, delay: time.Second}
	e := New(Config{RefreshWait: 20 * time.Millisecond}, sources(src), nil, nil)

	start := time.Now()
	out := e.Enrich(context.Background(), testEvent())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, out.StaleMetadata)
	assert.Nil(t, out.Pool)
}

func TestEnrichSlowRefreshServesStaleCopy(t *testing.T) {
	src := &fakeSource{version: model.VersionV2, delay: time.Second}
	e := New(Config{CacheTTL: time.Millisecond, RefreshWait: 20 * time.Millisecond}, sources(src), nil, nil)

	e.pools.Put(poolKey(model.VersionV2, "0xpool"), model.PoolInfo{Address: "0xpool", Token0: "0xt0"})
	time.Sleep(5 * time.Millisecond)

	out := e.Enrich(context.Background(), testEvent())

	assert.True(t, out.StaleMetadata)
	require.NotNil(t, out.Pool)
	assert.Equal(t, "0xpool", out.Pool.Address)
}

func TestEnrichRefreshErrorFailsOpen(t *testing.T) {
	src := &fakeSource{version: model.VersionV2, err: errors.New("subgraph down")}
	e := New(Config{RefreshWait: time.Second}, sources(src), nil, nil)

	out := e.Enrich(context.Background(), testEvent())

	assert.True(t, out.StaleMetadata)
	assert.Nil(t, out.Pool)
}

func TestEnrichUnknownVersionFailsOpen(t *testing.T) {
	src := &fakeSource{version: model.VersionV3}
	e := New(Config{RefreshWait: time.Second}, sources(src), nil, nil)

	out := e.Enrich(context.Background(), testEvent()) // event is V2
	assert.True(t, out.StaleMetadata)
}

func TestStaleRatio(t *testing.T) {
	src := &fakeSource{version: model.VersionV2, err: errors.New("down")}
	e := New(Config{RefreshWait: 10 * time.Millisecond}, sources(src), nil, nil)

	assert.Zero(t, e.StaleRatio())

	e.Enrich(context.Background(), testEvent())
	assert.Equal(t, 1.0, e.StaleRatio())
}

func TestEnrichFillsTokensFromCache(t *testing.T) {
	src := &fakeSource{version: model.VersionV2}
	e := New(Config{RefreshWait: time.Second}, sources(src), nil, nil)

	// First event carries full token metadata and seeds the cache.
	e.Enrich(context.Background(), testEvent())

	sparse := testEvent()
	sparse.TokenIn = model.TokenInfo{Address: "0xt0"}
	out := e.Enrich(context.Background(), sparse)

	assert.Equal(t, "WETH", out.TokenIn.Symbol)
}
