package source

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

const v3Row = `{
	"id": "0xabc#5",
	"timestamp": "1700000100",
	"logIndex": "5",
	"transaction": {"id": "0xabc", "blockNumber": "18000100"},
	"pool": {
		"id": "0xpool",
		"token0": {"id": "0xt0", "symbol": "WETH", "name": "Wrapped Ether", "decimals": "18"},
		"token1": {"id": "0xt1", "symbol": "USDC", "name": "USD Coin", "decimals": "6"},
		"feeTier": "3000"
	},
	"sender": "0xsender",
	"recipient": "0xrecipient",
	"amount0": "-1.5",
	"amount1": "3000",
	"amountUSD": "3000.25",
	"sqrtPriceX96": "79228162514264337593543950336",
	"liquidity": "123456789",
	"tick": "-887220"
}`

func TestParseV3RowMapsSignedDeltas(t *testing.T) {
	event, err := parseV3Row(json.RawMessage(v3Row))
	require.NoError(t, err)

	assert.Equal(t, model.VersionV3, event.Version)
	assert.Equal(t, "0xabc", event.TxHash)
	assert.Equal(t, int64(5), event.LogIndex)
	assert.Equal(t, int64(18000100), event.BlockNumber)
	assert.Equal(t, "0xpool", event.PoolAddress)

	// amount0 negative: pool paid out token0, so token1 flowed in.
	assert.Equal(t, "USDC", event.TokenIn.Symbol)
	assert.Equal(t, "WETH", event.TokenOut.Symbol)
	assert.Equal(t, "3000", event.AmountIn)
	assert.Equal(t, "1.5", event.AmountOut)

	assert.Equal(t, "123456789", event.LiquidityDelta)
	require.NotNil(t, event.Price)
	assert.InDelta(t, 1.0, *event.Price, 1e-9)
}

func TestParseV3RowPositiveAmount0(t *testing.T) {
	row := json.RawMessage(`{
		"id": "0xdef#1",
		"timestamp": "1700000100",
		"logIndex": "1",
		"transaction": {"id": "0xdef", "blockNumber": "18000101"},
		"pool": {
			"id": "0xpool",
			"token0": {"id": "0xt0", "symbol": "WETH", "name": "", "decimals": "18"},
			"token1": {"id": "0xt1", "symbol": "USDC", "name": "", "decimals": "6"},
			"feeTier": "500"
		},
		"sender": "0xs", "recipient": "0xr",
		"amount0": "2", "amount1": "-4000",
		"amountUSD": "4000",
		"sqrtPriceX96": "0",
		"liquidity": "1",
		"tick": "0"
	}`)

	event, err := parseV3Row(row)
	require.NoError(t, err)

	assert.Equal(t, "WETH", event.TokenIn.Symbol)
	assert.Equal(t, "2", event.AmountIn)
	assert.Equal(t, "4000", event.AmountOut)
	assert.Nil(t, event.Price)
}

func TestParseV3RowRejectsBadRecords(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"bad amounts", `{"id":"0xa#1","transaction":{"id":"0xa","blockNumber":"100"},"pool":{"id":"0xp"},"amount0":"x","amount1":"1"}`},
		{"zero deltas", `{"id":"0xa#1","transaction":{"id":"0xa","blockNumber":"100"},"pool":{"id":"0xp"},"amount0":"0","amount1":"0"}`},
		{"missing pool", `{"id":"0xa#1","transaction":{"id":"0xa","blockNumber":"100"},"amount0":"1","amount1":"-1"}`},
		{"zero block", `{"id":"0xa#1","transaction":{"id":"0xa","blockNumber":"0"},"pool":{"id":"0xp"},"amount0":"1","amount1":"-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseV3Row(json.RawMessage(tt.row))
			assert.Error(t, err)
		})
	}
}

func TestSqrtPriceToFloat(t *testing.T) {
	// 2^96 encodes sqrt(price) == 1.
	p := sqrtPriceToFloat("79228162514264337593543950336")
	require.NotNil(t, p)
	assert.InDelta(t, 1.0, *p, 1e-9)

	// Doubling the sqrt quadruples the price.
	p = sqrtPriceToFloat("158456325028528675187087900672")
	require.NotNil(t, p)
	assert.InDelta(t, 4.0, *p, 1e-9)

	assert.Nil(t, sqrtPriceToFloat("0"))
	assert.Nil(t, sqrtPriceToFloat("not-a-number"))
}

func TestV3FetchPool(t *testing.T) {
	body := `{"data":{"pool":{
		"id":"0xpool",
		"token0":{"id":"0xt0"},
		"token1":{"id":"0xt1"},
		"feeTier":"3000",
		"liquidity":"42",
		"volumeUSD":"1000",
		"feesUSD":"3"
	}}}`

	src := NewV3Source(fakeGraphQLClient(t, staticBody(body)), "http://subgraph", nil)
	pool, err := src.FetchPool(context.Background(), "0xpool")
	require.NoError(t, err)

	require.NotNil(t, pool.FeeTier)
	assert.Equal(t, uint32(3000), *pool.FeeTier)
	assert.Equal(t, "42", pool.Liquidity)
	assert.Equal(t, "3", pool.FeesUSD)
}

func TestV3FetchPageOrderedCursor(t *testing.T) {
	handler := func(req gqlRequest) string {
		if req.named("SwapBlock") {
			// Cursor block 17000000 is already drained.
			assert.EqualValues(t, 17000000, req.Variables["block"])
			return swapsBody()
		}
		assert.EqualValues(t, 17000000, req.Variables["fromBlock"])
		return swapsBody(v3Row)
	}

	src := NewV3Source(fakeGraphQLClient(t, handler), "http://subgraph", nil)
	page, err := src.FetchPage(context.Background(), model.Cursor{BlockNumber: 17000000}, 50)
	require.NoError(t, err)

	require.Len(t, page.Events, 1)
	assert.Equal(t, model.Cursor{BlockNumber: 18000100, LogIndex: 5}, page.Max)
	assert.Equal(t, 0, page.Skipped)
}

// v3SwapAt builds a well-formed V3 swap record at a given chain position.
func v3SwapAt(block, logIndex int64) string {
	return fmt.Sprintf(`{
		"id": "0xtx%[1]d#%[2]d",
		"timestamp": "1700000100",
		"logIndex": "%[2]d",
		"transaction": {"id": "0xtx%[1]d", "blockNumber": "%[1]d"},
		"pool": {
			"id": "0xpool",
			"token0": {"id": "0xt0", "symbol": "WETH", "name": "", "decimals": "18"},
			"token1": {"id": "0xt1", "symbol": "USDC", "name": "", "decimals": "6"},
			"feeTier": "3000"
		},
		"sender": "0xs", "recipient": "0xr",
		"amount0": "-1", "amount1": "2000",
		"amountUSD": "2000",
		"sqrtPriceX96": "79228162514264337593543950336",
		"liquidity": "1",
		"tick": "0"
	}`, block, logIndex)
}

// Mirrors the V2 dense-block case on the V3 query shapes: when one block
// fills the whole window, the block is re-read by log index so no row below
// the window's highest position is lost.
func TestV3FetchPageDenseBlockPagesByLogIndex(t *testing.T) {
	handler := func(req gqlRequest) string {
		if req.named("SwapBlock") {
			assert.EqualValues(t, 200, req.Variables["block"])
			assert.EqualValues(t, -1, req.Variables["afterLog"])
			return swapsBody(v3SwapAt(200, 1), v3SwapAt(200, 4))
		}
		return swapsBody(v3SwapAt(200, 4), v3SwapAt(200, 7))
	}

	src := NewV3Source(fakeGraphQLClient(t, handler), "http://subgraph", nil)
	page, err := src.FetchPage(context.Background(), model.Cursor{}, 2)
	require.NoError(t, err)

	assert.Equal(t, []model.Cursor{
		{BlockNumber: 200, LogIndex: 1},
		{BlockNumber: 200, LogIndex: 4},
	}, positionsOf(page.Events))
	assert.Equal(t, model.Cursor{BlockNumber: 200, LogIndex: 4}, page.Max)
}
