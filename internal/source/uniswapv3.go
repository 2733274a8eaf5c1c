package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/source/graphql"
)

const v3SwapFields = `
    id
    timestamp
    logIndex
    transaction {
      id
      blockNumber
    }
    pool {
      id
      token0 { id symbol name decimals }
      token1 { id symbol name decimals }
      feeTier
    }
    sender
    recipient
    amount0
    amount1
    amountUSD
    sqrtPriceX96
    liquidity
    tick`

const v3WindowQuery = `
query SwapWindow($fromBlock: Int!, $first: Int!) {
  swaps(
    first: $first
    orderBy: transaction__blockNumber
    orderDirection: asc
    where: { transaction_: { blockNumber_gt: $fromBlock } }
  ) {` + v3SwapFields + `
  }
}`

const v3BlockQuery = `
query SwapBlock($block: Int!, $afterLog: Int!, $first: Int!) {
  swaps(
    first: $first
    orderBy: logIndex
    orderDirection: asc
    where: { logIndex_gt: $afterLog, transaction_: { blockNumber: $block } }
  ) {` + v3SwapFields + `
  }
}`

const v3PoolQuery = `
query PoolInfo($id: ID!) {
  pool(id: $id) {
    id
    token0 { id }
    token1 { id }
    feeTier
    liquidity
    volumeUSD
    feesUSD
  }
}`

// V3Source fetches swaps from a Uniswap V3 subgraph. V3 reports signed
// deltas (amount0/amount1) from the pool's perspective; the positive side
// is the token flowing in.
type V3Source struct {
	client *graphql.Client
	url    string
	logger *slog.Logger
}

func NewV3Source(client *graphql.Client, url string, logger *slog.Logger) *V3Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &V3Source{
		client: client,
		url:    url,
		logger: logger.With("component", "source", "version", model.VersionV3.String()),
	}
}

func (s *V3Source) Version() model.Version { return model.VersionV3 }

func (s *V3Source) FetchPage(ctx context.Context, after model.Cursor, pageSize int) (*Page, error) {
	return paginate(ctx, after, pageSize, s)
}

func (s *V3Source) windowPage(ctx context.Context, fromBlock int64, first int) ([]model.SwapEvent, int, error) {
	return s.querySwaps(ctx, v3WindowQuery, map[string]any{
		"fromBlock": fromBlock,
		"first":     first,
	})
}

func (s *V3Source) blockPage(ctx context.Context, block, afterLog int64, first int) ([]model.SwapEvent, int, error) {
	return s.querySwaps(ctx, v3BlockQuery, map[string]any{
		"block":    block,
		"afterLog": afterLog,
		"first":    first,
	})
}

func (s *V3Source) querySwaps(ctx context.Context, query string, variables map[string]any) ([]model.SwapEvent, int, error) {
	var data json.RawMessage
	if err := s.client.Query(ctx, s.url, query, variables, &data); err != nil {
		return nil, 0, fmt.Errorf("fetch v3 swaps: %w", err)
	}
	rows, err := unmarshalSwaps(data)
	if err != nil {
		return nil, 0, err
	}
	events, skipped := parseRows(rows, parseV3Row, s.logger)
	return events, skipped, nil
}

func (s *V3Source) FetchPool(ctx context.Context, address string) (*model.PoolInfo, error) {
	var payload struct {
		Pool *struct {
			ID     string `json:"id"`
			Token0 struct {
				ID string `json:"id"`
			} `json:"token0"`
			Token1 struct {
				ID string `json:"id"`
			} `json:"token1"`
			FeeTier   Long   `json:"feeTier"`
			Liquidity string `json:"liquidity"`
			VolumeUSD string `json:"volumeUSD"`
			FeesUSD   string `json:"feesUSD"`
		} `json:"pool"`
	}
	variables := map[string]any{"id": address}
	if err := s.client.Query(ctx, s.url, v3PoolQuery, variables, &payload); err != nil {
		return nil, fmt.Errorf("fetch v3 pool %s: %w", address, err)
	}
	if payload.Pool == nil {
		return nil, fmt.Errorf("v3 pool %s not found", address)
	}

	feeTier := uint32(payload.Pool.FeeTier.Int64())
	return &model.PoolInfo{
		Address:   payload.Pool.ID,
		Token0:    payload.Pool.Token0.ID,
		Token1:    payload.Pool.Token1.ID,
		FeeTier:   &feeTier,
		Liquidity: payload.Pool.Liquidity,
		VolumeUSD: payload.Pool.VolumeUSD,
		FeesUSD:   payload.Pool.FeesUSD,
	}, nil
}

type v3SwapRow struct {
	ID          string `json:"id"`
	Timestamp   Long   `json:"timestamp"`
	LogIndex    Long   `json:"logIndex"`
	Transaction struct {
		ID          string `json:"id"`
		BlockNumber Long   `json:"blockNumber"`
	} `json:"transaction"`
	Pool struct {
		ID      string   `json:"id"`
		Token0  rawToken `json:"token0"`
		Token1  rawToken `json:"token1"`
		FeeTier Long     `json:"feeTier"`
	} `json:"pool"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	AmountUSD    string `json:"amountUSD"`
	SqrtPriceX96 string `json:"sqrtPriceX96"`
	Liquidity    string `json:"liquidity"`
	Tick         Long   `json:"tick"`
}

func parseV3Row(raw json.RawMessage) (model.SwapEvent, error) {
	var row v3SwapRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.SwapEvent{}, &ParseError{Field: "swap", Err: err}
	}

	txHash := row.Transaction.ID
	if txHash == "" {
		txHash = txHashOf(row.ID)
	}
	if txHash == "" {
		return model.SwapEvent{}, &ParseError{Field: "transaction.id", Err: fmt.Errorf("empty")}
	}
	if row.Transaction.BlockNumber <= 0 {
		return model.SwapEvent{}, &ParseError{Field: "transaction.blockNumber", Err: fmt.Errorf("non-positive %d", row.Transaction.BlockNumber)}
	}
	if row.Pool.ID == "" {
		return model.SwapEvent{}, &ParseError{Field: "pool.id", Err: fmt.Errorf("empty")}
	}

	a0, err0 := strconv.ParseFloat(row.Amount0, 64)
	a1, err1 := strconv.ParseFloat(row.Amount1, 64)
	if err0 != nil || err1 != nil {
		return model.SwapEvent{}, &ParseError{Field: "amounts", Err: fmt.Errorf("amount0=%q amount1=%q", row.Amount0, row.Amount1)}
	}

	// The positive delta is the token the pool received.
	tokenIn, tokenOut := row.Pool.Token0.toModel(), row.Pool.Token1.toModel()
	amountIn, amountOut := row.Amount0, absAmount(row.Amount1)
	if a0 < 0 {
		tokenIn, tokenOut = tokenOut, tokenIn
		amountIn, amountOut = row.Amount1, absAmount(row.Amount0)
	}
	if a0 == 0 && a1 == 0 {
		return model.SwapEvent{}, &ParseError{Field: "amounts", Err: fmt.Errorf("zero-delta swap")}
	}

	return model.SwapEvent{
		ID:             uuid.New(),
		Version:        model.VersionV3,
		TxHash:         txHash,
		LogIndex:       row.LogIndex.Int64(),
		PoolAddress:    row.Pool.ID,
		TokenIn:        tokenIn,
		TokenOut:       tokenOut,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		AmountUSD:      floatPtr(row.AmountUSD),
		Sender:         row.Sender,
		Recipient:      row.Recipient,
		BlockNumber:    row.Transaction.BlockNumber.Int64(),
		BlockTime:      blockTime(row.Timestamp),
		Price:          sqrtPriceToFloat(row.SqrtPriceX96),
		LiquidityDelta: row.Liquidity,
	}, nil
}

// sqrtPriceToFloat converts a Q64.96 fixed-point sqrt price into the raw
// token1/token0 price: (sqrtPriceX96 / 2^96)^2. Decimal scaling is left to
// consumers since it needs both token decimals.
func sqrtPriceToFloat(s string) *float64 {
	sqrt, ok := new(big.Float).SetString(s)
	if !ok || sqrt.Sign() <= 0 {
		return nil
	}
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(sqrt, q96)
	price, _ := new(big.Float).Mul(ratio, ratio).Float64()
	if price <= 0 {
		return nil
	}
	return &price
}

func absAmount(s string) string {
	return strings.TrimPrefix(s, "-")
}
