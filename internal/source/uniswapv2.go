package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/source/graphql"
)

const v2SwapFields = `
    id
    timestamp
    logIndex
    transaction {
      id
      blockNumber
    }
    pair {
      id
      token0 { id symbol name decimals }
      token1 { id symbol name decimals }
      reserve0
      reserve1
    }
    sender
    to
    amount0In
    amount1In
    amount0Out
    amount1Out
    amountUSD`

const v2WindowQuery = `
query SwapWindow($fromBlock: Int!, $first: Int!) {
  swaps(
    first: $first
    orderBy: transaction__blockNumber
    orderDirection: asc
    where: { transaction_: { blockNumber_gt: $fromBlock } }
  ) {` + v2SwapFields + `
  }
}`

const v2BlockQuery = `
query SwapBlock($block: Int!, $afterLog: Int!, $first: Int!) {
  swaps(
    first: $first
    orderBy: logIndex
    orderDirection: asc
    where: { logIndex_gt: $afterLog, transaction_: { blockNumber: $block } }
  ) {` + v2SwapFields + `
  }
}`

const v2PoolQuery = `
query PairInfo($id: ID!) {
  pair(id: $id) {
    id
    token0 { id }
    token1 { id }
    reserve0
    reserve1
    volumeUSD
    totalSupply
  }
}`

// V2Source fetches swaps from a Uniswap V2 subgraph. The pair entity carries
// directional amounts (amount0In/amount1Out), so swap direction is recovered
// from which input side is non-zero.
type V2Source struct {
	client *graphql.Client
	url    string
	logger *slog.Logger
}

func NewV2Source(client *graphql.Client, url string, logger *slog.Logger) *V2Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &V2Source{
		client: client,
		url:    url,
		logger: logger.With("component", "source", "version", model.VersionV2.String()),
	}
}

func (s *V2Source) Version() model.Version { return model.VersionV2 }

func (s *V2Source) FetchPage(ctx context.Context, after model.Cursor, pageSize int) (*Page, error) {
	return paginate(ctx, after, pageSize, s)
}

func (s *V2Source) windowPage(ctx context.Context, fromBlock int64, first int) ([]model.SwapEvent, int, error) {
	return s.querySwaps(ctx, v2WindowQuery, map[string]any{
		"fromBlock": fromBlock,
		"first":     first,
	})
}

func (s *V2Source) blockPage(ctx context.Context, block, afterLog int64, first int) ([]model.SwapEvent, int, error) {
	return s.querySwaps(ctx, v2BlockQuery, map[string]any{
		"block":    block,
		"afterLog": afterLog,
		"first":    first,
	})
}

func (s *V2Source) querySwaps(ctx context.Context, query string, variables map[string]any) ([]model.SwapEvent, int, error) {
	var data json.RawMessage
	if err := s.client.Query(ctx, s.url, query, variables, &data); err != nil {
		return nil, 0, fmt.Errorf("fetch v2 swaps: %w", err)
	}
	rows, err := unmarshalSwaps(data)
	if err != nil {
		return nil, 0, err
	}
	events, skipped := parseRows(rows, parseV2Row, s.logger)
	return events, skipped, nil
}

func (s *V2Source) FetchPool(ctx context.Context, address string) (*model.PoolInfo, error) {
	var payload struct {
		Pair *struct {
			ID     string `json:"id"`
			Token0 struct {
				ID string `json:"id"`
			} `json:"token0"`
			Token1 struct {
				ID string `json:"id"`
			} `json:"token1"`
			Reserve0    string `json:"reserve0"`
			Reserve1    string `json:"reserve1"`
			VolumeUSD   string `json:"volumeUSD"`
			TotalSupply string `json:"totalSupply"`
		} `json:"pair"`
	}
	variables := map[string]any{"id": address}
	if err := s.client.Query(ctx, s.url, v2PoolQuery, variables, &payload); err != nil {
		return nil, fmt.Errorf("fetch v2 pair %s: %w", address, err)
	}
	if payload.Pair == nil {
		return nil, fmt.Errorf("v2 pair %s not found", address)
	}

	return &model.PoolInfo{
		Address:   payload.Pair.ID,
		Token0:    payload.Pair.Token0.ID,
		Token1:    payload.Pair.Token1.ID,
		Reserve0:  payload.Pair.Reserve0,
		Reserve1:  payload.Pair.Reserve1,
		Liquidity: payload.Pair.TotalSupply,
		VolumeUSD: payload.Pair.VolumeUSD,
	}, nil
}

type v2SwapRow struct {
	ID          string `json:"id"`
	Timestamp   Long   `json:"timestamp"`
	LogIndex    Long   `json:"logIndex"`
	Transaction struct {
		ID          string `json:"id"`
		BlockNumber Long   `json:"blockNumber"`
	} `json:"transaction"`
	Pair struct {
		ID       string   `json:"id"`
		Token0   rawToken `json:"token0"`
		Token1   rawToken `json:"token1"`
		Reserve0 string   `json:"reserve0"`
		Reserve1 string   `json:"reserve1"`
	} `json:"pair"`
	Sender     string `json:"sender"`
	To         string `json:"to"`
	Amount0In  string `json:"amount0In"`
	Amount1In  string `json:"amount1In"`
	Amount0Out string `json:"amount0Out"`
	Amount1Out string `json:"amount1Out"`
	AmountUSD  string `json:"amountUSD"`
}

func parseV2Row(raw json.RawMessage) (model.SwapEvent, error) {
	var row v2SwapRow
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
	if row.Pair.ID == "" {
		return model.SwapEvent{}, &ParseError{Field: "pair.id", Err: fmt.Errorf("empty")}
	}

	// Direction: exactly one input side is non-zero in a V2 swap.
	tokenIn, tokenOut := row.Pair.Token0.toModel(), row.Pair.Token1.toModel()
	amountIn, amountOut := row.Amount0In, row.Amount1Out
	if isZeroAmount(row.Amount0In) {
		tokenIn, tokenOut = tokenOut, tokenIn
		amountIn, amountOut = row.Amount1In, row.Amount0Out
	}
	if isZeroAmount(amountIn) || isZeroAmount(amountOut) {
		return model.SwapEvent{}, &ParseError{Field: "amounts", Err: fmt.Errorf("no swap direction: in=%q out=%q", amountIn, amountOut)}
	}

	return model.SwapEvent{
		ID:          uuid.New(),
		Version:     model.VersionV2,
		TxHash:      txHash,
		LogIndex:    row.LogIndex.Int64(),
		PoolAddress: row.Pair.ID,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		AmountUSD:   floatPtr(row.AmountUSD),
		Sender:      row.Sender,
		Recipient:   row.To,
		BlockNumber: row.Transaction.BlockNumber.Int64(),
		BlockTime:   blockTime(row.Timestamp),
		Price:       v2Price(row.Pair.Reserve0, row.Pair.Reserve1),
	}, nil
}

// v2Price derives the token0 mid price in token1 terms from pair reserves.
func v2Price(reserve0, reserve1 string) *float64 {
	r0, err0 := strconv.ParseFloat(reserve0, 64)
	r1, err1 := strconv.ParseFloat(reserve1, 64)
	if err0 != nil || err1 != nil || r0 <= 0 {
		return nil
	}
	p := r1 / r0
	return &p
}

func isZeroAmount(s string) bool {
	if s == "" {
		return true
	}
	v, err := strconv.ParseFloat(s, 64)
	return err != nil || v == 0
}
