package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

// Page is one ordered batch of swap events fetched from a subgraph.
type Page struct {
	Events []model.SwapEvent
	// Max is the highest (block, log index) position covered by the page;
	// every event at or below it has been fetched and returned, so the
	// committed cursor can advance to it without losing rows.
	Max model.Cursor
	// Skipped counts records dropped as unparseable. A bad record never
	// fails the page.
	Skipped int
}

// SwapSource fetches swap events and pool metadata for one protocol version.
// Implementations share the SwapEvent output shape; only the query shape and
// result mapping differ.
type SwapSource interface {
	Version() model.Version

	// FetchPage returns events strictly after the cursor, ordered by
	// (block, log index) ascending. The deduplicator still owns the exact
	// boundary for events replayed after a cursor restore.
	FetchPage(ctx context.Context, after model.Cursor, pageSize int) (*Page, error)

	// FetchPool looks up current pool metadata for the enricher.
	FetchPool(ctx context.Context, address string) (*model.PoolInfo, error)
}

// blockPager is the two-query surface paginate builds pages from. The
// subgraph can only order by one field, so cross-block windows order by
// block number (intra-block order is the server's id tie-break) while
// block-local queries order by log index exactly.
type blockPager interface {
	// windowPage returns raw swaps with block number strictly greater than
	// fromBlock, ordered by block number ascending.
	windowPage(ctx context.Context, fromBlock int64, first int) ([]model.SwapEvent, int, error)
	// blockPage returns raw swaps of one block with log index strictly
	// greater than afterLog, ordered by log index ascending.
	blockPage(ctx context.Context, block, afterLog int64, first int) ([]model.SwapEvent, int, error)
}

// paginate assembles one page from block-granular window queries without
// losing rows to truncation. A full window ordered only by block number can
// end mid-block, and the server's intra-block order is not log-index order,
// so a naive max-position commit would skip same-block rows forever.
// Instead: the cursor block is drained by exact log-index paging, and from
// the cross-block window only complete blocks are kept; a block cut by the
// page limit is re-fetched whole on the next cycle.
func paginate(ctx context.Context, after model.Cursor, pageSize int, pager blockPager) (*Page, error) {
	page := &Page{Max: after}
	budget := pageSize

	// Drain the cursor block first. A block denser than the page size
	// advances log index by log index instead of stalling the window.
	if !after.IsZero() {
		events, skipped, err := pager.blockPage(ctx, after.BlockNumber, after.LogIndex, budget)
		if err != nil {
			return nil, err
		}
		page.Events = append(page.Events, events...)
		page.Skipped += skipped
		page.Max = maxPosition(page.Max, events)
		if len(events)+skipped >= budget {
			return page, nil
		}
		budget -= len(events) + skipped
	}

	events, skipped, err := pager.windowPage(ctx, after.BlockNumber, budget)
	if err != nil {
		return nil, err
	}
	sortByPosition(events)

	if len(events)+skipped >= budget && len(events) > 0 {
		top := events[len(events)-1].BlockNumber
		if events[0].BlockNumber == top {
			// One block fills the whole window; re-read it in log-index
			// order so the truncation point is exact.
			events, skipped, err = pager.blockPage(ctx, top, -1, budget)
			if err != nil {
				return nil, err
			}
		} else {
			// The top block may be cut mid-block by the page limit. Keep
			// the complete blocks below it; the top block is re-fetched
			// whole next cycle.
			cut := len(events)
			for cut > 0 && events[cut-1].BlockNumber == top {
				cut--
			}
			events = events[:cut]
		}
	}

	page.Events = append(page.Events, events...)
	page.Skipped += skipped
	page.Max = maxPosition(page.Max, events)
	return page, nil
}

func sortByPosition(events []model.SwapEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[j].Position().After(events[i].Position())
	})
}

// parseRows maps raw swap records, counting bad ones instead of failing.
func parseRows(rows []json.RawMessage, parse func(json.RawMessage) (model.SwapEvent, error), logger *slog.Logger) ([]model.SwapEvent, int) {
	events := make([]model.SwapEvent, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		event, err := parse(row)
		if err != nil {
			skipped++
			logger.Warn("skipping unparseable swap record", "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, skipped
}

// Long accepts both JSON numbers and the string-encoded BigInt values the
// Graph protocol emits.
type Long int64

func (l *Long) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*l = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse long %q: %w", s, err)
	}
	*l = Long(v)
	return nil
}

func (l Long) Int64() int64 { return int64(l) }

// ParseError marks a single record within an otherwise valid page as
// unparseable (data-quality fault, not a page failure).
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse swap record field %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// blockTime converts a subgraph unix-seconds timestamp.
func blockTime(ts Long) time.Time {
	return time.Unix(ts.Int64(), 0).UTC()
}

// floatPtr parses a subgraph BigDecimal string, returning nil when absent
// or malformed. Optional numeric fields fail soft.
func floatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// decimalsOf clamps a subgraph decimals value into uint8 range.
func decimalsOf(v Long) uint8 {
	if v < 0 || v > 255 {
		return 18
	}
	return uint8(v)
}

// txHashOf extracts the transaction hash from a swap id of the form
// "<txhash>-<index>" or "<txhash>#<index>", falling back to the raw id.
func txHashOf(id string) string {
	for _, sep := range []string{"-", "#"} {
		if hash, _, ok := strings.Cut(id, sep); ok && hash != "" {
			return hash
		}
	}
	return id
}

// rawToken is the shared token shape of both subgraph schemas.
type rawToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals Long   `json:"decimals"`
}

func (t rawToken) toModel() model.TokenInfo {
	return model.TokenInfo{
		Address:  t.ID,
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: decimalsOf(t.Decimals),
	}
}

// maxPosition folds event positions into the page maximum.
func maxPosition(cur model.Cursor, events []model.SwapEvent) model.Cursor {
	for _, e := range events {
		cur = cur.Max(e.Position())
	}
	return cur
}

// unmarshalSwaps decodes the common {"swaps": [...]} data envelope into raw
// messages so each record can fail independently.
func unmarshalSwaps(data json.RawMessage) ([]json.RawMessage, error) {
	var payload struct {
		Swaps []json.RawMessage `json:"swaps"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal swaps envelope: %w", err)
	}
	return payload.Swaps, nil
}
