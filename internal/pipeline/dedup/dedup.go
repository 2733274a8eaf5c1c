// Package dedup drops swap events at or before the committed stream cursor.
//
// Subgraph pages are fetched with a block-granular lower bound, so the head
// of each page overlaps the tail of the previous one. The deduplicator owns
// the exact (block, log index) boundary: events at or before the committed
// cursor were already handed downstream in an earlier cycle.
package dedup

import (
	"sync"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/metrics"
)

type Deduplicator struct {
	collector *metrics.Collector

	mu        sync.Mutex
	committed map[model.Version]model.Cursor
}

func New(collector *metrics.Collector) *Deduplicator {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Deduplicator{
		collector: collector,
		committed: make(map[model.Version]model.Cursor),
	}
}

// Restore seeds the committed cursor from persistence at startup. It is not
// subject to the no-regression rule: a fresh process trusts the store.
func (d *Deduplicator) Restore(version model.Version, cursor model.Cursor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed[version] = cursor
}

// Committed returns the current committed cursor for version.
func (d *Deduplicator) Committed(version model.Version) model.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.committed[version]
}

// Filter returns the events strictly after the committed cursor, preserving
// input order. The dropped count feeds the dedup metric.
func (d *Deduplicator) Filter(version model.Version, events []model.SwapEvent) []model.SwapEvent {
	cursor := d.Committed(version)

	kept := events[:0:len(events)]
	dropped := 0
	for _, e := range events {
		if !e.Position().After(cursor) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}

	if dropped > 0 {
		d.collector.RecordDeduplicated(version, dropped)
	}
	return kept
}

// Commit advances the committed cursor to cursor. It never regresses: a
// late commit with an older position is a no-op.
func (d *Deduplicator) Commit(version model.Version, cursor model.Cursor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed[version] = d.committed[version].Max(cursor)
}
