package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

func event(block, logIndex int64) model.SwapEvent {
	return model.SwapEvent{
		Version:     model.VersionV2,
		TxHash:      "0xabc",
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

func TestFilterDropsAtOrBeforeCursor(t *testing.T) {
	d := New(nil)
	d.Restore(model.VersionV2, model.Cursor{BlockNumber: 100, LogIndex: 5})

	events := []model.SwapEvent{
		event(100, 3), // before
		event(100, 5), // at the cursor
		event(100, 6),
		event(101, 0),
	}

	kept := d.Filter(model.VersionV2, events)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(6), kept[0].LogIndex)
	assert.Equal(t, int64(101), kept[1].BlockNumber)
}

func TestFilterPreservesOrder(t *testing.T) {
	d := New(nil)

	events := []model.SwapEvent{event(1, 0), event(1, 1), event(2, 0)}
	kept := d.Filter(model.VersionV2, events)

	require.Len(t, kept, 3)
	for i := 1; i < len(kept); i++ {
		assert.True(t, kept[i].Position().After(kept[i-1].Position()))
	}
}

func TestFilterZeroCursorKeepsAll(t *testing.T) {
	d := New(nil)
	kept := d.Filter(model.VersionV2, []model.SwapEvent{event(1, 0), event(2, 3)})
	assert.Len(t, kept, 2)
}

func TestCommitNeverRegresses(t *testing.T) {
	d := New(nil)

	d.Commit(model.VersionV2, model.Cursor{BlockNumber: 200, LogIndex: 1})
	d.Commit(model.VersionV2, model.Cursor{BlockNumber: 150, LogIndex: 9})

	assert.Equal(t, model.Cursor{BlockNumber: 200, LogIndex: 1}, d.Committed(model.VersionV2))
}

func TestVersionsAreIndependent(t *testing.T) {
	d := New(nil)

	d.Commit(model.VersionV2, model.Cursor{BlockNumber: 100})
	d.Commit(model.VersionV3, model.Cursor{BlockNumber: 500})

	v3Events := []model.SwapEvent{{Version: model.VersionV3, BlockNumber: 200, LogIndex: 1}}
	kept := d.Filter(model.VersionV3, v3Events)
	assert.Empty(t, kept)

	v2Events := []model.SwapEvent{{Version: model.VersionV2, BlockNumber: 200, LogIndex: 1}}
	kept = d.Filter(model.VersionV2, v2Events)
	assert.Len(t, kept, 1)
}

func TestRestoreOverridesCommitted(t *testing.T) {
	d := New(nil)
	d.Commit(model.VersionV2, model.Cursor{BlockNumber: 300})

	// Restore trusts the store even when it is behind.
	d.Restore(model.VersionV2, model.Cursor{BlockNumber: 100})
	assert.Equal(t, model.Cursor{BlockNumber: 100}, d.Committed(model.VersionV2))
}
