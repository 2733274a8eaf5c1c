package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordFetched(model.VersionV2, 10)
	c.RecordDeduplicated(model.VersionV2, 3)
	c.RecordParseSkipped(model.VersionV3, 1)
	c.RecordPublished(model.VersionV2)
	c.RecordPublished(model.VersionV3)
	c.RecordDropped(model.VersionV3)
	c.RecordPollFailure(model.VersionV2, "retries_exhausted")
	c.RecordStaleEnrichment(model.VersionV2)
	c.SetQueueDepth(7)

	snap := c.Snapshot()
	assert.Equal(t, int64(10), snap.EventsProcessed)
	assert.Equal(t, int64(3), snap.EventsDeduplicated)
	assert.Equal(t, int64(1), snap.EventsParseSkipped)
	assert.Equal(t, int64(2), snap.PublishSucceeded)
	assert.Equal(t, int64(1), snap.PublishDropped)
	assert.Equal(t, int64(1), snap.PollFailures)
	assert.Equal(t, int64(1), snap.EnrichmentStale)
	assert.Equal(t, int64(7), snap.QueueDepth)
	assert.Greater(t, snap.UptimeSeconds, 0.0)
}
