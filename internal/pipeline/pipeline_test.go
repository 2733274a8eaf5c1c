package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/enricher"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/poller"
	"github.com/pwmpw/uniswap-relay/internal/pipeline/publisher"
	"github.com/pwmpw/uniswap-relay/internal/retry"
	"github.com/pwmpw/uniswap-relay/internal/source"
)

type fakePoolSource struct{}

func (fakePoolSource) Version() model.Version { return model.VersionV2 }

func (fakePoolSource) FetchPage(context.Context, model.Cursor, int) (*source.Page, error) {
	return &source.Page{}, nil
}

func (fakePoolSource) FetchPool(_ context.Context, address string) (*model.PoolInfo, error) {
	return &model.PoolInfo{Address: address, Token0: "0xt0", Token1: "0xt1"}, nil
}

type fakeRedis struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, _ string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeRedis) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func newTestPipeline(fake *fakeRedis) *Pipeline {
	sources := map[model.Version]source.SwapSource{model.VersionV2: fakePoolSource{}}
	enr := enricher.New(enricher.Config{RefreshWait: time.Second}, sources, nil, nil)
	pub := publisher.New(fake, "test:swaps", retry.Policy{Initial: time.Millisecond, MaxAttempts: 2}, nil, nil)
	return New(10, enr, pub, nil, NewHealthMonitor(3, nil), nil)
}

func TestPipelinePublishesQueuedEventsInOrder(t *testing.T) {
	fake := &fakeRedis{}
	pipe := newTestPipeline(fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()

	for i := int64(1); i <= 3; i++ {
		pipe.Queue() <- poller.Item{
			Event: model.SwapEvent{
				Version:     model.VersionV2,
				TxHash:      "0xabc",
				LogIndex:    i,
				BlockNumber: 100,
				PoolAddress: "0xpool",
			},
			PolledAt: time.Now(),
		}
	}

	require.Eventually(t, func() bool {
		return len(fake.published()) == 3
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	for i, payload := range fake.published() {
		var decoded model.SwapEvent
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, int64(i+1), decoded.LogIndex)
		require.NotNil(t, decoded.Pool)
		assert.Equal(t, "0xpool", decoded.Pool.Address)
	}
}

func TestPipelineDrainsQueueOnShutdown(t *testing.T) {
	fake := &fakeRedis{}
	pipe := newTestPipeline(fake)

	for i := int64(1); i <= 5; i++ {
		pipe.Queue() <- poller.Item{
			Event:    model.SwapEvent{Version: model.VersionV2, TxHash: "0xabc", LogIndex: i, PoolAddress: "0xpool"},
			PolledAt: time.Now(),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pipe.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Len(t, fake.published(), 5)
}

func TestHealthMonitorThreshold(t *testing.T) {
	h := NewHealthMonitor(3, nil)

	h.ReportFailure("poller_v2", errors.New("boom"))
	h.ReportFailure("poller_v2", errors.New("boom"))
	assert.True(t, h.Healthy())

	h.ReportFailure("poller_v2", errors.New("boom"))
	assert.False(t, h.Healthy())

	snap := h.Snapshot()
	comp, ok := snap.Components["poller_v2"]
	require.True(t, ok)
	assert.False(t, comp.Healthy)
	assert.Equal(t, 3, comp.ConsecutiveFailures)
	assert.Equal(t, "boom", comp.LastError)
}

func TestHealthMonitorRecovery(t *testing.T) {
	h := NewHealthMonitor(2, nil)

	h.ReportFailure("publisher", errors.New("down"))
	h.ReportFailure("publisher", errors.New("down"))
	require.False(t, h.Healthy())

	h.ReportSuccess("publisher")
	assert.True(t, h.Healthy())

	// A single new failure does not flip it back.
	h.ReportFailure("publisher", errors.New("blip"))
	assert.True(t, h.Healthy())
}

func TestHealthMonitorProbes(t *testing.T) {
	h := NewHealthMonitor(3, nil)

	healthy := true
	h.RegisterProbe("publisher_connection", func() bool { return healthy })

	assert.True(t, h.Healthy())

	healthy = false
	snap := h.Snapshot()
	assert.False(t, snap.Healthy)
	assert.False(t, snap.Components["publisher_connection"].Healthy)
}

func TestHealthSnapshotSerializes(t *testing.T) {
	h := NewHealthMonitor(1, nil)
	h.ReportSuccess("poller_v2")
	h.ReportFailure("poller_v3", errors.New("subgraph down"))

	raw, err := json.Marshal(h.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"poller_v2"`)
	assert.Contains(t, string(raw), `"subgraph down"`)
}
