package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/metrics"
)

// DefaultFailureThreshold is the number of consecutive failures after which
// a component is marked unhealthy. One failed cycle is noise; a run of them
// is an outage.
const DefaultFailureThreshold = 3

// DefaultStaleRatioLimit is the enrichment stale ratio above which the
// enricher probe reports unhealthy.
const DefaultStaleRatioLimit = 0.5

type componentState struct {
	healthy             bool
	consecutiveFailures int
	lastError           string
	lastTransition      time.Time
}

// HealthMonitor tracks per-component health from reported outcomes plus
// registered probe functions evaluated at snapshot time.
type HealthMonitor struct {
	threshold int
	logger    *slog.Logger

	mu         sync.RWMutex
	components map[string]*componentState
	probes     map[string]func() bool
}

func NewHealthMonitor(threshold int, logger *slog.Logger) *HealthMonitor {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		threshold:  threshold,
		logger:     logger.With("component", "health"),
		components: make(map[string]*componentState),
		probes:     make(map[string]func() bool),
	}
}

// RegisterProbe adds a boolean health probe evaluated on every snapshot,
// e.g. publisher connectivity or enricher stale ratio.
func (h *HealthMonitor) RegisterProbe(name string, probe func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

func (h *HealthMonitor) ReportSuccess(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state(component)
	state.consecutiveFailures = 0
	if !state.healthy {
		state.healthy = true
		state.lastTransition = time.Now().UTC()
		h.logger.Info("component recovered", "name", component)
	}
	metrics.ComponentHealthy.WithLabelValues(component).Set(1)
}

func (h *HealthMonitor) ReportFailure(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state(component)
	state.consecutiveFailures++
	if err != nil {
		state.lastError = err.Error()
	}
	if state.healthy && state.consecutiveFailures >= h.threshold {
		state.healthy = false
		state.lastTransition = time.Now().UTC()
		h.logger.Error("component unhealthy",
			"name", component,
			"consecutive_failures", state.consecutiveFailures,
			"error", state.lastError)
		metrics.ComponentHealthy.WithLabelValues(component).Set(0)
	}
}

// state returns the tracked component, creating it healthy. Callers hold mu.
func (h *HealthMonitor) state(component string) *componentState {
	s, ok := h.components[component]
	if !ok {
		s = &componentState{healthy: true, lastTransition: time.Now().UTC()}
		h.components[component] = s
		metrics.ComponentHealthy.WithLabelValues(component).Set(1)
	}
	return s
}

// ComponentHealth is the per-component view exposed on the health endpoint.
type ComponentHealth struct {
	Healthy             bool   `json:"healthy"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	LastTransition      string `json:"last_transition,omitempty"`
}

// HealthSnapshot is the aggregate health document.
type HealthSnapshot struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
}

// Snapshot evaluates probes and reduces all components to one boolean.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HealthSnapshot{
		Healthy:    true,
		Components: make(map[string]ComponentHealth, len(h.components)+len(h.probes)),
	}

	for name, state := range h.components {
		snap.Components[name] = ComponentHealth{
			Healthy:             state.healthy,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
			LastTransition:      state.lastTransition.Format(time.RFC3339),
		}
		if !state.healthy {
			snap.Healthy = false
		}
	}

	for name, probe := range h.probes {
		ok := probe()
		snap.Components[name] = ComponentHealth{Healthy: ok}
		metrics.ComponentHealthy.WithLabelValues(name).Set(boolToGauge(ok))
		if !ok {
			snap.Healthy = false
		}
	}

	return snap
}

// Healthy reduces the snapshot to the liveness boolean.
func (h *HealthMonitor) Healthy() bool {
	return h.Snapshot().Healthy
}

func boolToGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
