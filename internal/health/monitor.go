// Package health provides the component watchdog and statistical anomaly detector.
package health

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
	"go.uber.org/zap"
)

// Well-known metric names used by leak and stall detection.
const (
	MetricMemory   = "memoryUsed"
	MetricHandles  = "handles"
	MetricProgress = "progress"
)

// Alert types.
const (
	AlertAnomaly       = "anomaly"
	AlertComponentDead = "component_dead"
	AlertResourceLeak  = "resource_leak"
	AlertStuckProcess  = "stuck_process"
)

// AlertHandler receives every alert raised by the monitor.
type AlertHandler interface {
	HandleAlert(alert models.Alert)
}

// AlertHandlerFunc adapts a function to AlertHandler.
type AlertHandlerFunc func(alert models.Alert)

// HandleAlert calls f(alert).
func (f AlertHandlerFunc) HandleAlert(alert models.Alert) { f(alert) }

// Options configures a newly registered component.
type Options struct {
	Type     string `json:"type"`
	Critical bool   `json:"critical"`
}

// Anomaly describes one metric that deviated from its baseline.
type Anomaly struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Expected  float64 `json:"expected"`
	Deviation float64 `json:"deviation"`
}

// Leak describes one resource growing past its ratio.
type Leak struct {
	Resource string  `json:"resource"`
	Growth   float64 `json:"growth"`
}

// Snapshot is one history record written by Check.
type Snapshot struct {
	Timestamp  time.Time                         `json:"timestamp"`
	Components map[string]models.ComponentStatus `json:"components"`
	Alerts     int                               `json:"alerts"`
}

// ComponentSummary is the per-component part of Status.
type ComponentSummary struct {
	Status        models.ComponentStatus `json:"status"`
	LastHeartbeat time.Time              `json:"last_heartbeat"`
	AnomalyCount  int                    `json:"anomaly_count"`
	Critical      bool                   `json:"critical"`
}

// Status aggregates the health of all components.
type Status struct {
	Overall      string                      `json:"overall"` // healthy, degraded, critical
	Healthy      int                         `json:"healthy"`
	Warning      int                         `json:"warning"`
	Dead         int                         `json:"dead"`
	DeadCritical []string                    `json:"dead_critical,omitempty"`
	Components   map[string]ComponentSummary `json:"components"`
}

type component struct {
	mu sync.Mutex

	id            string
	typ           string
	critical      bool
	lastHeartbeat time.Time
	lastMetrics   map[string]float64
	status        models.ComponentStatus
	samples       int
	baseline      map[string]*accumulator
	anomalyCount  int

	leaking           bool
	progress          float64
	progressSeen      bool
	progressChangedAt time.Time
	stuck             bool
}

// Monitor watches registered components for missed heartbeats and drift.
type Monitor struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	components map[string]*component
	history    []Snapshot

	handlersMu sync.RWMutex
	handlers   []AlertHandler

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logging.OrNop(l).Named("health") }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. Zero or negative fields take their defaults.
func New(cfg Config, opts ...Option) *Monitor {
	cfg = withDefaults(cfg)
	m := &Monitor{
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		components: make(map[string]*component),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.BaselineSamples <= 0 {
		cfg.BaselineSamples = def.BaselineSamples
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = def.StuckTimeout
	}
	if cfg.MemoryLeakRatio <= 0 {
		cfg.MemoryLeakRatio = def.MemoryLeakRatio
	}
	if cfg.HandleLeakRatio <= 0 {
		cfg.HandleLeakRatio = def.HandleLeakRatio
	}
	return cfg
}

// --- Registration ---

// Register adds a component in status unknown. Registering an existing id
// replaces it.
func (m *Monitor) Register(id string, opts Options) {
	if opts.Type == "" {
		opts.Type = "unknown"
	}
	c := &component{
		id:            id,
		typ:           opts.Type,
		critical:      opts.Critical,
		lastHeartbeat: m.now(),
		status:        models.ComponentUnknown,
		baseline:      make(map[string]*accumulator),
	}

	m.mu.Lock()
	m.components[id] = c
	m.mu.Unlock()

	m.logger.Info("component registered", zap.String("component", id), zap.String("type", opts.Type), zap.Bool("critical", opts.Critical))
}

// Unregister removes a component. It reports whether the component existed.
func (m *Monitor) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[id]; !ok {
		return false
	}
	delete(m.components, id)
	return true
}

// --- Heartbeats ---

// Heartbeat records a heartbeat with numeric metrics. It returns false for
// unknown components and changes nothing in that case.
func (m *Monitor) Heartbeat(id string, metrics map[string]float64) bool {
	m.mu.RLock()
	c := m.components[id]
	m.mu.RUnlock()
	if c == nil {
		m.logger.Warn("heartbeat from unknown component", zap.String("component", id))
		return false
	}

	now := m.now()
	var alert *models.Alert

	c.mu.Lock()
	c.lastHeartbeat = now
	c.lastMetrics = make(map[string]float64, len(metrics))
	for k, v := range metrics {
		c.lastMetrics[k] = v
	}
	c.status = models.ComponentAlive

	if c.samples < m.cfg.BaselineSamples {
		c.samples++
	}
	if anomalies := m.observe(c, metrics); len(anomalies) > 0 {
		c.anomalyCount++
		alert = &models.Alert{
			Type:      AlertAnomaly,
			Severity:  models.SeverityWarning,
			Component: id,
			Details:   map[string]any{"anomalies": anomalies},
			Timestamp: now,
		}
	} else if c.anomalyCount > 0 {
		c.anomalyCount--
	}

	if v, ok := metrics[MetricProgress]; ok {
		if !c.progressSeen || v != c.progress {
			c.progress = v
			c.progressChangedAt = now
			c.progressSeen = true
			c.stuck = false
		}
	}
	typ := c.typ
	c.mu.Unlock()

	heartbeatsTotal.WithLabelValues(typ).Inc()
	if alert != nil {
		m.dispatch(*alert)
	}
	return true
}

// observe folds each metric into its own baseline until that baseline holds
// BaselineSamples values, then z-scores it. A zero stddev carries no signal
// and is skipped. Caller holds c.mu.
func (m *Monitor) observe(c *component, metrics map[string]float64) []Anomaly {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var anomalies []Anomaly
	for _, k := range keys {
		v := metrics[k]
		acc, ok := c.baseline[k]
		if !ok {
			acc = &accumulator{}
			c.baseline[k] = acc
		}
		if acc.n < m.cfg.BaselineSamples {
			acc.add(v)
			continue
		}
		sd := acc.stddev()
		if sd == 0 {
			continue
		}
		z := math.Abs(v-acc.mean) / sd
		if z > m.cfg.AnomalyThreshold {
			anomalies = append(anomalies, Anomaly{Metric: k, Value: v, Expected: acc.mean, Deviation: z})
		}
	}
	return anomalies
}

// --- Monitoring ---

// Start runs Check every CheckInterval until Stop is called or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.CheckInterval))
}

// Stop halts the periodic check and waits for it to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.runMu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// Check scans every component once and dispatches the resulting alerts.
func (m *Monitor) Check() []models.Alert {
	now := m.now()
	comps := m.sortedComponents()

	var alerts []models.Alert
	statuses := make(map[string]models.ComponentStatus, len(comps))
	counts := map[models.ComponentStatus]int{}

	for _, c := range comps {
		c.mu.Lock()
		silent := now.Sub(c.lastHeartbeat)
		if silent > m.cfg.HeartbeatTimeout && c.status == models.ComponentAlive {
			c.status = models.ComponentDead
			sev := models.SeverityError
			if c.critical {
				sev = models.SeverityCritical
			}
			alerts = append(alerts, models.Alert{
				Type:      AlertComponentDead,
				Severity:  sev,
				Component: c.id,
				Details: map[string]any{
					"last_seen":  c.lastHeartbeat,
					"silent_for": silent.String(),
				},
				Timestamp: now,
			})
		}

		if leaks := m.detectLeaks(c); len(leaks) > 0 {
			if !c.leaking {
				c.leaking = true
				alerts = append(alerts, models.Alert{
					Type:      AlertResourceLeak,
					Severity:  models.SeverityWarning,
					Component: c.id,
					Details:   map[string]any{"leaks": leaks},
					Timestamp: now,
				})
			}
		} else {
			c.leaking = false
		}

		if c.status == models.ComponentAlive && c.progressSeen && !c.stuck &&
			now.Sub(c.progressChangedAt) > m.cfg.StuckTimeout {
			c.stuck = true
			alerts = append(alerts, models.Alert{
				Type:      AlertStuckProcess,
				Severity:  models.SeverityWarning,
				Component: c.id,
				Details: map[string]any{
					"progress":   c.progress,
					"flat_since": c.progressChangedAt,
				},
				Timestamp: now,
			})
		}

		statuses[c.id] = c.status
		counts[c.status]++
		c.mu.Unlock()
	}

	for _, s := range []models.ComponentStatus{models.ComponentUnknown, models.ComponentAlive, models.ComponentDead} {
		componentsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
	}

	m.recordHistory(Snapshot{Timestamp: now, Components: statuses, Alerts: len(alerts)})

	for _, a := range alerts {
		m.dispatch(a)
	}
	return alerts
}

// detectLeaks compares the latest metrics against an established baseline.
// Caller holds c.mu.
func (m *Monitor) detectLeaks(c *component) []Leak {
	if c.lastMetrics == nil {
		return nil
	}
	var leaks []Leak
	check := func(metric, resource string, ratio float64) {
		cur := c.lastMetrics[metric]
		acc, ok := c.baseline[metric]
		if cur == 0 || !ok || acc.n < m.cfg.BaselineSamples || acc.mean == 0 {
			return
		}
		if growth := cur / acc.mean; growth > ratio {
			leaks = append(leaks, Leak{Resource: resource, Growth: growth})
		}
	}
	check(MetricMemory, "memory", m.cfg.MemoryLeakRatio)
	check(MetricHandles, "handles", m.cfg.HandleLeakRatio)
	return leaks
}

// --- Alerts ---

// OnAlert registers a handler for every subsequent alert.
func (m *Monitor) OnAlert(h AlertHandler) {
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, h)
	m.handlersMu.Unlock()
}

func (m *Monitor) dispatch(alert models.Alert) {
	m.logger.Warn("alert",
		zap.String("type", alert.Type),
		zap.String("component", alert.Component),
		zap.String("severity", string(alert.Severity)))
	alertsTotal.WithLabelValues(alert.Type, string(alert.Severity)).Inc()

	m.handlersMu.RLock()
	handlers := append([]AlertHandler(nil), m.handlers...)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		m.callHandler(h, alert)
	}
}

func (m *Monitor) callHandler(h AlertHandler, alert models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert handler panicked", zap.Any("panic", r), zap.String("type", alert.Type))
		}
	}()
	h.HandleAlert(alert)
}

// --- Queries ---

// Status summarizes the health of all components.
func (m *Monitor) Status() Status {
	st := Status{Components: make(map[string]ComponentSummary)}
	for _, c := range m.sortedComponents() {
		c.mu.Lock()
		st.Components[c.id] = ComponentSummary{
			Status:        c.status,
			LastHeartbeat: c.lastHeartbeat,
			AnomalyCount:  c.anomalyCount,
			Critical:      c.critical,
		}
		switch {
		case c.status == models.ComponentAlive && c.anomalyCount == 0:
			st.Healthy++
		case c.status == models.ComponentDead:
			st.Dead++
			if c.critical {
				st.DeadCritical = append(st.DeadCritical, c.id)
			}
		default:
			st.Warning++
		}
		c.mu.Unlock()
	}

	switch {
	case st.Dead > 0:
		st.Overall = "critical"
	case st.Warning > 0:
		st.Overall = "degraded"
	default:
		st.Overall = "healthy"
	}
	return st
}

// Component returns a copy of one component's record.
func (m *Monitor) Component(id string) (models.Component, bool) {
	m.mu.RLock()
	c := m.components[id]
	m.mu.RUnlock()
	if c == nil {
		return models.Component{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := models.Component{
		ID:              c.id,
		Type:            c.typ,
		Critical:        c.critical,
		LastHeartbeatAt: c.lastHeartbeat,
		Status:          c.status,
		BaselineSamples: c.samples,
		AnomalyCount:    c.anomalyCount,
	}
	if c.lastMetrics != nil {
		out.LastMetrics = make(map[string]float64, len(c.lastMetrics))
		for k, v := range c.lastMetrics {
			out.LastMetrics[k] = v
		}
	}
	if len(c.baseline) > 0 {
		out.Baseline = make(map[string]models.MetricBaseline, len(c.baseline))
		for k, acc := range c.baseline {
			out.Baseline[k] = models.MetricBaseline{
				Samples: acc.n,
				Mean:    acc.mean,
				StdDev:  acc.stddev(),
				Min:     acc.min,
				Max:     acc.max,
			}
		}
	}
	return out, true
}

// History returns up to limit most recent check snapshots.
func (m *Monitor) History(limit int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	return append([]Snapshot(nil), m.history[start:]...)
}

func (m *Monitor) recordHistory(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, s)
	if m.cfg.HistoryLimit > 0 && len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

func (m *Monitor) sortedComponents() []*component {
	m.mu.RLock()
	comps := make([]*component, 0, len(m.components))
	for _, c := range m.components {
		comps = append(comps, c)
	}
	m.mu.RUnlock()
	sort.Slice(comps, func(i, j int) bool { return comps[i].id < comps[j].id })
	return comps
}
