package guardian

import (
	"fmt"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Threat sources.
const (
	SourceHealth     = "health_monitor"
	SourceIntegrity  = "integrity"
	SourceCleanup    = "cleanup"
	SourceAdaptation = "adaptation"
)

// ThreatHandler is notified of every new threat. Handlers run synchronously
// and must not block; panics are recovered and logged.
type ThreatHandler interface {
	HandleThreat(t models.Threat)
}

// ThreatHandlerFunc adapts a function to ThreatHandler.
type ThreatHandlerFunc func(t models.Threat)

// HandleThreat calls f(t).
func (f ThreatHandlerFunc) HandleThreat(t models.Threat) { f(t) }

// ThreatStore persists threats across restarts.
type ThreatStore interface {
	SaveThreat(t models.Threat) error
	ResolveThreat(id, resolution string, at time.Time) (bool, error)
	ListThreats(status string) ([]models.Threat, error)
}

// OnThreat registers a handler. Every handler sees every threat.
func (g *Guardian) OnThreat(h ThreatHandler) {
	g.handlersMu.Lock()
	g.handlers = append(g.handlers, h)
	g.handlersMu.Unlock()
}

// ReportThreat queues a threat for the decision authority. Source, Type,
// Severity, Component and Details are taken from t; the rest is assigned.
func (g *Guardian) ReportThreat(t models.Threat) models.Threat {
	t.ID = "threat_" + uuid.New().String()
	t.Timestamp = g.now()
	t.Status = models.ThreatPending
	t.Resolution = ""
	t.ResolvedAt = nil

	g.mu.Lock()
	g.threats[t.ID] = &t
	g.order = append(g.order, t.ID)
	g.evictLocked()
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.SaveThreat(t); err != nil {
			g.logger.Error("persisting threat", zap.String("id", t.ID), zap.Error(err))
		}
	}

	threatsTotal.WithLabelValues(t.Source, string(t.Severity)).Inc()
	threatsPending.Inc()
	g.logger.Info("threat reported",
		zap.String("id", t.ID),
		zap.String("source", t.Source),
		zap.String("type", t.Type),
		zap.String("severity", string(t.Severity)),
	)

	g.handlersMu.RLock()
	handlers := append([]ThreatHandler(nil), g.handlers...)
	g.handlersMu.RUnlock()
	for _, h := range handlers {
		g.notify(h, t)
	}
	return t
}

func (g *Guardian) notify(h ThreatHandler, t models.Threat) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("threat handler panicked", zap.String("id", t.ID), zap.Any("panic", r))
		}
	}()
	h.HandleThreat(t)
}

// evictLocked drops the oldest resolved threats above the limit.
func (g *Guardian) evictLocked() {
	excess := len(g.order) - g.cfg.ThreatLimit
	if excess <= 0 {
		return
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if excess > 0 && g.threats[id].Status == models.ThreatResolved {
			delete(g.threats, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
}

// Threats returns threats oldest first. An empty status returns all of them.
func (g *Guardian) Threats(status models.ThreatStatus) []models.Threat {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]models.Threat, 0, len(g.order))
	for _, id := range g.order {
		t := g.threats[id]
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	return out
}

// Threat returns one threat by id.
func (g *Guardian) Threat(id string) (models.Threat, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.threats[id]
	if !ok {
		return models.Threat{}, false
	}
	return *t, true
}

// ResolveThreat marks a threat handled. Resolving an already resolved threat
// is an expected race and returns the threat unchanged.
func (g *Guardian) ResolveThreat(id, resolution string) (models.Threat, error) {
	g.mu.Lock()
	t, ok := g.threats[id]
	if !ok {
		g.mu.Unlock()
		return models.Threat{}, fmt.Errorf("%w: %s", ErrThreatNotFound, id)
	}
	if t.Status == models.ThreatResolved {
		out := *t
		g.mu.Unlock()
		g.logger.Debug("threat already resolved", zap.String("id", id))
		return out, nil
	}
	now := g.now()
	t.Status = models.ThreatResolved
	t.Resolution = resolution
	t.ResolvedAt = &now
	out := *t
	g.mu.Unlock()

	threatsPending.Dec()
	if g.store != nil {
		if _, err := g.store.ResolveThreat(id, resolution, now); err != nil {
			g.logger.Error("persisting threat resolution", zap.String("id", id), zap.Error(err))
		}
	}
	g.record("guardian.resolve", map[string]string{"id": id, "resolution": resolution}, string(models.ThreatResolved), id, resolution)
	g.logger.Info("threat resolved", zap.String("id", id), zap.String("resolution", resolution))
	return out, nil
}

// reloadThreats restores pending threats from the store.
func (g *Guardian) reloadThreats() error {
	if g.store == nil {
		return nil
	}
	pending, err := g.store.ListThreats(string(models.ThreatPending))
	if err != nil {
		return fmt.Errorf("load threats: %w", err)
	}
	g.mu.Lock()
	for i := range pending {
		t := pending[i]
		if _, ok := g.threats[t.ID]; ok {
			continue
		}
		g.threats[t.ID] = &t
		g.order = append(g.order, t.ID)
	}
	g.mu.Unlock()
	threatsPending.Add(float64(len(pending)))
	return nil
}

// threatSeverity folds an issue severity onto the threat scale.
func threatSeverity(s models.Severity) models.Severity {
	switch s {
	case models.SeverityCritical, models.SeverityError, models.SeverityWarning, models.SeverityInfo:
		return s
	case models.SeverityHigh:
		return models.SeverityError
	case models.SeverityMedium, models.SeverityLow:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}
