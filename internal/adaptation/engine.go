// Package adaptation implements the risk-gated proposal lifecycle for
// changes to the system's own files: propose, approve or reject, apply with
// backup, and roll back.
package adaptation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/guardian/internal/fsutil"
	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApprovalRouter receives each new proposal of the tier it is registered
// for. The decision comes back later through Approve or Reject.
type ApprovalRouter interface {
	RouteForApproval(ctx context.Context, p models.Proposal) error
}

// ApprovalRouterFunc adapts a function to ApprovalRouter.
type ApprovalRouterFunc func(ctx context.Context, p models.Proposal) error

// RouteForApproval calls f(ctx, p).
func (f ApprovalRouterFunc) RouteForApproval(ctx context.Context, p models.Proposal) error {
	return f(ctx, p)
}

// Recorder receives an audit record for every transition.
type Recorder interface {
	Record(action string, inputs any, outcome, subjectID, details string) (*models.PDREntry, error)
}

// Config defines the adaptation engine configuration.
type Config struct {
	// BackupDir holds backups and, under proposals/, the proposal documents.
	BackupDir string `yaml:"backup_dir"`
	// HistoryLimit bounds the in-memory applied history.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BackupDir:    "backups",
		HistoryLimit: 1000,
	}
}

// Stats counts proposals by status and risk.
type Stats struct {
	Pending    int                 `json:"pending"`
	Approved   int                 `json:"approved"`
	Applied    int                 `json:"applied"`
	Rejected   int                 `json:"rejected"`
	Failed     int                 `json:"failed"`
	RolledBack int                 `json:"rolled_back"`
	ByRisk     map[models.Risk]int `json:"by_risk"`
}

// Engine owns every proposal and serializes transitions per proposal id.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	store    ProposalStore
	backups  *backupStore
	recorder Recorder
	locks    *keyedMutex

	mu        sync.RWMutex
	proposals map[string]*models.Proposal
	history   []models.HistoryEntry

	routersMu sync.RWMutex
	routers   map[models.Risk]ApprovalRouter
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l).Named("adaptation") }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStore replaces the default file store.
func WithStore(s ProposalStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an engine, creating the backup directory and reloading every
// pending or approved proposal from the store.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.BackupDir == "" {
		cfg.BackupDir = DefaultConfig().BackupDir
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if err := os.MkdirAll(cfg.BackupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       time.Now,
		locks:     newKeyedMutex(),
		proposals: make(map[string]*models.Proposal),
		routers:   make(map[models.Risk]ApprovalRouter),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewFileStore(filepath.Join(cfg.BackupDir, "proposals"))
	}
	e.backups = &backupStore{dir: cfg.BackupDir, now: e.now}

	active, err := e.store.LoadActive()
	if err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}
	for i := range active {
		p := active[i]
		e.proposals[p.ID] = &p
	}
	e.logger.Info("adaptation engine ready", zap.String("backup_dir", cfg.BackupDir), zap.Int("reloaded", len(active)))
	return e, nil
}

// OnApproval registers the router for one risk tier, replacing any previous.
func (e *Engine) OnApproval(risk models.Risk, r ApprovalRouter) {
	e.routersMu.Lock()
	e.routers[risk] = r
	e.routersMu.Unlock()
}

// --- Proposals ---

// Propose validates the change, classifies its risk, persists it as pending
// and hands it to the router of its tier. The returned proposal reflects any
// decision the router made synchronously.
func (e *Engine) Propose(ctx context.Context, c Change) (models.Proposal, error) {
	if err := c.Validate(); err != nil {
		return models.Proposal{}, err
	}

	p := models.Proposal{
		ID:          "adapt_" + uuid.NewString(),
		Timestamp:   e.now(),
		Status:      models.ProposalPending,
		Type:        c.Type,
		Target:      c.Target,
		Action:      c.Action,
		Before:      c.Before,
		After:       c.After,
		Diff:        c.Diff,
		Reason:      c.Reason,
		TriggeredBy: c.TriggeredBy,
		Risk:        AssessRisk(c),
		Reversible:  c.Reversible == nil || *c.Reversible,
	}

	if p.Diff == "" && (p.Action == models.ActionModify || p.Action == models.ActionCreate) {
		if d, err := UnifiedDiff(p.Target, p.Before, p.After); err == nil {
			p.Diff = d
		} else {
			e.logger.Debug("diff generation failed", zap.Error(err))
		}
	}
	if st, err := ComputeDiffStats(p.Diff); err == nil {
		p.LinesAdded, p.LinesRemoved = st.Added, st.Removed
	} else {
		e.logger.Debug("diff not parseable", zap.String("id", p.ID), zap.Error(err))
	}

	if err := e.store.Save(p); err != nil {
		return models.Proposal{}, fmt.Errorf("persist proposal: %w", err)
	}
	e.mu.Lock()
	e.proposals[p.ID] = &p
	e.mu.Unlock()

	proposalsTotal.WithLabelValues(string(p.Risk)).Inc()
	transitionsTotal.WithLabelValues(string(p.Status)).Inc()
	e.record("propose", c, string(p.Status), p.ID, string(p.Risk))
	e.logger.Info("proposal raised",
		zap.String("id", p.ID),
		zap.String("action", string(p.Action)),
		zap.String("target", p.Target),
		zap.String("risk", string(p.Risk)))

	e.route(ctx, p)

	if cur, ok := e.Proposal(p.ID); ok {
		return cur, nil
	}
	return p, nil
}

func (e *Engine) route(ctx context.Context, p models.Proposal) {
	e.routersMu.RLock()
	r := e.routers[p.Risk]
	e.routersMu.RUnlock()
	if r == nil {
		e.logger.Info("no approval router for tier", zap.String("risk", string(p.Risk)), zap.String("id", p.ID))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("approval router panicked", zap.String("id", p.ID), zap.Any("panic", rec))
		}
	}()
	if err := r.RouteForApproval(ctx, p); err != nil {
		e.logger.Error("approval routing failed", zap.String("id", p.ID), zap.Error(err))
	}
}

// Approve moves a pending proposal to approved if approver may authorize its
// risk tier. A refused approval changes nothing.
func (e *Engine) Approve(ctx context.Context, id, approver string) (models.Proposal, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(id)
	if err != nil {
		return models.Proposal{}, e.deny("approve", err)
	}
	if cur.Status != models.ProposalPending {
		return cur, e.deny("approve", ErrNotPending)
	}
	if err := authorize(cur.Risk, approver); err != nil {
		e.logger.Warn("approval refused", zap.String("id", id), zap.String("approver", approver), zap.String("risk", string(cur.Risk)))
		return cur, e.deny("approve", err)
	}

	next := cur
	at := e.now()
	next.Status = models.ProposalApproved
	next.ApprovedBy = approver
	next.ApprovedAt = &at
	if err := e.commit(next); err != nil {
		return cur, err
	}

	e.record("approve", map[string]string{"id": id, "approver": approver}, string(next.Status), id, approver)
	e.logger.Info("proposal approved", zap.String("id", id), zap.String("approver", approver))
	return next, nil
}

// Reject moves a pending proposal to rejected.
func (e *Engine) Reject(ctx context.Context, id, reason, rejector string) (models.Proposal, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(id)
	if err != nil {
		return models.Proposal{}, e.deny("reject", err)
	}
	if cur.Status != models.ProposalPending {
		return cur, e.deny("reject", ErrNotPending)
	}

	next := cur
	at := e.now()
	next.Status = models.ProposalRejected
	next.RejectedBy = rejector
	next.RejectedAt = &at
	next.RejectionReason = reason
	if err := e.commit(next); err != nil {
		return cur, err
	}

	e.record("reject", map[string]string{"id": id, "rejector": rejector, "reason": reason}, string(next.Status), id, reason)
	e.logger.Info("proposal rejected", zap.String("id", id), zap.String("rejector", rejector), zap.String("reason", reason))
	return next, nil
}

// --- Application ---

// Apply performs an approved proposal. Every action except create backs the
// target up first. Any I/O error leaves the proposal failed, which is
// terminal; the returned error wraps ErrApplyFailed.
func (e *Engine) Apply(ctx context.Context, id string) (models.Proposal, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(id)
	if err != nil {
		return models.Proposal{}, e.deny("apply", err)
	}
	if cur.Status != models.ProposalApproved {
		return cur, e.deny("apply", ErrNotApproved)
	}

	next := cur
	if execErr := e.execute(&next); execErr != nil {
		next.Status = models.ProposalFailed
		next.Error = execErr.Error()
		if err := e.commit(next); err != nil {
			e.logger.Error("persisting failed proposal", zap.String("id", id), zap.Error(err))
		}
		e.record("apply", map[string]string{"id": id}, string(next.Status), id, next.Error)
		e.logger.Error("apply failed", zap.String("id", id), zap.String("target", next.Target), zap.Error(execErr))
		return next, fmt.Errorf("%w: %v", ErrApplyFailed, execErr)
	}

	at := e.now()
	next.Status = models.ProposalApplied
	next.AppliedAt = &at
	if err := e.commit(next); err != nil {
		return next, err
	}

	e.mu.Lock()
	e.history = append(e.history, models.HistoryEntry{
		ID:                next.ID,
		Target:            next.Target,
		Action:            next.Action,
		AppliedAt:         at,
		RollbackAvailable: next.RollbackAvailable,
	})
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}
	e.mu.Unlock()

	e.record("apply", map[string]string{"id": id}, string(next.Status), id, next.BackupPath)
	e.logger.Info("proposal applied",
		zap.String("id", id),
		zap.String("action", string(next.Action)),
		zap.String("target", next.Target),
		zap.String("backup", next.BackupPath))
	return next, nil
}

// execute backs up and then performs the filesystem action on p.
func (e *Engine) execute(p *models.Proposal) error {
	if p.Action == models.ActionCreate {
		if fsutil.Exists(p.Target) {
			return fmt.Errorf("create %s: target already exists", p.Target)
		}
		if err := os.MkdirAll(filepath.Dir(p.Target), 0755); err != nil {
			return err
		}
		return os.WriteFile(p.Target, []byte(p.After), 0644)
	}

	backup, err := e.backups.Backup(p.Target)
	if err != nil {
		return err
	}
	p.BackupPath = backup
	p.RollbackAvailable = p.Reversible

	switch p.Action {
	case models.ActionModify:
		perm := os.FileMode(0644)
		if info, err := os.Stat(p.Target); err == nil {
			perm = info.Mode().Perm()
		}
		return fsutil.WriteFileAtomic(p.Target, []byte(p.After), perm)
	case models.ActionDelete:
		return os.Remove(p.Target)
	case models.ActionMove:
		if fsutil.Exists(p.After) {
			return fmt.Errorf("move %s: destination %s already exists", p.Target, p.After)
		}
		if err := os.MkdirAll(filepath.Dir(p.After), 0755); err != nil {
			return err
		}
		return os.Rename(p.Target, p.After)
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
}

// Rollback restores the backup of an applied proposal. Create proposals have
// no backup and are never rolled back. A failed restore leaves the proposal
// applied.
func (e *Engine) Rollback(ctx context.Context, id string) (models.Proposal, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	cur, err := e.load(id)
	if err != nil {
		return models.Proposal{}, e.deny("rollback", err)
	}
	if cur.Status != models.ProposalApplied {
		return cur, e.deny("rollback", ErrNotApplied)
	}
	if !cur.RollbackAvailable || cur.BackupPath == "" {
		return cur, e.deny("rollback", ErrRollbackNotAvailable)
	}

	if err := fsutil.CopyFile(cur.BackupPath, cur.Target); err != nil {
		e.logger.Error("rollback failed", zap.String("id", id), zap.Error(err))
		return cur, fmt.Errorf("%w: %v", ErrRollbackFailed, err)
	}
	if cur.Action == models.ActionMove && cur.After != "" {
		if err := os.Remove(cur.After); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("removing moved copy", zap.String("path", cur.After), zap.Error(err))
		}
	}

	next := cur
	at := e.now()
	next.Status = models.ProposalRolledBack
	next.RolledBackAt = &at
	if err := e.commit(next); err != nil {
		return next, err
	}

	e.record("rollback", map[string]string{"id": id}, string(next.Status), id, next.BackupPath)
	e.logger.Info("proposal rolled back", zap.String("id", id), zap.String("target", next.Target))
	return next, nil
}

// --- State helpers ---

func (e *Engine) load(id string) (models.Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[id]
	if !ok {
		return models.Proposal{}, ErrProposalNotFound
	}
	return *p, nil
}

// commit persists p and then publishes it. The caller holds the id lock.
func (e *Engine) commit(p models.Proposal) error {
	if err := e.store.Save(p); err != nil {
		e.logger.Error("persist proposal", zap.String("id", p.ID), zap.Error(err))
		return fmt.Errorf("persist proposal: %w", err)
	}
	e.mu.Lock()
	e.proposals[p.ID] = &p
	e.mu.Unlock()
	transitionsTotal.WithLabelValues(string(p.Status)).Inc()
	return nil
}

func (e *Engine) deny(op string, err error) error {
	deniedTotal.WithLabelValues(op, err.Error()).Inc()
	return err
}

func (e *Engine) record(action string, inputs any, outcome, id, details string) {
	if e.recorder == nil {
		return
	}
	if _, err := e.recorder.Record("adaptation."+action, inputs, outcome, id, details); err != nil {
		e.logger.Warn("audit record failed", zap.String("action", action), zap.String("id", id), zap.Error(err))
	}
}

// --- Queries ---

// Proposal returns a copy of one proposal.
func (e *Engine) Proposal(id string) (models.Proposal, bool) {
	p, err := e.load(id)
	return p, err == nil
}

// List returns all live proposals, oldest first.
func (e *Engine) List() []models.Proposal {
	return e.filter(func(models.Proposal) bool { return true })
}

// Pending returns pending proposals, oldest first.
func (e *Engine) Pending() []models.Proposal {
	return e.filter(func(p models.Proposal) bool { return p.Status == models.ProposalPending })
}

// ByRisk returns pending proposals of one tier, oldest first.
func (e *Engine) ByRisk(risk models.Risk) []models.Proposal {
	return e.filter(func(p models.Proposal) bool {
		return p.Status == models.ProposalPending && p.Risk == risk
	})
}

func (e *Engine) filter(keep func(models.Proposal) bool) []models.Proposal {
	e.mu.RLock()
	out := make([]models.Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		if keep(*p) {
			out = append(out, *p)
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// History returns up to limit most recent applied records.
func (e *Engine) History(limit int) []models.HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := 0
	if limit > 0 && len(e.history) > limit {
		start = len(e.history) - limit
	}
	return append([]models.HistoryEntry(nil), e.history[start:]...)
}

// Stats counts live proposals by status and risk.
func (e *Engine) Stats() Stats {
	st := Stats{ByRisk: make(map[models.Risk]int, len(models.Risks))}
	for _, r := range models.Risks {
		st.ByRisk[r] = 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.proposals {
		switch p.Status {
		case models.ProposalPending:
			st.Pending++
		case models.ProposalApproved:
			st.Approved++
		case models.ProposalApplied:
			st.Applied++
		case models.ProposalRejected:
			st.Rejected++
		case models.ProposalFailed:
			st.Failed++
		case models.ProposalRolledBack:
			st.RolledBack++
		}
		st.ByRisk[p.Risk]++
	}
	return st
}
