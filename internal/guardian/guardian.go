// Package guardian coordinates the health monitor, integrity checker,
// cleaner and adaptation engine into one threat queue for the decision
// authority.
package guardian

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/cleanup"
	"github.com/fentz26/guardian/internal/health"
	"github.com/fentz26/guardian/internal/integrity"
	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
)

// cleanupPreview is how many candidates a cleanup_request threat carries.
const cleanupPreview = 10

// Deps are the subsystems a Guardian coordinates. All four are required.
type Deps struct {
	Health     *health.Monitor
	Integrity  *integrity.Checker
	Cleanup    *cleanup.Cleaner
	Adaptation *adaptation.Engine
}

// CheckResult is the outcome of FullCheck.
type CheckResult struct {
	Timestamp time.Time             `json:"timestamp"`
	Health    health.Status         `json:"health"`
	Integrity *integrity.ScanResult `json:"integrity,omitempty"`
	Cleanup   cleanup.ScanResult    `json:"cleanup"`
	Threats   []string              `json:"threats"`
}

// Status aggregates every subsystem.
type Status struct {
	Health         health.Status    `json:"health"`
	Integrity      integrity.Stats  `json:"integrity"`
	Cleanup        cleanup.Stats    `json:"cleanup"`
	Adaptation     adaptation.Stats `json:"adaptation"`
	PendingThreats int              `json:"pending_threats"`
}

// Guardian owns the threat queue and wires subsystem events into it.
type Guardian struct {
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
	store      ThreatStore
	recorder   adaptation.Recorder
	health     *health.Monitor
	integrity  *integrity.Checker
	cleaner    *cleanup.Cleaner
	adaptation *adaptation.Engine
	sched      *scheduler

	mu      sync.RWMutex
	threats map[string]*models.Threat
	order   []string

	handlersMu sync.RWMutex
	handlers   []ThreatHandler

	lifeMu  sync.Mutex
	started bool
	watcher *integrity.Watcher
}

// Option customizes a Guardian.
type Option func(*Guardian)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Guardian) { g.logger = logging.OrNop(l).Named("guardian") }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guardian) { g.now = now }
}

// WithThreatStore persists threats and reloads pending ones on construction.
func WithThreatStore(s ThreatStore) Option {
	return func(g *Guardian) { g.store = s }
}

// WithRecorder sets the audit recorder for resolutions and cleanup runs.
func WithRecorder(r adaptation.Recorder) Option {
	return func(g *Guardian) { g.recorder = r }
}

// New wires the subsystems together: health alerts and cleanup confirmations
// become threats and each adaptation risk tier gets an approval router.
func New(cfg Config, deps Deps, opts ...Option) (*Guardian, error) {
	if deps.Health == nil || deps.Integrity == nil || deps.Cleanup == nil || deps.Adaptation == nil {
		return nil, fmt.Errorf("guardian: all subsystems are required")
	}
	if cfg.ThreatLimit <= 0 {
		cfg.ThreatLimit = DefaultConfig().ThreatLimit
	}

	g := &Guardian{
		cfg:        cfg,
		logger:     zap.NewNop(),
		now:        time.Now,
		health:     deps.Health,
		integrity:  deps.Integrity,
		cleaner:    deps.Cleanup,
		adaptation: deps.Adaptation,
		threats:    make(map[string]*models.Threat),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.reloadThreats(); err != nil {
		return nil, err
	}

	g.health.OnAlert(health.AlertHandlerFunc(g.handleHealthAlert))
	g.cleaner.SetConfirmer(cleanup.ConfirmerFunc(g.confirmCleanup))
	g.adaptation.OnApproval(models.RiskLow, adaptation.ApprovalRouterFunc(g.routeLow))
	g.adaptation.OnApproval(models.RiskMedium, g.routeAsThreat("proposal_needs_review", models.SeverityWarning))
	g.adaptation.OnApproval(models.RiskHigh, g.routeAsThreat("proposal_needs_human", models.SeverityWarning))
	g.adaptation.OnApproval(models.RiskCritical, g.routeAsThreat("critical_proposal", models.SeverityCritical))

	g.sched = newScheduler(g.logger.Named("scheduler"))
	if cfg.AutoIntegrity {
		g.sched.add("integrity", cfg.IntegrityInterval, func(ctx context.Context) error {
			_, err := g.RunIntegrityCheck(ctx, nil)
			return err
		})
	}
	g.sched.add("cleanup", cfg.CleanupInterval, func(ctx context.Context) error {
		_, err := g.RunCleanupScan(ctx)
		return err
	})
	return g, nil
}

// --- Lifecycle ---

// Start runs the health watchdog, the scheduled checks and, when enabled, the
// baseline watcher.
func (g *Guardian) Start(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.started {
		return nil
	}

	g.health.Start(ctx)
	g.sched.Start(ctx)
	if g.cfg.Watch {
		w, err := integrity.NewWatcher(g.integrity, func(i models.Issue) { g.reportIssue(i) })
		if err != nil {
			g.logger.Warn("baseline watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			g.logger.Warn("baseline watcher failed to start", zap.Error(err))
		} else {
			g.watcher = w
		}
	}
	g.started = true
	g.logger.Info("guardian running", zap.Strings("roots", g.cfg.Roots))
	return nil
}

// Stop halts every timer. A scheduled run already in progress completes.
func (g *Guardian) Stop() {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if !g.started {
		return
	}
	g.health.Stop()
	g.sched.Stop()
	if g.watcher != nil {
		g.watcher.Stop()
		g.watcher = nil
	}
	g.started = false
	g.logger.Info("guardian stopped")
}

// --- Operations ---

func (g *Guardian) roots(roots []string) []string {
	if len(roots) > 0 {
		return roots
	}
	return g.cfg.Roots
}

// Baseline captures the integrity baseline of roots and persists it.
func (g *Guardian) Baseline(ctx context.Context, roots []string) (int, error) {
	n, err := g.integrity.BuildBaseline(ctx, g.roots(roots))
	if err != nil {
		return n, err
	}
	g.commitBaseline()
	return n, nil
}

// LoadManifest restores the persisted baseline, if any.
func (g *Guardian) LoadManifest() (int, error) {
	if g.cfg.ManifestPath == "" {
		return 0, nil
	}
	n, err := g.integrity.LoadManifest(g.cfg.ManifestPath)
	if err == nil {
		g.syncWatcher()
	}
	return n, err
}

// commitBaseline persists the manifest and extends the watch to any new
// baseline directory.
func (g *Guardian) commitBaseline() {
	g.syncWatcher()
	if g.cfg.ManifestPath == "" {
		return
	}
	if err := g.integrity.SaveManifest(g.cfg.ManifestPath); err != nil {
		g.logger.Error("saving manifest", zap.Error(err))
	}
}

func (g *Guardian) syncWatcher() {
	g.lifeMu.Lock()
	w := g.watcher
	g.lifeMu.Unlock()
	if w != nil {
		w.Sync()
	}
}

// FullCheck scans roots for integrity issues and the disk for cleanable
// files. Integrity issues of severity error or critical, and every dead
// critical component, become threats.
func (g *Guardian) FullCheck(ctx context.Context, roots []string) (CheckResult, error) {
	res := CheckResult{
		Timestamp: g.now(),
		Health:    g.health.Status(),
		Threats:   []string{},
	}

	if r := g.roots(roots); len(r) > 0 {
		scan, err := g.integrity.Scan(ctx, r)
		if err != nil {
			return res, fmt.Errorf("integrity scan: %w", err)
		}
		res.Integrity = &scan
		for _, issue := range scan.Issues {
			if issue.Severity == models.SeverityError || issue.Severity == models.SeverityCritical {
				res.Threats = append(res.Threats, g.reportIssue(issue).ID)
			}
		}
	}

	scan, err := g.cleaner.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("cleanup scan: %w", err)
	}
	res.Cleanup = scan

	for _, id := range res.Health.DeadCritical {
		t := g.ReportThreat(models.Threat{
			Source:    SourceHealth,
			Type:      "component_dead",
			Severity:  models.SeverityCritical,
			Component: id,
			Details:   res.Health.Components[id],
		})
		res.Threats = append(res.Threats, t.ID)
	}

	g.logger.Info("full check complete", zap.Int("threats", len(res.Threats)))
	return res, nil
}

// RunIntegrityCheck quick-checks the baseline and reports every issue.
func (g *Guardian) RunIntegrityCheck(ctx context.Context, roots []string) (integrity.QuickResult, error) {
	res, err := g.integrity.QuickCheck(ctx, g.roots(roots))
	if err != nil {
		return res, err
	}
	for _, issue := range res.Issues {
		g.reportIssue(issue)
	}
	return res, nil
}

// ScanIntegrity runs a full scan of roots. Issues of severity error or
// critical become threats.
func (g *Guardian) ScanIntegrity(ctx context.Context, roots []string) (integrity.ScanResult, error) {
	res, err := g.integrity.Scan(ctx, g.roots(roots))
	if err != nil {
		return res, err
	}
	for _, issue := range res.Issues {
		if issue.Severity == models.SeverityError || issue.Severity == models.SeverityCritical {
			g.reportIssue(issue)
		}
	}
	return res, nil
}

// RunCleanupScan reports what could be cleaned. Nothing is deleted.
func (g *Guardian) RunCleanupScan(ctx context.Context) (cleanup.ScanResult, error) {
	scan, err := g.cleaner.Scan(ctx)
	if err != nil {
		return scan, err
	}
	if scan.TotalFiles > 0 {
		g.logger.Info("files can be cleaned",
			zap.Int("files", scan.TotalFiles),
			zap.String("size", humanize.IBytes(uint64(scan.TotalSize))))
	}
	return scan, nil
}

// ExecuteCleanup runs the cleaner. Unless opts.Force is set, the batch goes
// through the cleanup_request confirmation.
func (g *Guardian) ExecuteCleanup(ctx context.Context, opts cleanup.CleanOptions) (cleanup.CleanResult, error) {
	res, err := g.cleaner.Clean(ctx, opts)
	if err != nil {
		return res, err
	}
	g.record("cleanup.run", opts, cleanupOutcome(res), "", humanize.IBytes(uint64(res.FreedBytes)))
	return res, nil
}

// EmergencyCleanup removes every temp file without confirmation.
func (g *Guardian) EmergencyCleanup(ctx context.Context) (cleanup.CleanResult, error) {
	res, err := g.cleaner.EmergencyClean(ctx)
	if err != nil {
		return res, err
	}
	g.record("cleanup.emergency", nil, cleanupOutcome(res), "", humanize.IBytes(uint64(res.FreedBytes)))
	return res, nil
}

func cleanupOutcome(res cleanup.CleanResult) string {
	switch {
	case len(res.Skipped) > 0:
		return "vetoed"
	case res.DryRun:
		return "dry_run"
	default:
		return fmt.Sprintf("deleted=%d failed=%d", len(res.Deleted), len(res.Failed))
	}
}

// ApplyProposal applies an approved proposal and re-baselines exactly the
// files it touched.
func (g *Guardian) ApplyProposal(ctx context.Context, id string) (models.Proposal, error) {
	p, err := g.adaptation.Apply(ctx, id)
	if err != nil {
		return p, err
	}
	switch p.Action {
	case models.ActionCreate, models.ActionModify:
		g.rebaseline(p.Target)
	case models.ActionDelete:
		g.integrity.RemoveFile(p.Target)
	case models.ActionMove:
		g.integrity.RemoveFile(p.Target)
		g.rebaseline(p.After)
	}
	g.commitBaseline()
	return p, nil
}

// RollbackProposal restores an applied proposal and re-baselines the
// restored file.
func (g *Guardian) RollbackProposal(ctx context.Context, id string) (models.Proposal, error) {
	p, err := g.adaptation.Rollback(ctx, id)
	if err != nil {
		return p, err
	}
	g.rebaseline(p.Target)
	if p.Action == models.ActionMove {
		g.integrity.RemoveFile(p.After)
	}
	g.commitBaseline()
	return p, nil
}

func (g *Guardian) rebaseline(path string) {
	if err := g.integrity.UpdateFile(path); err != nil {
		g.logger.Error("re-baselining file", zap.String("path", path), zap.Error(err))
	}
}

// Status aggregates the state of every subsystem.
func (g *Guardian) Status(ctx context.Context) (Status, error) {
	cs, err := g.cleaner.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Health:         g.health.Status(),
		Integrity:      g.integrity.Stats(),
		Cleanup:        cs,
		Adaptation:     g.adaptation.Stats(),
		PendingThreats: len(g.Threats(models.ThreatPending)),
	}, nil
}

// --- Internal handlers ---

func (g *Guardian) handleHealthAlert(a models.Alert) {
	g.ReportThreat(models.Threat{
		Source:    SourceHealth,
		Type:      a.Type,
		Severity:  a.Severity,
		Component: a.Component,
		Details:   a.Details,
	})
}

func (g *Guardian) reportIssue(issue models.Issue) models.Threat {
	return g.ReportThreat(models.Threat{
		Source:    SourceIntegrity,
		Type:      issue.Type,
		Severity:  threatSeverity(issue.Severity),
		Component: issue.Component,
		Details:   issue,
	})
}

// confirmCleanup asks the decision authority about a batch. Only a batch made
// entirely of temp files is approved here, and only with AutoCleanup on.
func (g *Guardian) confirmCleanup(_ context.Context, candidates []models.Candidate) (bool, error) {
	preview := candidates
	if len(preview) > cleanupPreview {
		preview = preview[:cleanupPreview]
	}
	t := g.ReportThreat(models.Threat{
		Source:   SourceCleanup,
		Type:     "cleanup_request",
		Severity: models.SeverityInfo,
		Details: map[string]any{
			"file_count": len(candidates),
			"files":      preview,
		},
	})

	if !g.cfg.AutoCleanup {
		return false, nil
	}
	for _, c := range candidates {
		if !strings.Contains(c.Path, "temp") && !strings.Contains(c.Path, ".tmp") {
			return false, nil
		}
	}
	if _, err := g.ResolveThreat(t.ID, "auto_approved"); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Guardian) routeLow(ctx context.Context, p models.Proposal) error {
	if !g.cfg.AutoApproveLow {
		g.ReportThreat(models.Threat{
			Source:   SourceAdaptation,
			Type:     "proposal_pending",
			Severity: models.SeverityInfo,
			Details:  p,
		})
		return nil
	}
	if _, err := g.adaptation.Approve(ctx, p.ID, adaptation.ApproverCore); err != nil {
		return fmt.Errorf("auto-approve %s: %w", p.ID, err)
	}
	g.logger.Info("low-risk proposal auto-approved", zap.String("id", p.ID))
	return nil
}

func (g *Guardian) routeAsThreat(typ string, severity models.Severity) adaptation.ApprovalRouter {
	return adaptation.ApprovalRouterFunc(func(_ context.Context, p models.Proposal) error {
		g.ReportThreat(models.Threat{
			Source:   SourceAdaptation,
			Type:     typ,
			Severity: severity,
			Details:  p,
		})
		return nil
	})
}

func (g *Guardian) record(action string, inputs any, outcome, subjectID, details string) {
	if g.recorder == nil {
		return
	}
	if _, err := g.recorder.Record(action, inputs, outcome, subjectID, details); err != nil {
		g.logger.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
