package adaptation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e, cfg.BackupDir
}

func writeTarget(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func propose(t *testing.T, e *Engine, c Change) models.Proposal {
	t.Helper()
	p, err := e.Propose(context.Background(), c)
	require.NoError(t, err)
	return p
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		target string
		typ    string
		want   models.Risk
	}{
		{"src/core/loop.js", "file", models.RiskCritical},
		{"src/reasoning/assess.js", "file", models.RiskCritical},
		{"system/guardian/monitor.js", "file", models.RiskCritical},
		{"config/core.json", "config", models.RiskCritical},
		{"data/learning/weights.bin", "file", models.RiskHigh},
		{"identity.md", "file", models.RiskHigh},
		{"procedures/x/procedure.yaml", "file", models.RiskMedium},
		{"io/ADAPTER.go", "file", models.RiskMedium},
		{"config/settings.json", "config", models.RiskLow},
		{"data/x.json", "file", models.RiskLow},
		{"docs/readme.md", "config", models.RiskLow},
		{"docs/readme.md", "architecture", models.RiskMedium},
		{"docs/readme.md", "", models.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, AssessRisk(Change{Target: tt.target, Type: tt.typ}))
		})
	}
}

func TestProposeValidates(t *testing.T) {
	e, _ := newTestEngine(t)
	for name, c := range map[string]Change{
		"no target":    {Type: "config", Action: models.ActionModify},
		"bad action":   {Type: "config", Target: "a.json", Action: "chmod"},
		"move no dest": {Type: "file", Target: "a.txt", Action: models.ActionMove},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.Propose(context.Background(), c)
			require.ErrorIs(t, err, ErrInvalidChange)
		})
	}
	assert.Empty(t, e.List())
}

func TestProposeBuildsDiffAndRoutesByTier(t *testing.T) {
	e, _ := newTestEngine(t)
	routed := map[models.Risk][]string{}
	var mu sync.Mutex
	for _, r := range models.Risks {
		e.OnApproval(r, ApprovalRouterFunc(func(_ context.Context, p models.Proposal) error {
			mu.Lock()
			routed[r] = append(routed[r], p.ID)
			mu.Unlock()
			return nil
		}))
	}

	p := propose(t, e, Change{
		Type:   "config",
		Target: "config/settings.json",
		Action: models.ActionModify,
		Before: "a\nb\nc\n",
		After:  "a\nB\nc\nd\n",
	})
	assert.True(t, strings.HasPrefix(p.ID, "adapt_"))
	assert.Equal(t, models.ProposalPending, p.Status)
	assert.Equal(t, models.RiskLow, p.Risk)
	assert.True(t, p.Reversible)
	assert.Contains(t, p.Diff, "+B")
	assert.Equal(t, 2, p.LinesAdded)
	assert.Equal(t, 1, p.LinesRemoved)

	crit := propose(t, e, Change{Type: "file", Target: "core/main.js", Action: models.ActionDelete})
	assert.Equal(t, []string{p.ID}, routed[models.RiskLow])
	assert.Equal(t, []string{crit.ID}, routed[models.RiskCritical])
	assert.Empty(t, routed[models.RiskMedium])

	assert.Len(t, e.Pending(), 2)
	assert.Len(t, e.ByRisk(models.RiskCritical), 1)
}

func TestRouterFailureDoesNotBreakPropose(t *testing.T) {
	e, _ := newTestEngine(t)
	e.OnApproval(models.RiskLow, ApprovalRouterFunc(func(context.Context, models.Proposal) error {
		return errors.New("decision authority offline")
	}))
	e.OnApproval(models.RiskMedium, ApprovalRouterFunc(func(context.Context, models.Proposal) error {
		panic("router bug")
	}))

	a := propose(t, e, Change{Type: "config", Target: "x.json", Action: models.ActionModify})
	b := propose(t, e, Change{Type: "file", Target: "adapter.go", Action: models.ActionModify})
	assert.Equal(t, models.ProposalPending, a.Status)
	assert.Equal(t, models.ProposalPending, b.Status)
}

func TestApproveAuthorization(t *testing.T) {
	e, _ := newTestEngine(t)
	crit := propose(t, e, Change{Type: "file", Target: "core/x.js", Action: models.ActionModify})
	high := propose(t, e, Change{Type: "file", Target: "knowledge/x.js", Action: models.ActionModify})
	med := propose(t, e, Change{Type: "file", Target: "procedure.md", Action: models.ActionModify})

	for _, approver := range []string{"core", "core_verified", "Human", ""} {
		_, err := e.Approve(context.Background(), crit.ID, approver)
		require.ErrorIs(t, err, ErrHumanApproval)
	}
	got, _ := e.Proposal(crit.ID)
	assert.Equal(t, models.ProposalPending, got.Status)
	assert.Empty(t, got.ApprovedBy)

	_, err := e.Approve(context.Background(), high.ID, "core")
	require.ErrorIs(t, err, ErrHighRiskApprover)
	p, err := e.Approve(context.Background(), high.ID, ApproverCoreVerified)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)
	assert.NotNil(t, p.ApprovedAt)

	p, err = e.Approve(context.Background(), med.ID, "anyone")
	require.NoError(t, err)
	assert.Equal(t, "anyone", p.ApprovedBy)

	p, err = e.Approve(context.Background(), crit.ID, ApproverHuman)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)
}

func TestIllegalTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Approve(ctx, "adapt_missing", "human")
	require.ErrorIs(t, err, ErrProposalNotFound)
	_, err = e.Apply(ctx, "adapt_missing")
	require.ErrorIs(t, err, ErrProposalNotFound)
	_, err = e.Rollback(ctx, "adapt_missing")
	require.ErrorIs(t, err, ErrProposalNotFound)
	_, err = e.Reject(ctx, "adapt_missing", "no", "human")
	require.ErrorIs(t, err, ErrProposalNotFound)

	pending := propose(t, e, Change{Type: "config", Target: "a.json", Action: models.ActionModify})
	_, err = e.Apply(ctx, pending.ID)
	require.ErrorIs(t, err, ErrNotApproved)
	_, err = e.Rollback(ctx, pending.ID)
	require.ErrorIs(t, err, ErrNotApplied)

	rejected, err := e.Reject(ctx, pending.ID, "not needed", "human")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, rejected.Status)
	assert.Equal(t, "not needed", rejected.RejectionReason)
	assert.Equal(t, "human", rejected.RejectedBy)
	assert.NotNil(t, rejected.RejectedAt)

	_, err = e.Apply(ctx, pending.ID)
	require.ErrorIs(t, err, ErrNotApproved)
	_, err = e.Approve(ctx, pending.ID, "human")
	require.ErrorIs(t, err, ErrNotPending)
	_, err = e.Reject(ctx, pending.ID, "again", "human")
	require.ErrorIs(t, err, ErrNotPending)

	got, _ := e.Proposal(pending.ID)
	assert.Equal(t, models.ProposalRejected, got.Status)
}

func TestEndToEndModifyAndRollback(t *testing.T) {
	root := t.TempDir()
	target := writeTarget(t, filepath.Join(root, "config", "settings.json"), `{"volume":3}`)
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	e, backupDir := newTestEngine(t, WithClock(func() time.Time { return clock }))
	e.OnApproval(models.RiskLow, ApprovalRouterFunc(func(ctx context.Context, p models.Proposal) error {
		_, err := e.Approve(ctx, p.ID, ApproverCore)
		return err
	}))

	p := propose(t, e, Change{
		Type:        "config",
		Target:      target,
		Action:      models.ActionModify,
		Before:      `{"volume":3}`,
		After:       `{"volume":7}`,
		Reason:      "user prefers louder output",
		TriggeredBy: "core_reasoning",
	})
	require.Equal(t, models.RiskLow, p.Risk)
	require.Equal(t, models.ProposalApproved, p.Status)
	require.Equal(t, ApproverCore, p.ApprovedBy)

	p, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApplied, p.Status)
	assert.Equal(t, `{"volume":7}`, readFile(t, target))
	assert.Equal(t, filepath.Join(backupDir, "settings.json."+"1777629600000"+".backup"), p.BackupPath)
	assert.Equal(t, `{"volume":3}`, readFile(t, p.BackupPath))

	hist := e.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, p.ID, hist[0].ID)
	assert.True(t, hist[0].RollbackAvailable)

	p, err = e.Rollback(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRolledBack, p.Status)
	assert.NotNil(t, p.RolledBackAt)
	assert.Equal(t, `{"volume":3}`, readFile(t, target))

	_, err = e.Rollback(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrNotApplied)
}

func approved(t *testing.T, e *Engine, c Change) models.Proposal {
	t.Helper()
	p := propose(t, e, c)
	p, err := e.Approve(context.Background(), p.ID, ApproverHuman)
	require.NoError(t, err)
	return p
}

func TestCreateHasNoRollback(t *testing.T) {
	e, backupDir := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "new", "dir", "notes.md")

	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionCreate, After: "hello\n"})
	p, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", readFile(t, target))
	assert.Empty(t, p.BackupPath)
	assert.False(t, p.RollbackAvailable)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	for _, en := range entries {
		assert.False(t, strings.HasSuffix(en.Name(), ".backup"), "create must not back up")
	}

	require.NoError(t, os.WriteFile(target, []byte("edited\n"), 0644))
	_, err = e.Rollback(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrRollbackNotAvailable)
	assert.Equal(t, "edited\n", readFile(t, target), "rollback must not touch the file")

	got, _ := e.Proposal(p.ID)
	assert.Equal(t, models.ProposalApplied, got.Status)
}

func TestCreateOverExistingFails(t *testing.T) {
	e, _ := newTestEngine(t)
	target := writeTarget(t, filepath.Join(t.TempDir(), "exists.md"), "keep\n")

	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionCreate, After: "clobber\n"})
	p, err := e.Apply(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrApplyFailed)
	assert.Equal(t, models.ProposalFailed, p.Status)
	assert.Contains(t, p.Error, "already exists")
	assert.Equal(t, "keep\n", readFile(t, target))
}

func TestFailedIsTerminal(t *testing.T) {
	e, _ := newTestEngine(t)
	missing := filepath.Join(t.TempDir(), "missing.md")

	p := approved(t, e, Change{Type: "file", Target: missing, Action: models.ActionModify, After: "x"})
	p, err := e.Apply(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrApplyFailed)
	assert.Equal(t, models.ProposalFailed, p.Status)
	assert.NotEmpty(t, p.Error)
	assert.Empty(t, e.History(0))

	_, err = e.Apply(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrNotApproved)
	_, err = e.Rollback(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrNotApplied)
	assert.Equal(t, 1, e.Stats().Failed)
}

func TestDeleteAndRollback(t *testing.T) {
	e, _ := newTestEngine(t)
	target := writeTarget(t, filepath.Join(t.TempDir(), "old.md"), "content\n")

	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionDelete})
	p, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	_, err = e.Rollback(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "content\n", readFile(t, target))
}

func TestMoveAndRollback(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	src := writeTarget(t, filepath.Join(dir, "a.md"), "moving\n")
	dst := filepath.Join(dir, "sub", "b.md")

	p := approved(t, e, Change{Type: "file", Target: src, Action: models.ActionMove, After: dst})
	p, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "moving\n", readFile(t, dst))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	_, err = e.Rollback(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "moving\n", readFile(t, src))
	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestIrreversibleHasNoRollback(t *testing.T) {
	e, _ := newTestEngine(t)
	target := writeTarget(t, filepath.Join(t.TempDir(), "x.md"), "1")
	no := false

	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionModify, After: "2", Reversible: &no})
	p, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, p.BackupPath)
	assert.False(t, p.RollbackAvailable)
	_, err = e.Rollback(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrRollbackNotAvailable)
}

func TestReloadKeepsOnlyPendingAndApproved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	ctx := context.Background()
	target := writeTarget(t, filepath.Join(t.TempDir(), "y.md"), "1")

	e, err := New(cfg)
	require.NoError(t, err)
	pending := propose(t, e, Change{Type: "file", Target: "a.md", Action: models.ActionModify})
	appr := propose(t, e, Change{Type: "file", Target: "b.md", Action: models.ActionModify})
	_, err = e.Approve(ctx, appr.ID, "human")
	require.NoError(t, err)
	rej := propose(t, e, Change{Type: "file", Target: "c.md", Action: models.ActionModify})
	_, err = e.Reject(ctx, rej.ID, "no", "human")
	require.NoError(t, err)
	applied := propose(t, e, Change{Type: "file", Target: target, Action: models.ActionModify, After: "2"})
	_, err = e.Approve(ctx, applied.ID, "human")
	require.NoError(t, err)
	_, err = e.Apply(ctx, applied.ID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.BackupDir, "proposals", "junk.json"), []byte("{"), 0644))

	reloaded, err := New(cfg)
	require.NoError(t, err)
	var ids []string
	for _, p := range reloaded.List() {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{pending.ID, appr.ID}, ids)

	got, ok := reloaded.Proposal(appr.ID)
	require.True(t, ok)
	assert.Equal(t, models.ProposalApproved, got.Status)
	assert.Equal(t, "human", got.ApprovedBy)
	_, ok = reloaded.Proposal(rej.ID)
	assert.False(t, ok)
}

func TestConcurrentApplyRunsOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	target := writeTarget(t, filepath.Join(t.TempDir(), "race.md"), "before")
	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionModify, After: "after"})

	var wg sync.WaitGroup
	results := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Apply(context.Background(), p.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrNotApproved)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, e.History(0), 1)
}

func TestConcurrentApproveAndReject(t *testing.T) {
	e, _ := newTestEngine(t)
	p := propose(t, e, Change{Type: "file", Target: "x.md", Action: models.ActionModify})

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, approveErr = e.Approve(context.Background(), p.ID, "human") }()
	go func() { defer wg.Done(); _, rejectErr = e.Reject(context.Background(), p.ID, "no", "human") }()
	wg.Wait()

	assert.True(t, (approveErr == nil) != (rejectErr == nil), "exactly one decision wins")
}

type memRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *memRecorder) Record(action string, _ any, outcome, _, _ string) (*models.PDREntry, error) {
	r.mu.Lock()
	r.actions = append(r.actions, action+":"+outcome)
	r.mu.Unlock()
	return &models.PDREntry{Action: action, Outcome: outcome}, nil
}

func TestTransitionsAreRecorded(t *testing.T) {
	rec := &memRecorder{}
	e, _ := newTestEngine(t, WithRecorder(rec))
	target := writeTarget(t, filepath.Join(t.TempDir(), "r.md"), "1")

	p := approved(t, e, Change{Type: "file", Target: target, Action: models.ActionModify, After: "2"})
	_, err := e.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = e.Rollback(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"adaptation.propose:pending",
		"adaptation.approve:approved",
		"adaptation.apply:applied",
		"adaptation.rollback:rolled_back",
	}, rec.actions)

	st := e.Stats()
	assert.Equal(t, 1, st.RolledBack)
	assert.Equal(t, 1, st.ByRisk[models.RiskMedium])
}
