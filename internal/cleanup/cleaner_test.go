package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	root string
	cfg  Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	for name, rule := range cfg.Categories {
		rule.Locations = []string{filepath.Join(root, name)}
		cfg.Categories[name] = rule
	}
	return &fixture{root: root, cfg: cfg}
}

// file creates name in the category directory with the given size and age.
func (f *fixture) file(t *testing.T, cat, name string, size int, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(f.root, cat)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	mtime := testNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func (f *fixture) cleaner(t *testing.T, opts ...Option) *Cleaner {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	c, err := New(f.cfg, opts...)
	require.NoError(t, err)
	return c
}

func paths(cands []models.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Path
	}
	return out
}

func TestScanAppliesRules(t *testing.T) {
	f := newFixture(t)
	oldTemp := f.file(t, "temp", "alive_1.tmp", 10, 2*time.Hour)
	f.file(t, "temp", "alive_2.wav", 10, 10*time.Minute)
	f.file(t, "temp", "other.tmp", 10, 48*time.Hour)
	bigLog := f.file(t, "logs", "app.log", 11<<20, time.Hour)
	oldLog := f.file(t, "logs", "old.log", 5, 8*24*time.Hour)
	f.file(t, "logs", "small.log", 5, time.Hour)
	f.file(t, "cache", "x.cache", 5, time.Hour)
	oldExp := f.file(t, "experience", "e.jsonl", 7, 31*24*time.Hour)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "logs", "nested.log"), 0755))

	res, err := f.cleaner(t).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{oldTemp}, paths(res.Categories["temp"].Files))
	assert.ElementsMatch(t, []string{bigLog, oldLog}, paths(res.Categories["logs"].Files))
	assert.Empty(t, res.Categories["cache"].Files)
	assert.Equal(t, []string{oldExp}, paths(res.Categories["experience"].Files))
	assert.Equal(t, 4, res.TotalFiles)
	assert.Equal(t, int64(10+11<<20+5+7), res.TotalSize)

	for _, c := range res.Categories["logs"].Files {
		switch c.Path {
		case bigLog:
			assert.Equal(t, models.ReasonOversized, c.Reason)
		case oldLog:
			assert.Equal(t, models.ReasonExpired, c.Reason)
		}
	}
	assert.Equal(t, 2*time.Hour, res.Categories["temp"].Files[0].Age)

	_, err = os.Stat(oldTemp)
	assert.NoError(t, err, "scan must not delete")
}

func TestDryRunMatchesRealRun(t *testing.T) {
	f := newFixture(t)
	files := []string{
		f.file(t, "temp", "alive_a.json", 100, 3*time.Hour),
		f.file(t, "logs", "a.log", 200, 10*24*time.Hour),
		f.file(t, "cache", "a.cache", 300, 2*24*time.Hour),
	}
	c := f.cleaner(t)

	dry, err := c.Clean(context.Background(), CleanOptions{DryRun: true})
	require.NoError(t, err)
	for _, p := range files {
		_, err := os.Stat(p)
		require.NoError(t, err, "dry run deleted %s", p)
	}

	wet, err := c.Clean(context.Background(), CleanOptions{})
	require.NoError(t, err)

	if diff := cmp.Diff(wet.Deleted, dry.Deleted); diff != "" {
		t.Errorf("dry run candidates differ (-wet +dry):\n%s", diff)
	}
	assert.Equal(t, wet.FreedBytes, dry.FreedBytes)
	assert.Equal(t, int64(600), wet.FreedBytes)
	assert.True(t, dry.DryRun)
	for _, p := range files {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}

	hist := c.History(0)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].DryRun)
	assert.Equal(t, 3, hist[1].Deleted)
}

func TestVetoSkipsWholeBatch(t *testing.T) {
	f := newFixture(t)
	a := f.file(t, "temp", "alive_a.tmp", 1, 2*time.Hour)
	b := f.file(t, "logs", "b.log", 1, 30*24*time.Hour)

	var seen []models.Candidate
	c := f.cleaner(t, WithConfirmer(ConfirmerFunc(func(_ context.Context, cands []models.Candidate) (bool, error) {
		seen = cands
		return false, nil
	})))

	res, err := c.Clean(context.Background(), CleanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, paths(seen))
	assert.Equal(t, []string{a, b}, paths(res.Skipped))
	assert.Empty(t, res.Deleted)
	assert.Zero(t, res.FreedBytes)
	for _, p := range []string{a, b} {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	assert.Empty(t, c.History(0))
}

func TestConfirmerErrorAndPanicVeto(t *testing.T) {
	f := newFixture(t)
	a := f.file(t, "temp", "alive_a.tmp", 1, 2*time.Hour)

	for name, conf := range map[string]Confirmer{
		"error": ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
			return true, errors.New("authority unreachable")
		}),
		"panic": ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
			panic("boom")
		}),
	} {
		t.Run(name, func(t *testing.T) {
			c := f.cleaner(t, WithConfirmer(conf))
			res, err := c.Clean(context.Background(), CleanOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{a}, paths(res.Skipped))
		})
	}
}

func TestForceBypassesConfirmer(t *testing.T) {
	f := newFixture(t)
	a := f.file(t, "temp", "alive_a.tmp", 1, 2*time.Hour)
	called := false
	c := f.cleaner(t, WithConfirmer(ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
		called = true
		return false, nil
	})))

	res, err := c.Clean(context.Background(), CleanOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []string{a}, paths(res.Deleted))
}

func TestDeleteFailuresAreIsolated(t *testing.T) {
	f := newFixture(t)
	a := f.file(t, "temp", "alive_a.tmp", 4, 2*time.Hour)
	b := f.file(t, "temp", "alive_b.tmp", 8, 2*time.Hour)
	cFile := f.file(t, "temp", "alive_c.tmp", 16, 2*time.Hour)

	// The confirmer removes b out from under the run.
	c := f.cleaner(t, WithConfirmer(ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
		return true, os.Remove(b)
	})))
	res, err := c.Clean(context.Background(), CleanOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{a, cFile}, paths(res.Deleted))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, b, res.Failed[0].Path)
	assert.NotEmpty(t, res.Failed[0].Error)
	assert.Equal(t, int64(20), res.FreedBytes)

	hist := c.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].Deleted)
	assert.Equal(t, 1, hist[0].Failed)
}

func TestCleanCategory(t *testing.T) {
	f := newFixture(t)
	tmp := f.file(t, "temp", "alive_a.tmp", 1, 2*time.Hour)
	logFile := f.file(t, "logs", "a.log", 1, 30*24*time.Hour)
	c := f.cleaner(t)

	res, err := c.CleanCategory(context.Background(), CategoryLogs, CleanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{logFile}, paths(res.Deleted))
	_, err = os.Stat(tmp)
	assert.NoError(t, err)

	_, err = c.CleanCategory(context.Background(), "bogus", CleanOptions{})
	assert.ErrorIs(t, err, ErrUnknownCategory)
	assert.Len(t, c.History(0), 1)
}

func TestNothingToClean(t *testing.T) {
	f := newFixture(t)
	c := f.cleaner(t, WithConfirmer(ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
		t.Fatal("confirmer called with no candidates")
		return false, nil
	})))
	res, err := c.Clean(context.Background(), CleanOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Empty(t, c.History(0))
}

func TestEmergencyCleanIgnoresAgeAndConfirmer(t *testing.T) {
	f := newFixture(t)
	fresh := f.file(t, "temp", "alive_new.wav", 32, time.Minute)
	keep := f.file(t, "temp", "keep.tmp", 32, time.Minute)
	logFile := f.file(t, "logs", "a.log", 1, 30*24*time.Hour)

	c := f.cleaner(t, WithConfirmer(ConfirmerFunc(func(context.Context, []models.Candidate) (bool, error) {
		t.Fatal("emergency clean must not ask")
		return false, nil
	})))
	res, err := c.EmergencyClean(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Emergency)
	assert.Equal(t, []string{fresh}, paths(res.Deleted))
	assert.Equal(t, int64(32), res.FreedBytes)
	for _, p := range []string{keep, logFile} {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	hist := c.History(0)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Emergency)
}

func TestHistoryBounded(t *testing.T) {
	f := newFixture(t)
	f.cfg.HistoryLimit = 2
	c := f.cleaner(t)
	for i := 0; i < 4; i++ {
		_, err := c.EmergencyClean(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, c.History(0), 2)
	assert.Len(t, c.History(1), 1)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.file(t, "temp", "alive_a.tmp", 10, 2*time.Hour)
	f.file(t, "cache", "a.cache", 20, 2*24*time.Hour)
	c := f.cleaner(t)

	st, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.CleanableFiles)
	assert.Equal(t, int64(30), st.CleanableBytes)
	assert.Equal(t, 1, st.CleanableByCategory[CategoryTemp])
	assert.Equal(t, 0, st.CleanableByCategory[CategoryLogs])
	assert.NotZero(t, st.Memory.Sys)
	assert.Nil(t, st.LastCleanup)
}

func TestNewRejectsBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories["broken"] = Rule{Pattern: "(", MaxAge: time.Hour}
	_, err := New(cfg)
	require.Error(t, err)
}
