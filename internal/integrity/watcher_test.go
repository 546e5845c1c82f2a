package integrity

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcherReportsChangedAndDeletedFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	edited := writeFile(t, filepath.Join(dir, "edited.json"), `{"v":1}`)
	removed := writeFile(t, filepath.Join(dir, "removed.md"), "x\n")

	cfg := testConfig()
	cfg.WatchDebounce = 50 * time.Millisecond
	c := New(cfg)
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)

	var mu sync.Mutex
	got := map[string]models.Issue{}
	w, err := NewWatcher(c, func(is models.Issue) {
		mu.Lock()
		got[is.File] = is
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeFile(t, edited, `{"v":2}`)
	require.NoError(t, os.Remove(removed))
	writeFile(t, filepath.Join(dir, "untracked.json"), "{}")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, IssueHashMismatch, got[edited].Type)
	assert.Equal(t, IssueFileMissing, got[removed].Type)
}

func TestWatcherSyncPicksUpLaterBaseline(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	cfg := testConfig()
	cfg.WatchDebounce = 50 * time.Millisecond
	c := New(cfg)

	issues := make(chan models.Issue, 4)
	w, err := NewWatcher(c, func(is models.Issue) { issues <- is })
	require.NoError(t, err)
	assert.Zero(t, w.Sync(), "not running yet")
	require.NoError(t, w.Start(context.Background()))

	lib := filepath.Join(dir, "lib")
	require.NoError(t, os.MkdirAll(lib, 0o755))
	a := writeFile(t, filepath.Join(lib, "a.js"), "module.exports = 1\n")
	_, err = c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)

	assert.Equal(t, 1, w.Sync())
	assert.Zero(t, w.Sync())

	writeFile(t, a, "module.exports = 2\n")
	select {
	case is := <-issues:
		assert.Equal(t, IssueHashMismatch, is.Type)
		assert.Equal(t, a, is.File)
	case <-time.After(5 * time.Second):
		t.Fatal("no issue for a file baselined after Start")
	}

	w.Stop()
	assert.Zero(t, w.Sync())
}
