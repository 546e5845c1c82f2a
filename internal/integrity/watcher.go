package integrity

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-verifies baselined files when the filesystem reports a change.
// Bursts of events on one path are coalesced by the debounce window.
type Watcher struct {
	checker  *Checker
	logger   *zap.Logger
	onIssue  func(models.Issue)
	debounce time.Duration
	fsw      *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher over the checker's baseline. onIssue receives
// every hash_mismatch or file_missing finding.
func NewWatcher(checker *Checker, onIssue func(models.Issue)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := checker.cfg.WatchDebounce
	if debounce <= 0 {
		debounce = DefaultConfig().WatchDebounce
	}
	return &Watcher{
		checker:  checker,
		logger:   checker.logger.Named("watch"),
		onIssue:  onIssue,
		debounce: debounce,
		fsw:      fsw,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches every directory holding a baselined file. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	added := w.addDirsLocked()
	w.mu.Unlock()
	w.logger.Info("watching baseline", zap.Int("dirs", added))

	go w.run(ctx)
	return nil
}

// Sync watches the directories of files baselined since Start. It returns
// the number of directories added and does nothing once stopped.
func (w *Watcher) Sync() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return 0
	}
	added := w.addDirsLocked()
	if added > 0 {
		w.logger.Info("watching new baseline directories", zap.Int("dirs", added))
	}
	return added
}

// addDirsLocked adds every manifest directory not yet watched. Caller holds w.mu.
func (w *Watcher) addDirsLocked() int {
	watched := map[string]bool{}
	for _, d := range w.fsw.WatchList() {
		watched[d] = true
	}
	dirs := map[string]bool{}
	for path := range w.checker.Manifest() {
		if d := filepath.Dir(path); !watched[d] {
			dirs[d] = true
		}
	}
	sorted := make([]string, 0, len(dirs))
	for d := range dirs {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	added := 0
	for _, d := range sorted {
		if err := w.fsw.Add(d); err != nil {
			w.logger.Warn("cannot watch directory", zap.String("dir", d), zap.Error(err))
			continue
		}
		added++
	}
	return added
}

// Stop ends the event loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fsw.Close(); err != nil {
		w.logger.Error("closing fsnotify watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if _, ok := w.checker.Entry(ev.Name); !ok {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()
	sort.Strings(ready)

	for _, path := range ready {
		v := w.checker.VerifyFile(path)
		var issue models.Issue
		switch v.Reason {
		case ReasonHashMismatch:
			issue = models.Issue{
				Type:     IssueHashMismatch,
				Severity: models.SeverityWarning,
				File:     path,
				Expected: v.Expected,
				Actual:   v.Actual,
				Message:  "file modified since baseline",
			}
		case ReasonFileMissing:
			issue = models.Issue{
				Type:     IssueFileMissing,
				Severity: models.SeverityError,
				File:     path,
				Message:  "file deleted since baseline",
			}
		default:
			continue
		}
		issuesTotal.WithLabelValues(issue.Type, string(issue.Severity)).Inc()
		w.logger.Warn("baselined file changed", zap.String("file", path), zap.String("type", issue.Type))
		if w.onIssue != nil {
			w.onIssue(issue)
		}
	}
}
