// Package cleanup reclaims disk space according to per-category rules, with
// dry-run support and a confirmation gate before deletion.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
	"go.uber.org/zap"
)

// ErrUnknownCategory is returned when a clean names a category that is not
// configured.
var ErrUnknownCategory = errors.New("unknown_category")

// Confirmer approves or vetoes a batch of deletions. A false result or an
// error vetoes the whole batch.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, candidates []models.Candidate) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, candidates []models.Candidate) (bool, error)

// ConfirmDelete calls f(ctx, candidates).
func (f ConfirmerFunc) ConfirmDelete(ctx context.Context, candidates []models.Candidate) (bool, error) {
	return f(ctx, candidates)
}

// CategoryScan lists the candidates of one category.
type CategoryScan struct {
	Category  string             `json:"category"`
	Files     []models.Candidate `json:"files"`
	TotalSize int64              `json:"total_size"`
	Count     int                `json:"count"`
}

// ScanResult is the outcome of Scan. Nothing is deleted by a scan.
type ScanResult struct {
	Timestamp  time.Time               `json:"timestamp"`
	Categories map[string]CategoryScan `json:"categories"`
	TotalFiles int                     `json:"total_files"`
	TotalSize  int64                   `json:"total_size"`
}

// CleanOptions controls a Clean run.
type CleanOptions struct {
	DryRun bool `json:"dry_run"`
	// Categories restricts the run; empty means all.
	Categories []string `json:"categories,omitempty"`
	// Force skips the confirmation gate.
	Force bool `json:"force"`
}

// CleanResult is the accounting of one run.
type CleanResult struct {
	Timestamp  time.Time          `json:"timestamp"`
	DryRun     bool               `json:"dry_run"`
	Emergency  bool               `json:"emergency,omitempty"`
	Deleted    []models.Candidate `json:"deleted"`
	Failed     []models.Candidate `json:"failed"`
	Skipped    []models.Candidate `json:"skipped"`
	FreedBytes int64              `json:"freed_bytes"`
}

// HistoryEntry summarizes one completed run.
type HistoryEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	FreedBytes int64     `json:"freed_bytes"`
	DryRun     bool      `json:"dry_run"`
	Emergency  bool      `json:"emergency,omitempty"`
}

// MemoryStats is a snapshot of Go runtime memory.
type MemoryStats struct {
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// Stats combines a fresh scan with runtime memory and the last run.
type Stats struct {
	CleanableFiles      int            `json:"cleanable_files"`
	CleanableBytes      int64          `json:"cleanable_bytes"`
	CleanableByCategory map[string]int `json:"cleanable_by_category"`
	Memory              MemoryStats    `json:"memory"`
	LastCleanup         *HistoryEntry  `json:"last_cleanup,omitempty"`
}

type category struct {
	name    string
	rule    Rule
	pattern *regexp.Regexp
}

// Cleaner scans and deletes files according to its category rules.
type Cleaner struct {
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
	categories []category

	mu        sync.Mutex
	confirmer Confirmer
	history   []HistoryEntry
}

// Option customizes a Cleaner.
type Option func(*Cleaner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cleaner) { c.logger = logging.OrNop(l).Named("cleanup") }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// WithConfirmer sets the confirmation gate.
func WithConfirmer(conf Confirmer) Option {
	return func(c *Cleaner) { c.confirmer = conf }
}

var builtinOrder = []string{CategoryTemp, CategoryLogs, CategoryCache, CategoryExperience}

// New creates a cleaner. It fails if a category pattern does not compile.
func New(cfg Config, opts ...Option) (*Cleaner, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}

	names := make([]string, 0, len(cfg.Categories))
	seen := map[string]bool{}
	for _, name := range builtinOrder {
		if _, ok := cfg.Categories[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name := range cfg.Categories {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	c := &Cleaner{cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, name := range names {
		rule := cfg.Categories[name]
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("category %s: compile pattern: %w", name, err)
		}
		c.categories = append(c.categories, category{name: name, rule: rule, pattern: re})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetConfirmer replaces the confirmation gate.
func (c *Cleaner) SetConfirmer(conf Confirmer) {
	c.mu.Lock()
	c.confirmer = conf
	c.mu.Unlock()
}

// Categories returns the configured category names in scan order.
func (c *Cleaner) Categories() []string {
	out := make([]string, len(c.categories))
	for i, cat := range c.categories {
		out[i] = cat.name
	}
	return out
}

// --- Scanning ---

// Scan lists every file eligible for cleanup. It never deletes.
func (c *Cleaner) Scan(ctx context.Context) (ScanResult, error) {
	res := ScanResult{Timestamp: c.now(), Categories: make(map[string]CategoryScan, len(c.categories))}
	for _, cat := range c.categories {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cs := c.scanCategory(cat, res.Timestamp)
		res.Categories[cat.name] = cs
		res.TotalFiles += cs.Count
		res.TotalSize += cs.TotalSize
	}
	cleanableBytes.Set(float64(res.TotalSize))
	return res, nil
}

func (c *Cleaner) scanCategory(cat category, now time.Time) CategoryScan {
	cs := CategoryScan{Category: cat.name, Files: []models.Candidate{}}
	for _, loc := range cat.rule.Locations {
		entries, err := os.ReadDir(loc)
		if err != nil {
			c.logger.Debug("skipping location", zap.String("category", cat.name), zap.String("location", loc), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !cat.pattern.MatchString(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			age := now.Sub(info.ModTime())
			var reason models.CandidateReason
			switch {
			case age > cat.rule.MaxAge:
				reason = models.ReasonExpired
			case cat.rule.MaxSize > 0 && info.Size() > cat.rule.MaxSize:
				reason = models.ReasonOversized
			default:
				continue
			}
			cs.Files = append(cs.Files, models.Candidate{
				Path:     filepath.Join(loc, e.Name()),
				Name:     e.Name(),
				Size:     info.Size(),
				Age:      age,
				Reason:   reason,
				Category: cat.name,
			})
			cs.TotalSize += info.Size()
		}
	}
	cs.Count = len(cs.Files)
	return cs
}

// --- Cleaning ---

// Clean re-scans, asks the confirmer unless Force is set, then deletes each
// candidate independently. DryRun does everything except the delete.
func (c *Cleaner) Clean(ctx context.Context, opts CleanOptions) (CleanResult, error) {
	known := c.Categories()
	for _, name := range opts.Categories {
		if !slices.Contains(known, name) {
			return CleanResult{}, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
		}
	}

	scan, err := c.Scan(ctx)
	if err != nil {
		return CleanResult{}, err
	}

	res := CleanResult{
		Timestamp: c.now(),
		DryRun:    opts.DryRun,
		Deleted:   []models.Candidate{},
		Failed:    []models.Candidate{},
		Skipped:   []models.Candidate{},
	}

	want := map[string]bool{}
	for _, name := range opts.Categories {
		want[name] = true
	}
	var candidates []models.Candidate
	for _, cat := range c.categories {
		if len(want) > 0 && !want[cat.name] {
			continue
		}
		candidates = append(candidates, scan.Categories[cat.name].Files...)
	}

	if len(candidates) == 0 {
		c.logger.Info("nothing to clean")
		return res, nil
	}

	c.mu.Lock()
	conf := c.confirmer
	c.mu.Unlock()
	if !opts.Force && conf != nil && !c.confirm(ctx, conf, candidates) {
		res.Skipped = candidates
		runsTotal.WithLabelValues("vetoed").Inc()
		c.logger.Info("cleanup vetoed", zap.Int("candidates", len(candidates)))
		return res, nil
	}

	for _, cand := range candidates {
		if !opts.DryRun {
			if err := os.Remove(cand.Path); err != nil {
				cand.Error = err.Error()
				res.Failed = append(res.Failed, cand)
				deleteFailuresTotal.Inc()
				c.logger.Debug("delete failed", zap.String("path", cand.Path), zap.Error(err))
				continue
			}
			filesDeletedTotal.WithLabelValues(cand.Category).Inc()
			freedBytesTotal.Add(float64(cand.Size))
		}
		res.Deleted = append(res.Deleted, cand)
		res.FreedBytes += cand.Size
	}

	mode := "clean"
	if opts.DryRun {
		mode = "dry_run"
	}
	runsTotal.WithLabelValues(mode).Inc()
	c.recordHistory(res)

	verb := "deleted"
	if opts.DryRun {
		verb = "would delete"
	}
	c.logger.Info("cleanup complete",
		zap.String("result", verb),
		zap.Int("files", len(res.Deleted)),
		zap.Int("failed", len(res.Failed)),
		zap.String("freed", humanize.IBytes(uint64(res.FreedBytes))))
	return res, nil
}

// confirm runs the confirmer, treating an error or a panic as a veto.
func (c *Cleaner) confirm(ctx context.Context, conf Confirmer, candidates []models.Candidate) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleanup confirmer panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	proceed, err := conf.ConfirmDelete(ctx, append([]models.Candidate(nil), candidates...))
	if err != nil {
		c.logger.Error("cleanup confirmer failed", zap.Error(err))
		return false
	}
	return proceed
}

// CleanCategory runs Clean restricted to one category.
func (c *Cleaner) CleanCategory(ctx context.Context, name string, opts CleanOptions) (CleanResult, error) {
	opts.Categories = []string{name}
	return c.Clean(ctx, opts)
}

// EmergencyClean deletes every temp-category file regardless of age and
// without confirmation.
func (c *Cleaner) EmergencyClean(ctx context.Context) (CleanResult, error) {
	c.logger.Warn("emergency cleanup")
	res := CleanResult{
		Timestamp: c.now(),
		Emergency: true,
		Deleted:   []models.Candidate{},
		Failed:    []models.Candidate{},
		Skipped:   []models.Candidate{},
	}

	for _, cat := range c.categories {
		if cat.name != CategoryTemp {
			continue
		}
		for _, loc := range cat.rule.Locations {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			entries, err := os.ReadDir(loc)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.Type().IsRegular() || !cat.pattern.MatchString(e.Name()) {
					continue
				}
				cand := models.Candidate{
					Path:     filepath.Join(loc, e.Name()),
					Name:     e.Name(),
					Category: cat.name,
					Reason:   models.ReasonExpired,
				}
				if info, err := e.Info(); err == nil {
					cand.Size = info.Size()
					cand.Age = res.Timestamp.Sub(info.ModTime())
				}
				if err := os.Remove(cand.Path); err != nil {
					cand.Error = err.Error()
					res.Failed = append(res.Failed, cand)
					deleteFailuresTotal.Inc()
					continue
				}
				res.Deleted = append(res.Deleted, cand)
				res.FreedBytes += cand.Size
				filesDeletedTotal.WithLabelValues(cat.name).Inc()
				freedBytesTotal.Add(float64(cand.Size))
			}
		}
	}

	runsTotal.WithLabelValues("emergency").Inc()
	c.recordHistory(res)
	c.logger.Warn("emergency cleanup complete",
		zap.Int("files", len(res.Deleted)),
		zap.Int("failed", len(res.Failed)),
		zap.String("freed", humanize.IBytes(uint64(res.FreedBytes))))
	return res, nil
}

// --- Queries ---

func (c *Cleaner) recordHistory(res CleanResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, HistoryEntry{
		Timestamp:  res.Timestamp,
		Deleted:    len(res.Deleted),
		Failed:     len(res.Failed),
		FreedBytes: res.FreedBytes,
		DryRun:     res.DryRun,
		Emergency:  res.Emergency,
	})
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
	}
}

// History returns up to limit most recent runs, oldest first.
func (c *Cleaner) History(limit int) []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := 0
	if limit > 0 && len(c.history) > limit {
		start = len(c.history) - limit
	}
	return append([]HistoryEntry(nil), c.history[start:]...)
}

// Stats scans the disk and reports runtime memory alongside the last run.
func (c *Cleaner) Stats(ctx context.Context) (Stats, error) {
	scan, err := c.Scan(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		CleanableFiles:      scan.TotalFiles,
		CleanableBytes:      scan.TotalSize,
		CleanableByCategory: make(map[string]int, len(scan.Categories)),
		Memory:              readMemoryStats(),
	}
	for name, cs := range scan.Categories {
		st.CleanableByCategory[name] = cs.Count
	}
	if last := c.History(1); len(last) == 1 {
		st.LastCleanup = &last[0]
	}
	return st, nil
}

func readMemoryStats() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryStats{
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
