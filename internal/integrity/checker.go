// Package integrity maintains a content-hash baseline of source trees and
// scans them for modification and suspicious patterns.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/guardian/internal/logging"
	"github.com/fentz26/guardian/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Issue types reported by the checker.
const (
	IssueModified          = "modified"
	IssueHashMismatch      = "hash_mismatch"
	IssueFileMissing       = "file_missing"
	IssueReadError         = "read_error"
	IssueDirectoryError    = "directory_error"
	IssueSuspiciousPattern = "suspicious_pattern"
	IssueSuspiciousLine    = "suspicious_line"
	IssueSyntaxError       = "syntax_error"
	IssueMissingRequired   = "missing_required"
)

// Verification reasons.
const (
	ReasonNotInManifest = "not_in_manifest"
	ReasonHashMismatch  = "hash_mismatch"
	ReasonFileMissing   = "file_missing"
	ReasonReadError     = "read_error"
)

// ScanResult is the outcome of a full scan.
type ScanResult struct {
	Timestamp time.Time      `json:"timestamp"`
	Issues    []models.Issue `json:"issues"`
	Scanned   int            `json:"scanned"`
	// Passed counts scanned files that produced no issue.
	Passed int `json:"passed"`
}

// QuickResult is the outcome of a hash-only check of the baseline.
type QuickResult struct {
	Timestamp time.Time      `json:"timestamp"`
	Quick     bool           `json:"quick"`
	Issues    []models.Issue `json:"issues"`
	Checked   int            `json:"checked"`
}

// Verification is the outcome of VerifyFile.
type Verification struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Stats summarizes the baseline.
type Stats struct {
	Files        int        `json:"files"`
	TotalSize    int64      `json:"total_size"`
	OldestUpdate *time.Time `json:"oldest_update,omitempty"`
	LastScan     *time.Time `json:"last_scan,omitempty"`
}

// Checker holds the baseline manifest and runs integrity passes against it.
type Checker struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	hashExt  map[string]bool
	scanExt  map[string]bool
	skipDirs map[string]bool

	mu       sync.RWMutex
	manifest map[string]models.ManifestEntry
	lastScan *ScanResult
}

// Option customizes a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) { c.logger = logging.OrNop(l).Named("integrity") }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New creates a checker with an empty baseline.
func New(cfg Config, opts ...Option) *Checker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LongLineLimit <= 0 {
		cfg.LongLineLimit = DefaultConfig().LongLineLimit
	}
	c := &Checker{
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
		hashExt:  toSet(cfg.HashExtensions),
		scanExt:  toSet(cfg.ScanExtensions),
		skipDirs: toSet(cfg.SkipDirs),
		manifest: make(map[string]models.ManifestEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

// Hash returns the hex sha256 digest of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string) (string, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(h.Sum(nil)), info, nil
}

func (c *Checker) shouldHash(name string) bool {
	return c.hashExt[strings.ToLower(filepath.Ext(name))]
}

func (c *Checker) shouldScan(name string) bool {
	return c.scanExt[strings.ToLower(filepath.Ext(name))]
}

// walk lists files under root accepted by include, using an explicit stack.
// Only an unreadable root is an error; unreadable subdirectories are skipped.
func (c *Checker) walk(root string, include func(string) bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if include(root) {
			return []string{root}, nil
		}
		return nil, nil
	}

	var files []string
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return nil, err
			}
			c.logger.Debug("skipping unreadable directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir, name)
			switch {
			case e.IsDir():
				if !c.skipDirs[strings.ToLower(name)] {
					stack = append(stack, full)
				}
			case e.Type().IsRegular() && include(name):
				files = append(files, full)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		} else {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func underAny(path string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// --- Baseline ---

// BuildBaseline hashes every allow-listed file under roots into the manifest.
// Unreadable roots, directories and files are skipped. It returns the number
// of files captured.
func (c *Checker) BuildBaseline(ctx context.Context, roots []string) (int, error) {
	start := time.Now()

	var files []string
	for _, root := range absPaths(roots) {
		found, err := c.walk(root, c.shouldHash)
		if err != nil {
			c.logger.Warn("skipping unreadable root", zap.String("root", root), zap.Error(err))
			continue
		}
		files = append(files, found...)
	}

	entries := make([]models.ManifestEntry, len(files))
	hashed := make([]bool, len(files))
	updated := c.now().UnixMilli()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, info, err := hashFile(path)
			if err != nil {
				c.logger.Debug("skipping unreadable file", zap.String("file", path), zap.Error(err))
				return nil
			}
			entries[i] = models.ManifestEntry{
				Hash:     sum,
				Size:     info.Size(),
				Modified: info.ModTime().UnixMilli(),
				Updated:  updated,
			}
			hashed[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("build baseline: %w", err)
	}

	n := 0
	c.mu.Lock()
	for i, path := range files {
		if hashed[i] {
			c.manifest[path] = entries[i]
			n++
		}
	}
	total := len(c.manifest)
	c.mu.Unlock()

	manifestFiles.Set(float64(total))
	checksTotal.WithLabelValues("baseline").Inc()
	checkDuration.WithLabelValues("baseline").Observe(time.Since(start).Seconds())
	c.logger.Info("baseline built", zap.Int("files", n), zap.Int("manifest", total), zap.Duration("took", time.Since(start)))
	return n, nil
}

// --- Checks ---

// QuickCheck re-hashes the baselined files under roots (all of them when
// roots is empty). It never discovers new files or scans content.
func (c *Checker) QuickCheck(ctx context.Context, roots []string) (QuickResult, error) {
	start := time.Now()
	roots = absPaths(roots)

	c.mu.RLock()
	paths := make([]string, 0, len(c.manifest))
	expected := make(map[string]string, len(c.manifest))
	for path, entry := range c.manifest {
		if underAny(path, roots) {
			paths = append(paths, path)
			expected[path] = entry.Hash
		}
	}
	c.mu.RUnlock()
	sort.Strings(paths)

	res := QuickResult{Timestamp: c.now(), Quick: true, Checked: len(paths)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sum, _, err := hashFile(path)
		switch {
		case os.IsNotExist(err):
			res.Issues = append(res.Issues, models.Issue{
				Type:     IssueFileMissing,
				Severity: models.SeverityError,
				File:     path,
				Message:  "file deleted since baseline",
			})
		case err != nil:
			c.logger.Debug("skipping unreadable file", zap.String("file", path), zap.Error(err))
		case sum != expected[path]:
			res.Issues = append(res.Issues, models.Issue{
				Type:     IssueHashMismatch,
				Severity: models.SeverityWarning,
				File:     path,
				Expected: expected[path],
				Actual:   sum,
				Message:  "file modified since baseline",
			})
		}
	}

	recordIssues(res.Issues)
	checksTotal.WithLabelValues("quick").Inc()
	checkDuration.WithLabelValues("quick").Observe(time.Since(start).Seconds())
	c.logger.Info("quick check complete", zap.Int("checked", res.Checked), zap.Int("issues", len(res.Issues)))
	return res, nil
}

// Scan walks roots, compares every scannable file with the baseline, scans
// its contents and verifies the required-files table.
func (c *Checker) Scan(ctx context.Context, roots []string) (ScanResult, error) {
	start := time.Now()
	roots = absPaths(roots)
	res := ScanResult{Timestamp: c.now(), Issues: []models.Issue{}}

	for _, root := range roots {
		files, err := c.walk(root, c.shouldScan)
		if err != nil {
			res.Issues = append(res.Issues, models.Issue{
				Type:     IssueDirectoryError,
				Severity: models.SeverityError,
				File:     root,
				Message:  err.Error(),
			})
			continue
		}

		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			res.Scanned++
			issues := c.compareWithBaseline(path)
			issues = append(issues, c.ScanFile(path)...)
			if len(issues) == 0 {
				res.Passed++
			}
			res.Issues = append(res.Issues, issues...)
		}
	}

	res.Issues = append(res.Issues, c.checkRequired(roots)...)

	c.mu.Lock()
	stored := res
	stored.Issues = append([]models.Issue(nil), res.Issues...)
	c.lastScan = &stored
	c.mu.Unlock()

	recordIssues(res.Issues)
	checksTotal.WithLabelValues("scan").Inc()
	checkDuration.WithLabelValues("scan").Observe(time.Since(start).Seconds())
	c.logger.Info("scan complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("passed", res.Passed),
		zap.Int("issues", len(res.Issues)))
	return res, nil
}

func (c *Checker) compareWithBaseline(path string) []models.Issue {
	c.mu.RLock()
	entry, ok := c.manifest[path]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	sum, _, err := hashFile(path)
	if err != nil {
		return []models.Issue{{
			Type:     IssueReadError,
			Severity: models.SeverityError,
			File:     path,
			Message:  err.Error(),
		}}
	}
	if sum != entry.Hash {
		return []models.Issue{{
			Type:     IssueModified,
			Severity: models.SeverityWarning,
			File:     path,
			Expected: entry.Hash,
			Actual:   sum,
			Message:  "file modified since baseline",
		}}
	}
	return nil
}

func (c *Checker) checkRequired(roots []string) []models.Issue {
	components := make([]string, 0, len(c.cfg.RequiredFiles))
	for comp := range c.cfg.RequiredFiles {
		components = append(components, comp)
	}
	sort.Strings(components)

	var issues []models.Issue
	for _, comp := range components {
		for _, file := range c.cfg.RequiredFiles[comp] {
			found := false
			for _, root := range roots {
				if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(file))); err == nil {
					found = true
					break
				}
			}
			if !found {
				issues = append(issues, models.Issue{
					Type:      IssueMissingRequired,
					Severity:  models.SeverityError,
					File:      file,
					Component: comp,
					Message:   "required file missing: " + file,
				})
			}
		}
	}
	return issues
}

// ScanFile checks one file's contents against the pattern table, the line
// length limit and, for Go sources, the parser.
func (c *Checker) ScanFile(path string) []models.Issue {
	content, err := os.ReadFile(path)
	if err != nil {
		return []models.Issue{{
			Type:     IssueReadError,
			Severity: models.SeverityError,
			File:     path,
			Message:  err.Error(),
		}}
	}
	text := string(content)

	var issues []models.Issue
	for _, p := range Patterns {
		if n := len(p.Regexp.FindAllStringIndex(text, -1)); n > 0 {
			issues = append(issues, models.Issue{
				Type:     IssueSuspiciousPattern,
				Severity: p.Severity,
				File:     path,
				Pattern:  p.Name,
				Count:    n,
				Message:  fmt.Sprintf("found %d instance(s) of %s", n, p.Name),
			})
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".go") {
		if _, err := parser.ParseFile(token.NewFileSet(), path, content, parser.AllErrors); err != nil {
			issues = append(issues, models.Issue{
				Type:     IssueSyntaxError,
				Severity: models.SeverityError,
				File:     path,
				Message:  err.Error(),
			})
		}
	}

	for i, line := range strings.Split(text, "\n") {
		if len(line) > c.cfg.LongLineLimit {
			issues = append(issues, models.Issue{
				Type:     IssueSuspiciousLine,
				Severity: models.SeverityWarning,
				File:     path,
				Line:     i + 1,
				Length:   len(line),
				Message:  "extremely long line (possible obfuscation)",
			})
		}
	}
	return issues
}

func recordIssues(issues []models.Issue) {
	for _, is := range issues {
		issuesTotal.WithLabelValues(is.Type, string(is.Severity)).Inc()
	}
}

// --- Single-file primitives ---

// VerifyFile compares one file with its baseline entry.
func (c *Checker) VerifyFile(path string) Verification {
	path = absPath(path)
	c.mu.RLock()
	entry, ok := c.manifest[path]
	c.mu.RUnlock()
	if !ok {
		return Verification{Reason: ReasonNotInManifest}
	}

	sum, _, err := hashFile(path)
	switch {
	case os.IsNotExist(err):
		return Verification{Reason: ReasonFileMissing, Expected: entry.Hash}
	case err != nil:
		return Verification{Reason: ReasonReadError, Error: err.Error()}
	case sum != entry.Hash:
		return Verification{Reason: ReasonHashMismatch, Expected: entry.Hash, Actual: sum}
	}
	return Verification{Verified: true}
}

// UpdateFile re-baselines one file. It is called after an approved change.
func (c *Checker) UpdateFile(path string) error {
	path = absPath(path)
	sum, info, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}

	c.mu.Lock()
	c.manifest[path] = models.ManifestEntry{
		Hash:     sum,
		Size:     info.Size(),
		Modified: info.ModTime().UnixMilli(),
		Updated:  c.now().UnixMilli(),
	}
	total := len(c.manifest)
	c.mu.Unlock()

	manifestFiles.Set(float64(total))
	c.logger.Debug("file re-baselined", zap.String("file", path))
	return nil
}

// RemoveFile drops one file from the baseline. It reports whether the file
// was present.
func (c *Checker) RemoveFile(path string) bool {
	path = absPath(path)
	c.mu.Lock()
	_, ok := c.manifest[path]
	delete(c.manifest, path)
	total := len(c.manifest)
	c.mu.Unlock()

	if ok {
		manifestFiles.Set(float64(total))
		c.logger.Debug("file removed from baseline", zap.String("file", path))
	}
	return ok
}

// --- Queries ---

// Entry returns the baseline entry for path.
func (c *Checker) Entry(path string) (models.ManifestEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.manifest[absPath(path)]
	return e, ok
}

// Manifest returns a copy of the baseline.
func (c *Checker) Manifest() map[string]models.ManifestEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.ManifestEntry, len(c.manifest))
	for k, v := range c.manifest {
		out[k] = v
	}
	return out
}

// LastScan returns the most recent full scan, or nil.
func (c *Checker) LastScan() *ScanResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastScan == nil {
		return nil
	}
	out := *c.lastScan
	out.Issues = append([]models.Issue(nil), c.lastScan.Issues...)
	return &out
}

// Stats summarizes the baseline.
func (c *Checker) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Stats{Files: len(c.manifest)}
	var oldest int64
	for _, e := range c.manifest {
		st.TotalSize += e.Size
		if e.Updated > 0 && (oldest == 0 || e.Updated < oldest) {
			oldest = e.Updated
		}
	}
	if oldest > 0 {
		t := time.UnixMilli(oldest)
		st.OldestUpdate = &t
	}
	if c.lastScan != nil {
		t := c.lastScan.Timestamp
		st.LastScan = &t
	}
	return st
}
