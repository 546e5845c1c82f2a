package integrity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/guardian/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequiredFiles = nil
	return cfg
}

func issuesOfType(issues []models.Issue, typ string) []models.Issue {
	var out []models.Issue
	for _, is := range issues {
		if is.Type == typ {
			out = append(out, is)
		}
	}
	return out
}

func TestHashIsPureFunctionOfContent(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.json"), `{"k":1}`)

	c := New(testConfig())
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)
	first, ok := c.Entry(a)
	require.True(t, ok)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(a, later, later))
	require.NoError(t, c.UpdateFile(a))
	second, _ := c.Entry(a)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, Hash([]byte(`{"k":1}`)), second.Hash)

	writeFile(t, a, `{"k":2}`)
	require.NoError(t, c.UpdateFile(a))
	third, _ := c.Entry(a)
	assert.NotEqual(t, first.Hash, third.Hash)
}

func TestBuildBaselineSkipsHiddenVendorAndUnlisted(t *testing.T) {
	dir := t.TempDir()
	keep := []string{
		writeFile(t, filepath.Join(dir, "main.go"), "package main\n"),
		writeFile(t, filepath.Join(dir, "docs", "README.md"), "# hi\n"),
		writeFile(t, filepath.Join(dir, "deep", "a", "b", "c", "x.yaml"), "a: 1\n"),
	}
	writeFile(t, filepath.Join(dir, ".git", "config.json"), "{}")
	writeFile(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), "")
	writeFile(t, filepath.Join(dir, "vendor", "lib", "lib.go"), "package lib\n")
	writeFile(t, filepath.Join(dir, "image.png"), "png")

	c := New(testConfig())
	n, err := c.BuildBaseline(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var got []string
	for path := range c.Manifest() {
		got = append(got, path)
	}
	assert.ElementsMatch(t, keep, got)

	st := c.Stats()
	assert.Equal(t, 3, st.Files)
	assert.NotNil(t, st.OldestUpdate)
	assert.Nil(t, st.LastScan)
}

func TestBuildBaselineCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.go"), "package a\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(testConfig())
	_, err := c.BuildBaseline(ctx, []string{dir})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Manifest())
}

func TestQuickCheck(t *testing.T) {
	dir := t.TempDir()
	changed := writeFile(t, filepath.Join(dir, "changed.js"), "let a = 1\n")
	gone := writeFile(t, filepath.Join(dir, "gone.md"), "bye\n")
	writeFile(t, filepath.Join(dir, "same.json"), "{}")

	c := New(testConfig())
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)

	writeFile(t, changed, "let a = 2\n")
	require.NoError(t, os.Remove(gone))
	writeFile(t, filepath.Join(dir, "new.js"), "eval(x)\n")

	res, err := c.QuickCheck(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Quick)
	assert.Equal(t, 3, res.Checked)

	want := []models.Issue{
		{
			Type:     IssueHashMismatch,
			Severity: models.SeverityWarning,
			File:     changed,
			Expected: Hash([]byte("let a = 1\n")),
			Actual:   Hash([]byte("let a = 2\n")),
			Message:  "file modified since baseline",
		},
		{
			Type:     IssueFileMissing,
			Severity: models.SeverityError,
			File:     gone,
			Message:  "file deleted since baseline",
		},
	}
	if diff := cmp.Diff(want, res.Issues); diff != "" {
		t.Errorf("quick check issues mismatch (-want +got):\n%s", diff)
	}
}

func TestQuickCheckRestrictedToRoots(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a", "x.go"), "package x\n")
	writeFile(t, filepath.Join(dir, "b", "y.go"), "package y\n")

	c := New(testConfig())
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)

	res, err := c.QuickCheck(context.Background(), []string{filepath.Join(dir, "a")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Empty(t, res.Issues)

	writeFile(t, a, "package z\n")
	res, err = c.QuickCheck(context.Background(), []string{filepath.Join(dir, "b")})
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
}

func TestScanFindsPatternsAndModifications(t *testing.T) {
	dir := t.TempDir()
	clean := writeFile(t, filepath.Join(dir, "clean.go"), "package clean\n\nfunc A() int { return 1 }\n")
	script := writeFile(t, filepath.Join(dir, "scripts", "wipe.sh"), "#!/bin/sh\nrm -rf /tmp/x\n")
	js := writeFile(t, filepath.Join(dir, "web", "app.js"),
		"const cp = require('child_process')\nconst u = require('../util')\neval(a); eval(b)\nwhile (true) {}\n")
	long := writeFile(t, filepath.Join(dir, "web", "min.js"), "x\n"+strings.Repeat("a", 1001)+"\n")
	broken := writeFile(t, filepath.Join(dir, "broken.go"), "package broken\n\nfunc {\n")

	c := New(testConfig())
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)
	writeFile(t, clean, "package clean\n\nfunc A() int { return 2 }\n")

	res, err := c.Scan(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scanned)
	assert.Equal(t, 0, res.Passed)

	modified := issuesOfType(res.Issues, IssueModified)
	require.Len(t, modified, 1)
	assert.Equal(t, clean, modified[0].File)

	byPattern := map[string]models.Issue{}
	for _, is := range issuesOfType(res.Issues, IssueSuspiciousPattern) {
		byPattern[is.Pattern] = is
	}
	assert.Equal(t, models.SeverityCritical, byPattern["dangerous_shell"].Severity)
	assert.Equal(t, script, byPattern["dangerous_shell"].File)
	assert.Equal(t, 2, byPattern["eval_usage"].Count)
	assert.Equal(t, models.SeverityHigh, byPattern["eval_usage"].Severity)
	assert.Equal(t, js, byPattern["child_process_import"].File)
	assert.Equal(t, models.SeverityLow, byPattern["parent_dir_import"].Severity)
	assert.Equal(t, models.SeverityMedium, byPattern["infinite_loop"].Severity)

	lines := issuesOfType(res.Issues, IssueSuspiciousLine)
	require.Len(t, lines, 1)
	assert.Equal(t, long, lines[0].File)
	assert.Equal(t, 2, lines[0].Line)
	assert.Equal(t, 1001, lines[0].Length)

	syntax := issuesOfType(res.Issues, IssueSyntaxError)
	require.Len(t, syntax, 1)
	assert.Equal(t, broken, syntax[0].File)
	assert.Equal(t, models.SeverityError, syntax[0].Severity)

	last := c.LastScan()
	require.NotNil(t, last)
	assert.Equal(t, res.Timestamp, last.Timestamp)
	assert.NotNil(t, c.Stats().LastScan)
}

func TestScanCleanTreePasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.go"), "package a\n")
	writeFile(t, filepath.Join(dir, "b.ts"), "export const b = 1\n")

	c := New(testConfig())
	res, err := c.Scan(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Passed)
	assert.Empty(t, res.Issues)
}

func TestScanUnreadableRootReportsDirectoryError(t *testing.T) {
	c := New(testConfig())
	missing := filepath.Join(t.TempDir(), "nope")

	res, err := c.Scan(context.Background(), []string{missing})
	require.NoError(t, err)
	errs := issuesOfType(res.Issues, IssueDirectoryError)
	require.Len(t, errs, 1)
	assert.Equal(t, missing, errs[0].File)
}

func TestScanMissingRequiredFiles(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	writeFile(t, filepath.Join(other, "core", "present.js"), "")

	cfg := testConfig()
	cfg.RequiredFiles = map[string][]string{
		"core": {"core/present.js", "core/absent.js"},
	}
	c := New(cfg)

	res, err := c.Scan(context.Background(), []string{dir, other})
	require.NoError(t, err)

	missing := issuesOfType(res.Issues, IssueMissingRequired)
	require.Len(t, missing, 1)
	assert.Equal(t, "core/absent.js", missing[0].File)
	assert.Equal(t, "core", missing[0].Component)
	assert.Equal(t, models.SeverityError, missing[0].Severity)
}

func TestVerifyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "settings.json"), `{"a":1}`)

	c := New(testConfig())
	assert.Equal(t, Verification{Reason: ReasonNotInManifest}, c.VerifyFile(path))

	require.NoError(t, c.UpdateFile(path))
	assert.True(t, c.VerifyFile(path).Verified)

	writeFile(t, path, `{"a":2}`)
	v := c.VerifyFile(path)
	assert.False(t, v.Verified)
	assert.Equal(t, ReasonHashMismatch, v.Reason)
	assert.Equal(t, Hash([]byte(`{"a":1}`)), v.Expected)

	require.NoError(t, os.Remove(path))
	assert.Equal(t, ReasonFileMissing, c.VerifyFile(path).Reason)

	assert.True(t, c.RemoveFile(path))
	assert.False(t, c.RemoveFile(path))
	assert.Equal(t, ReasonNotInManifest, c.VerifyFile(path).Reason)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.go"), "package a\n")
	writeFile(t, filepath.Join(dir, "b.md"), "b\n")
	manifestPath := filepath.Join(t.TempDir(), "state", "manifest.json")

	c := New(testConfig())
	_, err := c.BuildBaseline(context.Background(), []string{dir})
	require.NoError(t, err)
	require.NoError(t, c.SaveManifest(manifestPath))

	loaded := New(testConfig())
	n, err := loaded.LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	if diff := cmp.Diff(c.Manifest(), loaded.Manifest()); diff != "" {
		t.Errorf("manifest mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestLoadManifestMissingIsNotFatal(t *testing.T) {
	c := New(testConfig())
	n, err := c.LoadManifest(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, c.Manifest())
}

func TestLoadManifestCorrupt(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "m.json"), "{not json")
	c := New(testConfig())
	_, err := c.LoadManifest(path)
	require.Error(t, err)
}
