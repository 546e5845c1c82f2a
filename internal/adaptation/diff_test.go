package adaptation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedDiffStats(t *testing.T) {
	d, err := UnifiedDiff("notes.md", "one\ntwo\nthree\n", "one\n2\nthree\nfour\n")
	require.NoError(t, err)
	assert.Contains(t, d, "--- a/notes.md")
	assert.Contains(t, d, "+++ b/notes.md")

	st, err := ComputeDiffStats(d)
	require.NoError(t, err)
	assert.Equal(t, DiffStats{Added: 2, Removed: 1}, st)
}

func TestComputeDiffStatsEmpty(t *testing.T) {
	st, err := ComputeDiffStats("  \n")
	require.NoError(t, err)
	assert.Zero(t, st)

	d, err := UnifiedDiff("same.md", "x\n", "x\n")
	require.NoError(t, err)
	st, err = ComputeDiffStats(d)
	require.NoError(t, err)
	assert.Zero(t, st)
}
