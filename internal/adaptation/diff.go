package adaptation

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats counts changed lines in a unified diff.
type DiffStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// UnifiedDiff renders before and after as a unified diff of target.
func UnifiedDiff(target, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + target,
		ToFile:   "b/" + target,
		Context:  3,
	})
}

// ComputeDiffStats parses a unified diff and counts added and removed lines.
func ComputeDiffStats(text string) (DiffStats, error) {
	var st DiffStats
	if strings.TrimSpace(text) == "" {
		return st, nil
	}
	files, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return st, err
	}
	for _, fd := range files {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					st.Added++
				case strings.HasPrefix(line, "-"):
					st.Removed++
				}
			}
		}
	}
	return st, nil
}
