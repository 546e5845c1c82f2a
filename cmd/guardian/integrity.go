package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/integrity"
	"github.com/fentz26/guardian/internal/models"
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Baseline and verify guarded files",
}

var integrityBaselineCmd = &cobra.Command{
	Use:   "baseline [root...]",
	Short: "Capture the baseline of roots (defaults to the configured roots)",
	RunE:  runIntegrityBaseline,
}

var integrityScanCmd = &cobra.Command{
	Use:   "scan [root...]",
	Short: "Full scan: baseline drift, suspicious patterns, syntax and required files",
	RunE:  integrityCheck("scan"),
}

var integrityQuickCmd = &cobra.Command{
	Use:   "quick [root...]",
	Short: "Hash-only check of the baseline",
	RunE:  integrityCheck("quick"),
}

var integrityVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Verify one file against the baseline",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrityVerify,
}

func init() {
	integrityCmd.AddCommand(integrityBaselineCmd, integrityScanCmd, integrityQuickCmd, integrityVerifyCmd)
}

// absArgs resolves paths against the CLI's working directory, which may
// differ from the daemon's.
func absArgs(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}

func runIntegrityBaseline(cmd *cobra.Command, args []string) error {
	roots, err := absArgs(args)
	if err != nil {
		return err
	}
	var res struct {
		Files int `json:"files"`
	}
	if err := apiJSON("POST", "/integrity/baseline", map[string]any{"roots": roots}, &res); err != nil {
		return err
	}
	fmt.Printf("Baseline captured: %d files\n", res.Files)
	return nil
}

func integrityCheck(kind string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		roots, err := absArgs(args)
		if err != nil {
			return err
		}
		var res struct {
			Issues  []models.Issue `json:"issues"`
			Scanned int            `json:"scanned"`
			Passed  int            `json:"passed"`
			Checked int            `json:"checked"`
		}
		if err := apiJSON("POST", "/integrity/"+kind, map[string]any{"roots": roots}, &res); err != nil {
			return err
		}

		if kind == "quick" {
			fmt.Printf("Checked %d baselined files, %d issues\n", res.Checked, len(res.Issues))
		} else {
			fmt.Printf("Scanned %d files, %d passed, %d issues\n", res.Scanned, res.Passed, len(res.Issues))
		}
		if len(res.Issues) == 0 {
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEVERITY\tTYPE\tFILE\tMESSAGE")
		for _, i := range res.Issues {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.Severity, i.Type, i.File, i.Message)
		}
		return w.Flush()
	}
}

func runIntegrityVerify(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	var v integrity.Verification
	if err := apiJSON("POST", "/integrity/verify", map[string]string{"path": path}, &v); err != nil {
		return err
	}
	if v.Verified {
		fmt.Printf("✓ %s matches the baseline\n", path)
		return nil
	}
	fmt.Printf("✗ %s: %s\n", path, v.Reason)
	if v.Expected != "" {
		fmt.Printf("  expected %s\n  actual   %s\n", v.Expected, v.Actual)
	}
	if v.Error != "" {
		fmt.Printf("  %s\n", v.Error)
	}
	return fmt.Errorf("verification failed")
}
