package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/cleanup"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Find and remove expired temp files, logs and caches",
}

var cleanupScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List what could be cleaned without deleting anything",
	RunE:  runCleanupScan,
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Delete cleanup candidates, subject to confirmation",
	RunE:  runCleanupRun,
}

var cleanupEmergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Delete every temp file immediately",
	RunE:  runCleanupEmergency,
}

var (
	cleanDryRun     bool
	cleanForce      bool
	cleanCategories []string
	cleanVerbose    bool
)

func init() {
	cleanupCmd.AddCommand(cleanupScanCmd, cleanupRunCmd, cleanupEmergencyCmd)
	cleanupScanCmd.Flags().BoolVarP(&cleanVerbose, "verbose", "v", false, "List every candidate")
	cleanupRunCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Report without deleting")
	cleanupRunCmd.Flags().BoolVar(&cleanForce, "force", false, "Skip the confirmation gate")
	cleanupRunCmd.Flags().StringSliceVar(&cleanCategories, "category", nil, "Restrict to categories (temp, logs, cache, experience)")
}

func runCleanupScan(cmd *cobra.Command, args []string) error {
	var res cleanup.ScanResult
	if err := apiJSON("GET", "/cleanup/scan", nil, &res); err != nil {
		return err
	}

	names := make([]string, 0, len(res.Categories))
	for name := range res.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cat := res.Categories[name]
		fmt.Printf("%-12s %4d files  %s\n", name, cat.Count, humanize.IBytes(uint64(cat.TotalSize)))
		if cleanVerbose {
			for _, f := range cat.Files {
				fmt.Printf("    %s (%s, %s)\n", f.Path, f.Reason, humanize.IBytes(uint64(f.Size)))
			}
		}
	}
	fmt.Printf("Total: %d files, %s\n", res.TotalFiles, humanize.IBytes(uint64(res.TotalSize)))
	return nil
}

func runCleanupRun(cmd *cobra.Command, args []string) error {
	opts := cleanup.CleanOptions{DryRun: cleanDryRun, Force: cleanForce, Categories: cleanCategories}
	var res cleanup.CleanResult
	if err := apiJSON("POST", "/cleanup/run", opts, &res); err != nil {
		return err
	}
	printCleanResult(res)
	return nil
}

func runCleanupEmergency(cmd *cobra.Command, args []string) error {
	var res cleanup.CleanResult
	if err := apiJSON("POST", "/cleanup/emergency", nil, &res); err != nil {
		return err
	}
	printCleanResult(res)
	return nil
}

func printCleanResult(res cleanup.CleanResult) {
	switch {
	case len(res.Skipped) > 0:
		fmt.Printf("Cleanup vetoed: %d files kept. A cleanup_request threat is queued for review.\n", len(res.Skipped))
	case res.DryRun:
		fmt.Printf("Dry run: would delete %d files (%s)\n", len(res.Deleted), humanize.IBytes(uint64(res.FreedBytes)))
	default:
		fmt.Printf("Deleted %d files, freed %s\n", len(res.Deleted), humanize.IBytes(uint64(res.FreedBytes)))
	}
	for _, f := range res.Failed {
		fmt.Printf("  failed: %s: %s\n", f.Path, f.Error)
	}
}
