package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/models"
)

var threatCmd = &cobra.Command{
	Use:   "threat",
	Short: "Inspect and resolve queued threats",
}

var threatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List threats",
	RunE:  runThreatList,
}

var threatShowCmd = &cobra.Command{
	Use:   "show [threat-id]",
	Short: "Show a threat with its details",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreatShow,
}

var threatResolveCmd = &cobra.Command{
	Use:   "resolve [threat-id]",
	Short: "Mark a threat handled",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreatResolve,
}

var (
	threatStatus string
	resolution   string
)

func init() {
	threatCmd.AddCommand(threatListCmd, threatShowCmd, threatResolveCmd)
	threatListCmd.Flags().StringVar(&threatStatus, "status", "pending", "Filter by status (pending, resolved, or empty for all)")
	threatResolveCmd.Flags().StringVar(&resolution, "resolution", "acknowledged", "How the threat was handled")
}

func runThreatList(cmd *cobra.Command, args []string) error {
	path := "/threats"
	if threatStatus != "" {
		path += "?status=" + url.QueryEscape(threatStatus)
	}
	var threats []models.Threat
	if err := apiJSON("GET", path, nil, &threats); err != nil {
		return err
	}
	if len(threats) == 0 {
		fmt.Println("No threats found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEVERITY\tSOURCE\tTYPE\tCOMPONENT\tSTATUS\tREPORTED")
	for _, t := range threats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Severity, t.Source, t.Type, t.Component, t.Status, humanize.Time(t.Timestamp))
	}
	return w.Flush()
}

func runThreatShow(cmd *cobra.Command, args []string) error {
	var t models.Threat
	if err := apiJSON("GET", "/threats/"+url.PathEscape(args[0]), nil, &t); err != nil {
		return err
	}
	return printJSON(t)
}

func runThreatResolve(cmd *cobra.Command, args []string) error {
	var t models.Threat
	if err := apiJSON("POST", "/threats/"+url.PathEscape(args[0])+"/resolve", map[string]string{"resolution": resolution}, &t); err != nil {
		return err
	}
	fmt.Printf("Resolved %s: %s\n", t.ID, t.Resolution)
	return nil
}
