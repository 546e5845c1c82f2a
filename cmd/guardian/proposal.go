package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/models"
)

var proposalCmd = &cobra.Command{
	Use:     "proposal",
	Aliases: []string{"prop"},
	Short:   "Propose, approve and apply self-modifications",
}

var proposalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	RunE:  runProposalList,
}

var proposalShowCmd = &cobra.Command{
	Use:   "show [proposal-id]",
	Short: "Show a proposal and its diff",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalShow,
}

var proposalProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a filesystem change",
	RunE:  runProposalPropose,
}

var proposalApproveCmd = &cobra.Command{
	Use:   "approve [proposal-id]",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalApprove,
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject [proposal-id]",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  runProposalReject,
}

var proposalApplyCmd = &cobra.Command{
	Use:   "apply [proposal-id]",
	Short: "Apply an approved proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  proposalTransition("apply"),
}

var proposalRollbackCmd = &cobra.Command{
	Use:   "rollback [proposal-id]",
	Short: "Roll back an applied proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  proposalTransition("rollback"),
}

var proposalHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show applied changes, newest first",
	RunE:  runProposalHistory,
}

var (
	propStatus   string
	propRisk     string
	propType     string
	propTarget   string
	propAction   string
	propAfter    string
	propFile     string
	propReason   string
	propNoRevert bool
	approver     string
	rejectReason string
	historyLimit int
)

func init() {
	proposalCmd.AddCommand(proposalListCmd, proposalShowCmd, proposalProposeCmd, proposalApproveCmd,
		proposalRejectCmd, proposalApplyCmd, proposalRollbackCmd, proposalHistoryCmd)

	proposalListCmd.Flags().StringVar(&propStatus, "status", "", "Filter by status")
	proposalListCmd.Flags().StringVar(&propRisk, "risk", "", "Filter by risk (low, medium, high, critical)")

	proposalProposeCmd.Flags().StringVar(&propType, "type", "", "Change type, e.g. config or procedure (required)")
	proposalProposeCmd.Flags().StringVar(&propTarget, "target", "", "Target path (required)")
	proposalProposeCmd.Flags().StringVar(&propAction, "action", "modify", "create, modify, delete or move")
	proposalProposeCmd.Flags().StringVar(&propAfter, "after", "", "New content, or the destination for move")
	proposalProposeCmd.Flags().StringVar(&propFile, "from-file", "", "Read new content from a file")
	proposalProposeCmd.Flags().StringVar(&propReason, "reason", "", "Why the change is needed")
	proposalProposeCmd.Flags().BoolVar(&propNoRevert, "irreversible", false, "Mark the change irreversible")
	proposalProposeCmd.MarkFlagRequired("type")
	proposalProposeCmd.MarkFlagRequired("target")

	proposalApproveCmd.Flags().StringVar(&approver, "as", "", "Approver identity when the daemon has no auth secret")
	proposalRejectCmd.Flags().StringVar(&approver, "as", "", "Rejector identity when the daemon has no auth secret")
	proposalRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the proposal is rejected")
	proposalHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries")
}

func runProposalList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if propStatus != "" {
		q.Set("status", propStatus)
	}
	if propRisk != "" {
		q.Set("risk", propRisk)
	}
	path := "/proposals"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var proposals []models.Proposal
	if err := apiJSON("GET", path, nil, &proposals); err != nil {
		return err
	}
	if len(proposals) == 0 {
		fmt.Println("No proposals found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRISK\tSTATUS\tACTION\tTARGET\tCREATED")
	for _, p := range proposals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.Risk, p.Status, p.Action, p.Target, humanize.Time(p.Timestamp))
	}
	return w.Flush()
}

func runProposalShow(cmd *cobra.Command, args []string) error {
	var p models.Proposal
	if err := apiJSON("GET", "/proposals/"+url.PathEscape(args[0]), nil, &p); err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", p.ID)
	fmt.Printf("Target:   %s\n", p.Target)
	fmt.Printf("Action:   %s (%s)\n", p.Action, p.Type)
	fmt.Printf("Risk:     %s\n", p.Risk)
	fmt.Printf("Status:   %s\n", p.Status)
	if p.Reason != "" {
		fmt.Printf("Reason:   %s\n", p.Reason)
	}
	if p.ApprovedBy != "" {
		fmt.Printf("Approved: %s\n", p.ApprovedBy)
	}
	if p.RejectionReason != "" {
		fmt.Printf("Rejected: %s by %s\n", p.RejectionReason, p.RejectedBy)
	}
	if p.Error != "" {
		fmt.Printf("Error:    %s\n", p.Error)
	}
	fmt.Printf("Rollback: %v\n", p.RollbackAvailable)
	if p.Diff != "" {
		fmt.Printf("\n+%d -%d\n%s", p.LinesAdded, p.LinesRemoved, p.Diff)
	}
	return nil
}

func runProposalPropose(cmd *cobra.Command, args []string) error {
	after := propAfter
	if propFile != "" {
		data, err := os.ReadFile(propFile)
		if err != nil {
			return err
		}
		after = string(data)
	}
	change := adaptation.Change{
		Type:        propType,
		Target:      propTarget,
		Action:      models.Action(propAction),
		After:       after,
		Reason:      propReason,
		TriggeredBy: "cli",
	}
	if propNoRevert {
		f := false
		change.Reversible = &f
	}

	var p models.Proposal
	if err := apiJSON("POST", "/proposals", change, &p); err != nil {
		return err
	}
	fmt.Printf("Created proposal %s (risk: %s, status: %s)\n", p.ID, p.Risk, p.Status)
	return nil
}

func runProposalApprove(cmd *cobra.Command, args []string) error {
	var p models.Proposal
	if err := apiJSON("POST", "/proposals/"+url.PathEscape(args[0])+"/approve", map[string]string{"approver": approver}, &p); err != nil {
		return err
	}
	fmt.Printf("Approved %s by %s\n", p.ID, p.ApprovedBy)
	return nil
}

func runProposalReject(cmd *cobra.Command, args []string) error {
	body := map[string]string{"reason": rejectReason, "rejector": approver}
	var p models.Proposal
	if err := apiJSON("POST", "/proposals/"+url.PathEscape(args[0])+"/reject", body, &p); err != nil {
		return err
	}
	fmt.Printf("Rejected %s\n", p.ID)
	return nil
}

func proposalTransition(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var p models.Proposal
		if err := apiJSON("POST", "/proposals/"+url.PathEscape(args[0])+"/"+action, nil, &p); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", p.ID, p.Status)
		return nil
	}
}

func runProposalHistory(cmd *cobra.Command, args []string) error {
	var entries []models.HistoryEntry
	if err := apiJSON("GET", fmt.Sprintf("/history?limit=%d", historyLimit), nil, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No changes applied yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tTARGET\tAPPLIED\tROLLBACK")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", e.ID, e.Action, e.Target, humanize.Time(e.AppliedAt), e.RollbackAvailable)
	}
	return w.Flush()
}
