package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/auth"
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Guardian - self-supervision for an autonomous agent",
	Long: `Guardian watches an agent's components, files and disk, queues every
finding as a threat for the decision authority and gates self-modification
behind risk-tiered approval.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if apiToken != "" {
			return nil
		}
		path, err := auth.DefaultCredentialsPath()
		if err != nil {
			return nil
		}
		creds, err := auth.LoadCredentials(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read credentials: %v\n", err)
			return nil
		}
		if creds != nil {
			apiToken = creds.Token
		}
		return nil
	},
}

var (
	apiAddr  string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "Approver token (defaults to stored credentials)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd, checkCmd, heartbeatCmd, watchCmd)
	rootCmd.AddCommand(threatCmd, proposalCmd, integrityCmd, cleanupCmd)
	rootCmd.AddCommand(tokenCmd, tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
