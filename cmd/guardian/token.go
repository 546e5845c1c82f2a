package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/guardian/internal/auth"
	"github.com/fentz26/guardian/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage approver tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint an approver token with the configured auth secret",
	RunE:  runTokenMint,
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored credentials",
	RunE:  runTokenClear,
}

var (
	mintApprover string
	mintSave     bool
)

func init() {
	tokenCmd.AddCommand(tokenMintCmd, tokenClearCmd)
	tokenMintCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	tokenMintCmd.Flags().StringVar(&mintApprover, "approver", "human", "Approver identity (human, core_verified, core)")
	tokenMintCmd.Flags().BoolVar(&mintSave, "save", true, "Store the token as the CLI's credentials")
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return errors.New("no auth secret configured (set auth.secret or GUARDIAN_AUTH_SECRET)")
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, err := issuer.Mint(mintApprover)
	if err != nil {
		return err
	}

	if !mintSave {
		fmt.Println(token)
		return nil
	}
	path, err := auth.DefaultCredentialsPath()
	if err != nil {
		return err
	}
	creds := auth.Credentials{Token: token, Approver: mintApprover, CreatedAt: time.Now()}
	if err := auth.SaveCredentials(path, creds); err != nil {
		return err
	}
	fmt.Printf("Token for %q saved to %s\n", mintApprover, path)
	return nil
}

func runTokenClear(cmd *cobra.Command, args []string) error {
	path, err := auth.DefaultCredentialsPath()
	if err != nil {
		return err
	}
	if err := auth.RemoveCredentials(path); err != nil {
		return err
	}
	fmt.Println("Credentials removed.")
	return nil
}
