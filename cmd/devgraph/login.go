package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rohankatakam/devgraph/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a GitHub token in the OS keychain",
	Long: `Prompt for a GitHub personal access token and store it in the OS keychain.

The keychain token is used when neither GITHUB_TOKEN nor the config file sets one.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the GitHub token from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager(logger)
		if err := km.DeleteGitHubToken(); err != nil {
			return err
		}
		fmt.Println("✓ GitHub token removed from keychain")
		return nil
	},
}

func runLogin(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager(logger)
	if !km.IsAvailable() {
		return fmt.Errorf("OS keychain not available; set GITHUB_TOKEN instead")
	}

	if existing, _ := km.GetGitHubToken(); existing != "" {
		fmt.Printf("A token is already stored (%s); it will be replaced\n", config.MaskToken(existing))
	}

	fmt.Print("GitHub token: ")
	var token string
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		token = string(raw)
	} else {
		if _, err := fmt.Fscanln(os.Stdin, &token); err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}

	token = strings.TrimSpace(token)
	if err := km.SetGitHubToken(token); err != nil {
		return err
	}
	fmt.Printf("✓ Token %s saved to keychain\n", config.MaskToken(token))
	return nil
}
