package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pyqlsa/redd-harvest/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API client secret",
	Long: `Manage the reddit API client secret in the system keychain.

With the secret stored here, client_secret can stay out of the config file;
the harvest command falls back to the keychain automatically.`,
}

// authStoreCmd represents the auth store command
var authStoreCmd = &cobra.Command{
	Use:     "store <client-id>",
	Short:   "Store the client secret for a client ID",
	Example: `  redd-harvest auth store AbCdEfGh123456`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAuthStore,
}

// authDeleteCmd represents the auth delete command
var authDeleteCmd = &cobra.Command{
	Use:   "delete <client-id>",
	Short: "Remove the stored client secret for a client ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.Delete(strings.TrimSpace(args[0])); err != nil {
			return err
		}
		fmt.Println("client secret removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authStoreCmd)
	authCmd.AddCommand(authDeleteCmd)
}

func runAuthStore(cmd *cobra.Command, args []string) error {
	clientID := strings.TrimSpace(args[0])

	fmt.Fprint(os.Stderr, "client secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	if len(secret) == 0 {
		return fmt.Errorf("empty secret")
	}

	if err := auth.Store(clientID, string(secret)); err != nil {
		return err
	}
	fmt.Println("client secret stored in keychain")
	return nil
}
