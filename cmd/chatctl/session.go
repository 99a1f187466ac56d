package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/matheus3301/carechat/internal/api"
	"github.com/matheus3301/carechat/internal/lock"
	"github.com/matheus3301/carechat/internal/session"
)

var (
	loginUser  string
	loginToken string
)

func init() {
	loginCmd.Flags().StringVar(&loginUser, "user", "", "user id (required)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token (required)")
	_ = loginCmd.MarkFlagRequired("user")
	_ = loginCmd.MarkFlagRequired("token")

	rootCmd.AddCommand(statusCmd, loginCmd, logoutCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		if _, running := lock.Holder(session.Dir(name)); !running {
			if jsonOutput {
				return outputJSON(api.StatusDoc{Profile: name, Connection: "STOPPED"})
			}
			fmt.Printf("Profile:    %s\n", name)
			fmt.Println("Daemon:     not running")
			return nil
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(st)
			}
			fmt.Printf("Profile:    %s\n", st.Profile)
			fmt.Printf("Daemon:     running (pid %d)\n", st.PID)
			fmt.Printf("User:       %s\n", valueOrDefault(st.UserID, "(signed out)"))
			fmt.Printf("Realtime:   %s\n", st.Connection)
			fmt.Printf("State:      %s\n", st.State)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials and sign the daemon in",
	Long:  "Write the profile's credentials file and, when chatd is running, sign it in.\nA daemon started later signs in from the file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		creds := session.Credentials{UserID: loginUser, Token: loginToken}
		if err := session.SaveCredentials(session.TokenPath(name), creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		if _, running := lock.Holder(session.Dir(name)); !running {
			fmt.Printf("Credentials saved for profile %q. Start chatd to sign in.\n", name)
			return nil
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			v, err := c.SignIn(ctx, loginUser, loginToken)
			if err != nil {
				return err
			}
			return printView(v, false)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign the daemon out and forget the credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		if err := os.Remove(session.TokenPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if _, running := lock.Holder(session.Dir(name)); !running {
			fmt.Println("Signed out.")
			return nil
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			if err := c.SignOut(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		})
	},
}
