package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/carechat/internal/api"
	"github.com/matheus3301/carechat/internal/session"
)

var (
	profileFlag string
	jsonOutput  bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Control a running chatd",
	Long:          "Command-line interface for the care chat daemon.\nSign in, list and open conversations, send messages and watch for changes.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// profile resolves and validates the profile for this invocation.
func profile() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	name := session.Resolve(profileFlag, cfg)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// withClient connects to the profile's daemon and runs fn with a
// request-scoped context.
func withClient(fn func(ctx context.Context, c *api.Client) error) error {
	name, err := profile()
	if err != nil {
		return err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}
