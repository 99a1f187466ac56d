package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matheus3301/carechat/internal/api"
	"github.com/matheus3301/carechat/internal/session"
)

var createSubject string

func init() {
	createCmd.Flags().StringVar(&createSubject, "subject", "", "conversation subject")
	rootCmd.AddCommand(listCmd, openCmd, closeCmd, sendCmd, createCmd, readCmd, typingCmd, watchCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Reload and list conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.LoadConversations(ctx)
		}, false)
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Open a conversation and show its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.Open(ctx, args[0])
		}, true)
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open conversation view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.CloseConversation(ctx)
		}, false)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.Send(ctx, args[0], strings.Join(args[1:], " "))
		}, true)
	},
}

var createCmd = &cobra.Command{
	Use:   "create <counterparty-id> <message...>",
	Short: "Start a conversation, or open the active one with that counterparty",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.Create(ctx, args[0], createSubject, strings.Join(args[1:], " "))
		}, true)
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewCommand(func(ctx context.Context, c *api.Client) (api.ViewDoc, error) {
			return c.MarkAsRead(ctx, args[0])
		}, false)
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation-id> <on|off>",
	Short: "Send a typing indicator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("typing state must be on or off, got %q", args[1])
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.SetTyping(ctx, args[0], on)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the view every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		c, err := api.Dial(session.SocketPath(name))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return c.Watch(ctx, func(v api.ViewDoc) error {
			if jsonOutput {
				return outputJSON(v)
			}
			fmt.Println(summaryLine(v))
			return nil
		})
	},
}

// viewCommand runs call against the daemon and prints the resulting view.
// A view carrying an error fails the command after printing.
func viewCommand(call func(context.Context, *api.Client) (api.ViewDoc, error), withMessages bool) error {
	return withClient(func(ctx context.Context, c *api.Client) error {
		v, err := call(ctx, c)
		if err != nil {
			return err
		}
		return printView(v, withMessages)
	})
}
