// ABOUTME: Subcommands for listing, chatting in and tailing conversations
// ABOUTME: Each command starts the session pump before touching the store

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/roomsync/internal/conversation"
)

func (a *app) conversationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.sess.Store()
			store.LoadConversations(cmd.Context())

			snap := store.Snapshot()
			if snap.List.Err != nil {
				return fmt.Errorf("loading conversations: %w", snap.List.Err)
			}
			if len(snap.Conversations) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations available.")
				return nil
			}
			renderConversations(cmd.OutOrStdout(), snap, store.Unread)
			return nil
		},
	}
}

func (a *app) chatCommand() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open an interactive chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner()
			a.startPump(cmd.Context())
			initial := ""
			if len(args) == 1 {
				initial = args[0]
			}
			c := newChat(a.sess, cmd.OutOrStdout(), os.Stdin)
			return c.run(cmd.Context(), initial, topic)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "open the conversation by topic instead of from the directory")
	return cmd
}

func (a *app) tailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <conversation-id>",
		Short: "Print a conversation's history and follow new messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := a.sess.Store()
			p := newPrinter(cmd.OutOrStdout(), a.sess.UserID())

			a.startPump(ctx)
			store.LoadConversations(ctx)
			if err := store.Snapshot().List.Err; err != nil {
				a.logger.Warn("conversation list unavailable", "error", err)
			}

			updates := store.SubscribeConversation(ctx, args[0])
			store.Select(ctx, args[0])
			p.Replay(store.Snapshot())
			if err := store.Snapshot().History.Err; err != nil {
				return fmt.Errorf("loading history: %w", err)
			}

			for {
				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case u, ok := <-updates:
					if !ok {
						return nil
					}
					if u.Kind == conversation.UpdateMessages {
						p.Apply(u)
					}
				}
			}
		},
	}
}
