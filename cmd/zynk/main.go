// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command zynk is a terminal client for the zynk chat server.
//
// # Usage
//
//	zynk new "Car shopping"        # create a chat and print its id
//	zynk chat                      # start a REPL in a new chat
//	zynk chat --chat-id <id>       # continue an existing chat
//	zynk history <id>              # print a chat's messages
//	zynk chats                     # list chats, newest first
//	zynk delete <id>               # delete a chat and its messages
//
// Configuration lives in ~/.zynk/zynk.yaml and is created on first run.
// Ctrl-C during a reply cancels that reply; Ctrl-C at the prompt exits.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/zynk/cmd/zynk/config"
	"github.com/AleutianAI/zynk/pkg/logging"
	"github.com/AleutianAI/zynk/pkg/ux"
)

var (
	configPath string
	serverURL  string
	chatIDFlag string

	cfg    config.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:               "zynk",
		Short:             "Chat with the zynk assistant from your terminal",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				logger.Close()
			}
		},
	}
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long:  `Starts a chat REPL. Without --chat-id a new chat is created. Type /help for commands.`,
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	historyCmd = &cobra.Command{
		Use:   "history [chat-id]",
		Short: "Print the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	chatsCmd = &cobra.Command{
		Use:   "chats",
		Short: "List chats, newest first",
		Args:  cobra.NoArgs,
		RunE:  runChats,
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [chat-id]",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	newCmd = &cobra.Command{
		Use:   "new [title]",
		Short: "Create a chat and print its id",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runNew,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.zynk/zynk.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "orchestrator URL, overrides the config file")
	chatCmd.Flags().StringVar(&chatIDFlag, "chat-id", "", "continue an existing chat")

	rootCmd.AddCommand(chatCmd, historyCmd, chatsCmd, deleteCmd, newCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(*cobra.Command, []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg = loaded
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Format:  logging.ConsoleFormat(os.Stderr),
		LogDir:  cfg.LogDir,
		Service: "zynk",
	})
	return nil
}

func newClient() *ux.ChatClient {
	return ux.NewChatClient(cfg.ServerURL, nil, logger.Slog())
}

func stdoutStyled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func runNew(cmd *cobra.Command, args []string) error {
	title := ""
	if len(args) == 1 {
		title = args[0]
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	chat, err := newClient().CreateChat(ctx, title)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), chat.ID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	messages, err := newClient().ListMessages(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}
	renderer := ux.NewTerminalRenderer(cmd.OutOrStdout(), stdoutStyled())
	printHistory(cmd.OutOrStdout(), renderer, toChatMessages(messages))
	return nil
}

func runChats(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	chats, err := newClient().ListChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}
	printChats(cmd.OutOrStdout(), chats)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	if err := newClient().DeleteChat(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", args[0])
	return nil
}

// printChats writes one line per chat: id, creation time and title.
func printChats(w io.Writer, chats []ux.ChatInfo) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet. Start one with: zynk chat")
		return
	}
	for _, c := range chats {
		created := time.UnixMilli(c.CreatedAt).Local().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s  %s  %s\n", c.ID, created, c.Title)
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	client := newClient()
	chatID, history, err := openChat(cmd.Context(), client, chatIDFlag)
	if err != nil {
		return err
	}

	r, err := newREPL(replConfig{
		ChatID:  chatID,
		History: history,
		Client:  client,
		Input:   newLineReader(cmd.InOrStdin(), cmd.OutOrStdout()),
		Out:     cmd.OutOrStdout(),
		Styled:  stdoutStyled(),
		Logger:  logger.Slog(),
	})
	if err != nil {
		return err
	}
	return r.Run(cmd.Context(), notifyInterrupts())
}

// openChat resumes chatID or creates a new chat when it is empty.
func openChat(ctx context.Context, client *ux.ChatClient, chatID string) (string, []ux.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	if chatID == "" {
		chat, err := client.CreateChat(ctx, "")
		if err != nil {
			return "", nil, fmt.Errorf("failed to create chat: %w", err)
		}
		logger.Slog().Debug("Created chat", "chatId", chat.ID)
		return chat.ID, nil, nil
	}
	messages, err := client.ListMessages(ctx, chatID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	return chatID, toChatMessages(messages), nil
}

func toChatMessages(stored []ux.StoredMessage) []ux.ChatMessage {
	out := make([]ux.ChatMessage, 0, len(stored))
	for _, m := range stored {
		out = append(out, ux.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
