// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/zynk/pkg/ux"
)

const replHelp = `Commands:
  /tag N   ask the follow-up question for tag N of the last reply
  /help    show this help
  /quit    leave the chat
Ctrl-C cancels a reply in progress and exits at the prompt.`

const promptUser = "you> "

type replConfig struct {
	ChatID  string
	History []ux.ChatMessage
	Client  *ux.ChatClient
	// Input supplies lines; nil scans In.
	Input   lineReader
	In      io.Reader
	Out     io.Writer
	Styled  bool
	Logger  *slog.Logger
}

// repl drives one chat's TurnController from line input.
type repl struct {
	chatID   string
	input    lineReader
	out      io.Writer
	renderer *ux.TerminalRenderer
	turns    ux.TurnController
	logger   *slog.Logger

	mu       sync.Mutex
	lastTags []ux.KeywordTag
}

func newREPL(cfg replConfig) (*repl, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Input == nil {
		cfg.Input = newScannerReader(cfg.In)
	}
	r := &repl{
		chatID:   cfg.ChatID,
		input:    cfg.Input,
		out:      cfg.Out,
		renderer: ux.NewTerminalRenderer(cfg.Out, cfg.Styled),
		logger:   cfg.Logger,
	}
	turns, err := ux.NewTurnController(ux.TurnConfig{
		ChatID:     cfg.ChatID,
		Transport:  cfg.Client,
		Store:      cfg.Client,
		History:    cfg.History,
		OnUpdate:   r.renderer.OnUpdate,
		OnComplete: r.onComplete,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.turns = turns
	return r, nil
}

// notifyInterrupts relays Ctrl-C to the REPL instead of killing the process.
func notifyInterrupts() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}

// Run reads lines until EOF, /quit, an idle interrupt or ctx cancellation.
func (r *repl) Run(ctx context.Context, interrupts <-chan os.Signal) error {
	fmt.Fprintf(r.out, "Chat %s. Type /help for commands.\n", r.chatID)
	printHistory(r.out, r.renderer, r.turns.Messages())

	for {
		lines := r.readLine()
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.out)
			return nil
		case res := <-lines:
			if errors.Is(res.err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			if res.err != nil {
				return res.err
			}
			if quit := r.handleLine(ctx, strings.TrimSpace(res.line), interrupts); quit {
				return nil
			}
		}
	}
}

type readResult struct {
	line string
	err  error
}

// readLine prompts and reads one line in the background so Run can still
// react to interrupts. Only one read is in flight at a time, so a terminal
// reader never competes with a streaming reply for the screen.
func (r *repl) readLine() <-chan readResult {
	if p, ok := r.input.(promptingReader); ok {
		p.SetPrompt(promptUser)
	} else {
		fmt.Fprint(r.out, promptUser)
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := r.input.ReadLine()
		ch <- readResult{line: line, err: err}
	}()
	return ch
}

// handleLine runs a command or a turn. It reports whether to quit.
func (r *repl) handleLine(ctx context.Context, line string, interrupts <-chan os.Signal) bool {
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/help":
		fmt.Fprintln(r.out, replHelp)
		return false
	case strings.HasPrefix(line, "/tag"):
		prompt, err := r.followUp(strings.TrimSpace(strings.TrimPrefix(line, "/tag")))
		if err != nil {
			fmt.Fprintln(r.out, r.renderer.RenderNotice(err.Error(), true))
			return false
		}
		fmt.Fprintf(r.out, "%s%s\n", promptUser, prompt)
		line = prompt
	}

	r.submit(ctx, line, interrupts)
	return false
}

// submit runs one turn; an interrupt while it streams cancels only the turn.
func (r *repl) submit(ctx context.Context, text string, interrupts <-chan os.Signal) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-interrupts:
			cancel()
		case <-finished:
		}
	}()

	err := r.turns.Submit(turnCtx, text)
	switch {
	case err == nil:
		if turnCtx.Err() != nil && ctx.Err() == nil {
			fmt.Fprintln(r.out, "\n"+r.renderer.RenderNotice("(reply cancelled)", false))
		}
	case errors.Is(err, ux.ErrEmptyMessage):
	default:
		// Already rendered as an error block.
		r.logger.Debug("Turn failed", "chatId", r.chatID, "error", err)
	}
}

func (r *repl) onComplete(msg ux.ChatMessage) {
	tags := ux.ExtractKeywords(msg.Content)
	r.mu.Lock()
	r.lastTags = tags
	r.mu.Unlock()

	if url, ok := ux.ExtractPDFURL(msg.Content); ok {
		fmt.Fprintf(r.out, "\nReport: %s", url)
	}
	if line := r.renderer.RenderTags(tags); line != "" {
		fmt.Fprintf(r.out, "\n%s  (use /tag N to ask about one)", line)
	}
}

func (r *repl) followUp(arg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(r.lastTags) {
		return "", fmt.Errorf("no tag %q: the last reply has %d tags", arg, len(r.lastTags))
	}
	return ux.FollowUpPrompt(r.lastTags[n-1]), nil
}

func printHistory(w io.Writer, renderer *ux.TerminalRenderer, messages []ux.ChatMessage) {
	for _, m := range messages {
		fmt.Fprintln(w, renderer.RenderMessage(m))
	}
}
