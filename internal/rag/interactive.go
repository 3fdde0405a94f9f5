package rag

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/tmc/langchaingo/llms"
)

var (
	botLabel  = color.New(color.FgCyan, color.Bold)
	userLabel = color.New(color.FgGreen, color.Bold)
	infoText  = color.New(color.FgYellow)
	errorText = color.New(color.FgRed)
)

// RunInteractive runs a terminal chat until in is exhausted or the user types
// exit or quit. Besides questions it understands history, reset and clear.
func RunInteractive(ctx context.Context, e *Engine, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "%s%s\n", botLabel.Sprint("Pawsistant: "), e.Greeting())
	infoText.Fprintln(out, "Commands: history, reset, clear, exit")

	scanner := bufio.NewScanner(in)
	for {
		userLabel.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			infoText.Fprintln(out, "Bye! 🐺")
			return nil
		case "reset":
			if err := e.Reset(ctx); err != nil {
				return err
			}
			infoText.Fprintln(out, "Conversation reset.")
			continue
		case "clear":
			fmt.Fprint(out, "\033[H\033[2J")
			continue
		case "history":
			printHistory(ctx, e, out)
			continue
		}

		reply, err := e.Chat(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			errorText.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s%s\n", botLabel.Sprint("Pawsistant: "), reply.Answer)
		if len(reply.Sources) > 0 {
			infoText.Fprintf(out, "sources: %s\n", strings.Join(reply.Sources, ", "))
		}
	}
	return scanner.Err()
}

func printHistory(ctx context.Context, e *Engine, out io.Writer) {
	msgs, err := e.History(ctx)
	if err != nil {
		errorText.Fprintf(out, "error: %v\n", err)
		return
	}
	if len(msgs) == 0 {
		infoText.Fprintln(out, "No messages yet.")
		return
	}
	for _, m := range msgs {
		label := userLabel.Sprint("You: ")
		if m.GetType() == llms.ChatMessageTypeAI {
			label = botLabel.Sprint("Pawsistant: ")
		}
		fmt.Fprintf(out, "%s%s\n", label, m.GetContent())
	}
}
