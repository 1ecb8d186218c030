package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/elee1766/stationd/src/agentproc"
	"github.com/elee1766/stationd/src/chatclient"
)

// ChatCmd sends one message through a running panel server and streams the
// reply to stdout
type ChatCmd struct {
	Text    []string `arg:"" help:"The message to send"`
	Server  string   `default:"http://localhost:8080" help:"Panel server URL"`
	Persona string   `short:"p" default:"assistant" help:"Persona to talk to"`
	Session string   `help:"Resume a specific session by id"`
	File    []string `short:"f" help:"Attach an already-uploaded file path"`
}

func (c *ChatCmd) Run(kctx *kong.Context, cli *CLI) error {
	logger := createCLILogger(cli.LogLevel)
	client := chatclient.NewClient(c.Server, c.Persona, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conv := chatclient.NewConversation()
	conv.SessionID = c.Session

	err := client.Stream(ctx, conv, strings.Join(c.Text, " "), c.File, func(ev agentproc.Event) {
		switch ev.Type {
		case agentproc.EventMessage:
			fmt.Print(ev.Text)
		case agentproc.EventToolUse:
			fmt.Fprintf(os.Stderr, "[Using %s...]\n", ev.Tool)
		case agentproc.EventResult:
			fmt.Println()
			if ev.CostUSD > 0 {
				fmt.Fprintf(os.Stderr, "cost $%.4f, %dms\n", ev.CostUSD, ev.DurationMS)
			}
		}
	})
	if err != nil {
		return err
	}

	last := conv.Messages[len(conv.Messages)-1]
	if last.IsError {
		return fmt.Errorf("turn failed: %s", last.Content)
	}
	if conv.SessionID != "" {
		fmt.Fprintf(os.Stderr, "session %s\n", conv.SessionID)
	}
	return nil
}
