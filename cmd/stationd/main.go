package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var version = "dev"

// CLI represents the main CLI structure
type CLI struct {
	Config   string `short:"c" help:"Config file path (defaults to XDG config dir)"`
	LogLevel string `default:"info" help:"Log level (debug, info, warn, error)"`

	// Serve is the default command
	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the control panel server (default)"`
	Status   StatusCmd   `cmd:"" help:"Show host, service and GPU status"`
	Chat     ChatCmd     `cmd:"" help:"Chat with a persona through a running server"`
	Sessions SessionsCmd `cmd:"" help:"List or delete saved agent sessions"`
	Version  VersionCmd  `cmd:"" help:"Print the version"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("stationd"),
		kong.Description("Control panel for an AI workstation"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// VersionCmd prints the build version
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *kong.Context, cli *CLI) error {
	fmt.Println("stationd " + version)
	return nil
}
