package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/spf13/afero"

	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/sessionstore"
)

// SessionsCmd manages the saved session files directly, no server needed
type SessionsCmd struct {
	List   SessionsListCmd   `cmd:"" default:"1" help:"List saved sessions (default)"`
	Delete SessionsDeleteCmd `cmd:"" help:"Delete a saved session"`
}

type SessionsListCmd struct {
	Persona string `short:"p" default:"assistant" help:"Persona whose sessions to list"`
}

func (l *SessionsListCmd) Run(ctx *kong.Context, cli *CLI) error {
	store, err := openStore(cli, l.Persona)
	if err != nil {
		return err
	}

	sessions, err := store.List()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no saved sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  %s\n", s.SessionID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Name)
	}
	return nil
}

type SessionsDeleteCmd struct {
	ID      string `arg:"" help:"Session id to delete"`
	Persona string `short:"p" default:"assistant" help:"Persona whose session to delete"`
}

func (d *SessionsDeleteCmd) Run(ctx *kong.Context, cli *CLI) error {
	store, err := openStore(cli, d.Persona)
	if err != nil {
		return err
	}

	existed, err := store.Delete(d.ID)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("session %s not found", d.ID)
	}
	fmt.Printf("deleted %s\n", d.ID)
	return nil
}

func openStore(cli *CLI, persona string) (*sessionstore.Store, error) {
	path := cli.Config
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return nil, err
	}

	pc, ok := cfg.Personas[persona]
	if !ok {
		return nil, fmt.Errorf("unknown persona %q", persona)
	}

	logger := createCLILogger(cli.LogLevel)
	return sessionstore.New(afero.NewOsFs(), config.SessionFilePath(persona, pc), logger), nil
}
