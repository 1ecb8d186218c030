package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/containers"
	"github.com/elee1766/stationd/src/server"
)

// ServeCmd runs the control panel server
type ServeCmd struct{}

func (s *ServeCmd) Run(ctx *kong.Context, cli *CLI) error {
	logger := createCLILogger(cli.LogLevel)

	path := cli.Config
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", path, "personas", len(cfg.Personas))

	var docker *containers.Manager
	if cfg.Docker.Enabled {
		docker, err = containers.New(cfg.Services, logger)
		if err != nil {
			// The panel stays useful without a container daemon.
			logger.Warn("docker unavailable, container endpoints disabled", "error", err)
			docker = nil
		} else {
			defer docker.Close()
		}
	}

	srv := server.New(cfg, docker, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-runCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
