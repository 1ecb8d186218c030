package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"

	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/containers"
	"github.com/elee1766/stationd/src/sysmon"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00afff"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00d700"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#d70000"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

// StatusCmd prints a one-shot status summary without needing a running server
type StatusCmd struct {
	Timeout time.Duration `default:"15s" help:"Overall probe timeout"`
}

func (s *StatusCmd) Run(kctx *kong.Context, cli *CLI) error {
	logger := createCLILogger(cli.LogLevel)

	path := cli.Config
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if host, err := sysmon.Host(ctx); err == nil {
		fmt.Println(headerStyle.Render("Host"))
		fmt.Printf("  %s  %s %s  up %s\n\n",
			host.Hostname, host.Platform, host.PlatformVersion,
			(time.Duration(host.UptimeSeconds) * time.Second).String())
	}

	fmt.Println(headerStyle.Render("Services"))
	if docker, derr := containers.New(cfg.Services, logger); derr == nil {
		defer docker.Close()
		for _, svc := range docker.Services(ctx) {
			fmt.Printf("  %-14s %s  %s\n",
				svc.Name, renderStatus(svc.Status), mutedStyle.Render(svc.Description))
		}
	} else {
		fmt.Println(mutedStyle.Render("  docker unavailable: " + derr.Error()))
	}
	fmt.Println()

	fmt.Println(headerStyle.Render("GPU"))
	if gpu, gerr := sysmon.GPU(ctx); gerr == nil {
		fmt.Printf("  %s  %d/%d MB  %d%% util  %d°C  %.0fW\n",
			gpu.Name, gpu.MemoryUsedMB, gpu.MemoryTotalMB,
			gpu.UtilizationPercent, gpu.TemperatureC, gpu.PowerDrawW)
	} else {
		fmt.Println(mutedStyle.Render("  unavailable: " + gerr.Error()))
	}
	fmt.Println()

	fmt.Println(headerStyle.Render("Disk"))
	if du, derr := sysmon.Disk(ctx, "/"); derr == nil {
		fmt.Printf("  /  %.0f/%.0f GB used (%.0f%%)\n",
			du.UsedGB, du.TotalGB, du.UsedPercent)
	} else {
		fmt.Println(mutedStyle.Render("  unavailable: " + derr.Error()))
	}

	return nil
}

func renderStatus(status string) string {
	if strings.HasPrefix(status, "running") {
		return okStyle.Render(status)
	}
	return downStyle.Render(status)
}
