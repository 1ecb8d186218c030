package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// DefaultConfigPath returns the default config file location following the
// XDG Base Directory specification.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "stationd", "config.json")
}

// DefaultStateDir returns where runtime state (session files, logs) lives.
func DefaultStateDir() string {
	return filepath.Join(xdg.StateHome, "stationd")
}

// SessionFilePath returns the session store file for a persona, honoring a
// per-persona override. Each persona gets its own file so session ids from
// different personas never share a namespace.
func SessionFilePath(persona string, pc PersonaConfig) string {
	if pc.SessionFile != "" {
		return pc.SessionFile
	}
	return filepath.Join(DefaultStateDir(), "sessions-"+persona+".json")
}
