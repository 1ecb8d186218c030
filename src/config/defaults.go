package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns the configuration used when no config file exists.
// The two stock personas share one agent binary but differ in working
// directory, session namespace and timeout.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}

	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			Addr:      ":8080",
			UploadDir: filepath.Join(home, ".stationd", "uploads"),
		},
		Agent: AgentConfig{
			Path:            filepath.Join(home, ".local", "bin", "claude"),
			SkipPermissions: true,
			ExtraPath:       filepath.Join(home, ".local", "bin"),
		},
		Personas: map[string]PersonaConfig{
			"assistant": {
				WorkingDir:     home,
				TimeoutSeconds: 300,
				Description:    "General workstation assistant",
			},
			"researcher": {
				WorkingDir:     filepath.Join(home, "research"),
				TimeoutSeconds: 900,
				Description:    "Long-running research tasks",
			},
		},
		Docker: DockerConfig{
			Enabled: true,
		},
		Services: []ManagedService{
			{Name: "comfyui", Container: "comfyui", Description: "Image/Video generation"},
			{Name: "open-webui", Container: "open-webui", Description: "Chat interface"},
			{Name: "chatterbox", Container: "chatterbox-tts-server", Description: "Text-to-speech"},
			{Name: "ultravox", Container: "ultravox-vllm", Description: "Speech LLM"},
			{Name: "ollama", Process: "ollama.*serve", Description: "LLM inference engine"},
		},
		Exec: ExecConfig{
			AllowedCommands: []string{
				"nvidia-smi",
				"df -h",
				"free -h",
				"uptime",
				"docker stats --no-stream",
				"ollama list",
			},
			TimeoutSeconds: 30,
		},
	}
}
