package config

// Config represents the complete configuration for stationd
type Config struct {
	// Version of the configuration format
	Version string `json:"version"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Agent configuration for the external coding-agent CLI
	Agent AgentConfig `json:"agent"`

	// Personas maps persona name to its configuration. Each persona is an
	// independently-configured instance of the agent chat pipeline.
	Personas map[string]PersonaConfig `json:"personas" validate:"required,min=1,dive"`

	// Docker configuration for container management
	Docker DockerConfig `json:"docker"`

	// Services lists the managed services shown on the panel
	Services []ManagedService `json:"services,omitempty" validate:"dive"`

	// Exec configuration for the whitelisted command endpoint
	Exec ExecConfig `json:"exec"`

	// Debug enables general debug logging
	Debug bool `json:"debug,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	// Addr is the listen address
	Addr string `json:"addr" validate:"required"`

	// UploadDir is where uploaded files are written. The upload endpoint
	// returns paths under this directory.
	UploadDir string `json:"upload_dir,omitempty"`
}

// AgentConfig defines how the external agent CLI is invoked
type AgentConfig struct {
	// Path to the agent executable
	Path string `json:"path" validate:"required"`

	// SkipPermissions passes the agent's unrestricted-execution flag.
	// When false the agent prompts for tool approval and most autonomous
	// work will stall, so operators of a trusted single-user workstation
	// enable it deliberately.
	SkipPermissions bool `json:"skip_permissions"`

	// ExtraPath is prepended to PATH for the subprocess
	ExtraPath string `json:"extra_path,omitempty"`
}

// PersonaConfig defines one agent persona
type PersonaConfig struct {
	// WorkingDir is the working directory the agent runs in
	WorkingDir string `json:"working_dir" validate:"required"`

	// SessionFile overrides the default per-persona session store path
	SessionFile string `json:"session_file,omitempty"`

	// TimeoutSeconds bounds one request's subprocess lifetime
	TimeoutSeconds int `json:"timeout_seconds" validate:"min=0"`

	// AllowedTools restricts the agent to the named tools. Empty means
	// unrestricted, which is a deliberate operator decision.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// Description is shown in the UI's persona picker
	Description string `json:"description,omitempty"`
}

// DockerConfig defines container-management settings
type DockerConfig struct {
	// Enabled turns the container endpoints on
	Enabled bool `json:"enabled"`

	// StackDir is a compose-managed checkout for the stack endpoints
	StackDir string `json:"stack_dir,omitempty"`
}

// ManagedService maps a panel service entry to its container or host process
type ManagedService struct {
	// Name is the service's panel name
	Name string `json:"name" validate:"required"`

	// Container is the docker container name, empty for process services
	Container string `json:"container,omitempty"`

	// Process is a cmdline substring identifying a host process service
	Process string `json:"process,omitempty"`

	// Description is a short human-readable label
	Description string `json:"description,omitempty"`
}

// ExecConfig defines the whitelisted exec endpoint
type ExecConfig struct {
	// AllowedCommands are accepted command prefixes
	AllowedCommands []string `json:"allowed_commands,omitempty"`

	// TimeoutSeconds is the default command timeout
	TimeoutSeconds int `json:"timeout_seconds" validate:"min=0"`
}
