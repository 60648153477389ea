package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level ERPNerd config.
	WorkspaceDirName = ".erpnerd"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the ERPNerd MCP server.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Hub    HubConfig    `yaml:"hub"`
	MCP    MCPConfig    `yaml:"mcp"`
	Facts  FactsConfig  `yaml:"facts"`
	Pages  []PageSeed   `yaml:"pages"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// HubConfig configures the connection to the ERP hub endpoint.
type HubConfig struct {
	// Hub endpoint (e.g., wss://erp.example.com/cs/session). Required when auto_connect is true.
	URL string `yaml:"url"`
	// Tenant and company select the dataset the session operates on.
	Tenant  string `yaml:"tenant"`
	Company string `yaml:"company"`
	// Bearer token auth. Takes precedence over username/password.
	Token string `yaml:"token"`
	// Basic auth fallback for on-prem deployments.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// AutoConnect controls whether the server dials the hub at startup.
	AutoConnect bool `yaml:"auto_connect"`
	// Per-call invocation timeout (e.g., "30s").
	InvokeTimeout string `yaml:"invoke_timeout"`
	// Keepalive ping interval (e.g., "30s").
	KeepaliveInterval string `yaml:"keepalive_interval"`
	// Dial and protocol negotiation timeout (e.g., "10s").
	HandshakeTimeout string `yaml:"handshake_timeout"`
	// Reconnect attempts after a dropped connection: 0 disables, -1 retries forever.
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectMinDelay string `yaml:"reconnect_min_delay"`
	ReconnectMaxDelay string `yaml:"reconnect_max_delay"`
	// Optional directory for wire frame traces. Empty disables tracing.
	TraceDir string `yaml:"trace_dir"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// FactsConfig controls the embedded deductive engine.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

// PageSeed pre-populates the known-page catalog.
type PageSeed struct {
	ID      string `yaml:"id"`
	Caption string `yaml:"caption"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "erpnerd-mcp",
			Version: "0.1.0",
			LogFile: "erpnerd-mcp.log",
		},
		Hub: HubConfig{
			AutoConnect:       false,
			InvokeTimeout:     "30s",
			KeepaliveInterval: "30s",
			HandshakeTimeout:  "10s",
			ReconnectAttempts: 5,
			ReconnectMinDelay: "1s",
			ReconnectMaxDelay: "30s",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Facts: FactsConfig{
			Enable:          true,
			SchemaPath:      "schemas/hub.mg",
			FactBufferLimit: 2048,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .erpnerd/config.yaml file.
// Returns the workspace root directory (parent of .erpnerd/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .erpnerd/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .erpnerd/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	// Check if already exists
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	// Create directory structure
	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "schemas"),
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	// Write template config
	templateConfig := `# ERPNerd project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# hub:
#   url: "wss://erp.example.com/cs/session"
#   tenant: "default"
#   company: "CRONUS"
#   auto_connect: true
#   trace_dir: ".erpnerd/data/traces"

# facts:
#   schema_path: ".erpnerd/schemas/project.mg"

# pages:
#   - id: "21"
#     caption: "Customer Card"
#   - id: "22"
#     caption: "Customer List"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	// Write .gitignore for data directory
	gitignoreContent := "# Runtime data (logs, traces) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Hub.TraceDir = resolve(cfg.Hub.TraceDir)
	cfg.Facts.SchemaPath = resolve(cfg.Facts.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Hub.AutoConnect && c.Hub.URL == "" {
		return errors.New("hub.url must be provided when hub.auto_connect is true")
	}
	if c.Hub.Token != "" && c.Hub.Username != "" {
		return errors.New("hub.token and hub.username are mutually exclusive")
	}
	return nil
}

// GetInvokeTimeout returns the parsed invocation timeout with a sane default.
func (h HubConfig) GetInvokeTimeout() time.Duration {
	return parseDuration(h.InvokeTimeout, 30*time.Second)
}

// GetKeepaliveInterval returns the parsed keepalive interval with a sane default.
func (h HubConfig) GetKeepaliveInterval() time.Duration {
	return parseDuration(h.KeepaliveInterval, 30*time.Second)
}

// GetHandshakeTimeout returns the parsed handshake timeout with a sane default.
func (h HubConfig) GetHandshakeTimeout() time.Duration {
	return parseDuration(h.HandshakeTimeout, 10*time.Second)
}

// GetReconnectMinDelay returns the parsed minimum reconnect delay with a sane default.
func (h HubConfig) GetReconnectMinDelay() time.Duration {
	return parseDuration(h.ReconnectMinDelay, time.Second)
}

// GetReconnectMaxDelay returns the parsed maximum reconnect delay with a sane default.
func (h HubConfig) GetReconnectMaxDelay() time.Duration {
	return parseDuration(h.ReconnectMaxDelay, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
