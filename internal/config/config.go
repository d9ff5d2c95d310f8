package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	ProviderOllama    = "ollama"
	ProviderClaudeCLI = "claude-cli"

	ModeText   = "text"
	ModeNative = "native"

	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Agent   AgentConfig   `yaml:"agent"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	Provider       string `yaml:"provider"`       // "ollama" or "claude-cli"
	URL            string `yaml:"url"`            // default "http://localhost:11434"
	Model          string `yaml:"model"`          // default "llama3.1:8b"
	CLI            string `yaml:"cli"`            // path to claude binary (default: "claude", resolved via PATH)
	ContextWindow  int    `yaml:"contextWindow"`  // 0 asks the backend
	TimeoutSeconds int    `yaml:"timeoutSeconds"` // default 300
}

type AgentConfig struct {
	MaxSteps              int    `yaml:"maxSteps"` // default 10
	Mode                  string `yaml:"mode"`     // "text" or "native"
	Grammar               string `yaml:"grammar"`  // "plain" or "pipe"
	Planning              bool   `yaml:"planning"`
	Verify                bool   `yaml:"verify"`
	Safety                bool   `yaml:"safety"`
	CommandTimeoutSeconds int    `yaml:"commandTimeoutSeconds"` // default 30
	Shell                 string `yaml:"shell"`                 // default "/bin/sh"
	WorkDir               string `yaml:"workDir"`               // default: current directory
}

type ServerConfig struct {
	Port    int    `yaml:"port"`    // default 7118
	Host    string `yaml:"host"`    // default "127.0.0.1"
	Workers int    `yaml:"workers"` // default 1
}

type StoreConfig struct {
	Type    string `yaml:"type"`    // "bolt" or "memory"
	DataDir string `yaml:"dataDir"` // default "~/.reagent/data"
}

type LogConfig struct {
	Level  string `yaml:"level"`  // empty: "warn" for ask, "info" for serve
	Format string `yaml:"format"` // default "console"
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:       ProviderOllama,
			URL:            "http://localhost:11434",
			Model:          "llama3.1:8b",
			CLI:            "claude",
			TimeoutSeconds: 300,
		},
		Agent: AgentConfig{
			MaxSteps:              10,
			Mode:                  ModeText,
			Grammar:               "plain",
			Verify:                true,
			Safety:                true,
			CommandTimeoutSeconds: 30,
			Shell:                 "/bin/sh",
		},
		Server: ServerConfig{
			Port:    7118,
			Host:    "127.0.0.1",
			Workers: 1,
		},
		Store: StoreConfig{
			Type:    StoreMemory,
			DataDir: filepath.Join(homeDir(), "data"),
		},
		Log: LogConfig{
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path falls back to
// DefaultPath, and a missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum values and budgets.
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case ProviderOllama, ProviderClaudeCLI:
	default:
		return fmt.Errorf("%w: unknown backend provider %q", ErrInvalid, c.Backend.Provider)
	}
	switch c.Agent.Mode {
	case ModeText:
	case ModeNative:
		if c.Backend.Provider != ProviderOllama {
			return fmt.Errorf("%w: native tool calling requires the %s provider", ErrInvalid, ProviderOllama)
		}
	default:
		return fmt.Errorf("%w: unknown agent mode %q", ErrInvalid, c.Agent.Mode)
	}
	switch c.Agent.Grammar {
	case "plain", "pipe":
	default:
		return fmt.Errorf("%w: unknown grammar %q", ErrInvalid, c.Agent.Grammar)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("%w: maxSteps must be positive, got %d", ErrInvalid, c.Agent.MaxSteps)
	}
	if c.Agent.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: commandTimeoutSeconds must be positive", ErrInvalid)
	}
	switch c.Store.Type {
	case StoreMemory, StoreBolt:
	default:
		return fmt.Errorf("%w: unknown store type %q", ErrInvalid, c.Store.Type)
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("%w: server workers must be positive", ErrInvalid)
	}
	return nil
}

// ServerAddress returns the listen address in "host:port" format.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DBPath returns the full path to the BoltDB file (DataDir + "/reagent.db").
func (c *Config) DBPath() string {
	return filepath.Join(c.Store.DataDir, "reagent.db")
}

// CommandTimeout is the ceiling for one shell action.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Agent.CommandTimeoutSeconds) * time.Second
}

// BackendTimeout bounds one HTTP exchange with the model backend.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// DefaultPath is ~/.reagent/config.yaml.
func DefaultPath() string {
	return filepath.Join(homeDir(), "config.yaml")
}

// homeDir resolves ~/.reagent, falling back to /tmp/reagent if the home
// directory cannot be determined.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "reagent")
	}
	return filepath.Join(home, ".reagent")
}

// Template is a commented starting point written by "reagent init".
const Template = `# reagent configuration
backend:
  provider: ollama          # ollama | claude-cli
  url: http://localhost:11434
  model: llama3.1:8b
  cli: claude               # used by the claude-cli provider
  contextWindow: 0          # 0 asks the backend
  timeoutSeconds: 300

agent:
  maxSteps: 10
  mode: text                # text | native
  grammar: plain            # plain | pipe
  planning: false
  verify: true
  safety: true
  commandTimeoutSeconds: 30
  shell: /bin/sh

server:
  host: 127.0.0.1
  port: 7118
  workers: 1

store:
  type: memory              # memory | bolt

log:
  # level: info             # default: warn for ask, info for serve
  format: console           # console | json
`
