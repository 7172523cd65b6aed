// Package config loads the chatbot configuration from a .env file, an optional YAML file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to settings left unset by every source.
const (
	DefaultServerURL      = "http://linux-mcp-server:8000/mcp"
	DefaultTimeoutSeconds = 120
	DefaultMaxOutputChars = 8000
	DefaultLogLevel       = "info"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config selects the MCP peer and tunes the client.
type Config struct {
	// Command starts a local peer over stdio. When empty, ServerURL is used.
	Command string `yaml:"command" env:"MCP_COMMAND"`
	// Args are passed to Command. MCP_ARGS is comma separated.
	Args    []string `yaml:"args"`
	RawArgs string   `yaml:"-" env:"MCP_ARGS"`

	ServerURL string `yaml:"server_url" env:"MCP_SERVER_URL"`
	// Headers are sent with every HTTP request, e.g. Authorization.
	Headers map[string]string `yaml:"headers"`

	TimeoutSeconds int `yaml:"timeout" env:"MCP_TIMEOUT,strict"`

	// Forwarded to the child process.
	LinuxMCPUser  string `yaml:"linux_mcp_user" env:"LINUX_MCP_USER"`
	SSHKeyPath    string `yaml:"ssh_key_path" env:"SSH_KEY_PATH"`
	SSHConfigPath string `yaml:"ssh_config_path" env:"SSH_CONFIG_PATH"`

	MaxOutputChars int    `yaml:"max_tool_output_chars" env:"MAX_TOOL_OUTPUT_CHARS,strict"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Load reads envFile into the environment without overriding variables already set, then
// configPath, then decodes the environment over it. An empty envFile means ".env", and a
// missing .env or an empty configPath is not an error.
func Load(configPath, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", configPath, err)
		}
		cfg.expandEnv()
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: failed to decode environment: %w", err)
	}
	if cfg.RawArgs != "" {
		cfg.Args = splitArgs(cfg.RawArgs)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}

	err := godotenv.Load(envFile)
	if err == nil || (!explicit && errors.Is(err, os.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("config: failed to load %s: %w", envFile, err)
}

func (c *Config) applyDefaults() {
	if c.Command == "" && c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.MaxOutputChars == 0 {
		c.MaxOutputChars = DefaultMaxOutputChars
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("config: timeout must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxOutputChars < 0 {
		return fmt.Errorf("config: max tool output chars must be positive, got %d", c.MaxOutputChars)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Command = expandEnvString(c.Command)
	for i := range c.Args {
		c.Args[i] = expandEnvString(c.Args[i])
	}
	c.ServerURL = expandEnvString(c.ServerURL)
	for k, v := range c.Headers {
		c.Headers[k] = expandEnvString(v)
	}
	c.LinuxMCPUser = expandEnvString(c.LinuxMCPUser)
	c.SSHKeyPath = expandEnvString(c.SSHKeyPath)
	c.SSHConfigPath = expandEnvString(c.SSHConfigPath)
}

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func splitArgs(raw string) []string {
	var args []string
	for _, arg := range strings.Split(raw, ",") {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	return args
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// ChildEnv returns the variables added to the environment of a child peer. SSH_CONFIG_PATH
// is only forwarded when the file exists.
func (c *Config) ChildEnv() map[string]string {
	env := make(map[string]string)
	if c.LinuxMCPUser != "" {
		env["LINUX_MCP_USER"] = c.LinuxMCPUser
	}
	if c.SSHKeyPath != "" {
		env["SSH_KEY_PATH"] = c.SSHKeyPath
	}
	if c.SSHConfigPath != "" {
		if _, err := os.Stat(c.SSHConfigPath); err == nil {
			env["SSH_CONFIG_PATH"] = c.SSHConfigPath
		}
	}
	return env
}

// NewTransport builds the transport for the configured peer: a child process when Command
// is set, streamable HTTP otherwise.
func (c *Config) NewTransport(logger *slog.Logger) mcp.ClientTransport {
	if c.Command != "" {
		return mcp.NewSubprocess(mcp.SubprocessConfig{
			Command: c.Command,
			Args:    c.Args,
			Env:     c.ChildEnv(),
			Logger:  logger,
		})
	}

	options := []mcp.SSEClientOption{mcp.WithSSEClientLogger(logger)}
	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		options = append(options, mcp.WithSSEClientHeader(k, c.Headers[k]))
	}
	return mcp.NewSSEClient(c.ServerURL, &http.Client{}, options...)
}
