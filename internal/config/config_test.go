package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/internal/config"
	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
)

var configEnv = []string{
	"MCP_COMMAND",
	"MCP_ARGS",
	"MCP_SERVER_URL",
	"MCP_TIMEOUT",
	"LINUX_MCP_USER",
	"SSH_KEY_PATH",
	"SSH_CONFIG_PATH",
	"MAX_TOOL_OUTPUT_CHARS",
	"LOG_LEVEL",
	"MCP_TEST_TOKEN",
}

// clearEnv unsets the configuration variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("", "")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.ServerURL != config.DefaultServerURL {
		t.Errorf("expected default server url, got %q", cfg.ServerURL)
	}
	if cfg.Timeout() != 120*time.Second {
		t.Errorf("expected 120s timeout, got %v", cfg.Timeout())
	}
	if cfg.MaxOutputChars != 8000 {
		t.Errorf("expected 8000 output chars, got %d", cfg.MaxOutputChars)
	}
	if level, _ := cfg.Level(); level != slog.LevelInfo {
		t.Errorf("expected info level, got %v", level)
	}
	if _, ok := cfg.NewTransport(slog.Default()).(*mcp.SSEClient); !ok {
		t.Error("expected HTTP transport by default")
	}
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("MCP_COMMAND", "linux-mcp-server")
	t.Setenv("MCP_ARGS", "--transport, stdio,,--verbose")
	t.Setenv("MCP_TIMEOUT", "30")
	t.Setenv("MAX_TOOL_OUTPUT_CHARS", "2400")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load("", "")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.Command != "linux-mcp-server" {
		t.Errorf("unexpected command %q", cfg.Command)
	}
	if want := []string{"--transport", "stdio", "--verbose"}; !reflect.DeepEqual(cfg.Args, want) {
		t.Errorf("expected args %v, got %v", want, cfg.Args)
	}
	if cfg.ServerURL != "" {
		t.Errorf("expected no server url with a command, got %q", cfg.ServerURL)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Timeout())
	}
	if cfg.MaxOutputChars != 2400 {
		t.Errorf("expected 2400 output chars, got %d", cfg.MaxOutputChars)
	}
	if level, _ := cfg.Level(); level != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", level)
	}
	if _, ok := cfg.NewTransport(slog.Default()).(*mcp.Subprocess); !ok {
		t.Error("expected subprocess transport with a command")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("MCP_TEST_TOKEN", "secret")
	t.Setenv("MCP_TIMEOUT", "45")

	path := writeFile(t, "mcpchat.yaml", `
server_url: http://mcp.internal:8000/mcp
timeout: 10
headers:
  Authorization: Bearer ${MCP_TEST_TOKEN}
linux_mcp_user: ops
log_level: warn
`)

	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.ServerURL != "http://mcp.internal:8000/mcp" {
		t.Errorf("unexpected server url %q", cfg.ServerURL)
	}
	if got := cfg.Headers["Authorization"]; got != "Bearer secret" {
		t.Errorf("expected expanded header, got %q", got)
	}
	if cfg.Timeout() != 45*time.Second {
		t.Errorf("expected the environment to win, got %v", cfg.Timeout())
	}
	if cfg.LinuxMCPUser != "ops" {
		t.Errorf("unexpected user %q", cfg.LinuxMCPUser)
	}
	if level, _ := cfg.Level(); level != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", level)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("LINUX_MCP_USER", "from-env")

	envFile := writeFile(t, "chatbot.env", "LINUX_MCP_USER=from-file\nMCP_SERVER_URL=http://localhost:9000/mcp\n")

	cfg, err := config.Load("", envFile)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.ServerURL != "http://localhost:9000/mcp" {
		t.Errorf("expected server url from env file, got %q", cfg.ServerURL)
	}
	if cfg.LinuxMCPUser != "from-env" {
		t.Errorf("env file must not override the environment, got %q", cfg.LinuxMCPUser)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		config  string
		envFile string
	}{
		{name: "missing explicit env file", envFile: "/nonexistent/chatbot.env"},
		{name: "missing config file", config: "/nonexistent/mcpchat.yaml"},
		{name: "invalid timeout", env: map[string]string{"MCP_TIMEOUT": "soon"}},
		{name: "invalid max output chars", env: map[string]string{"MAX_TOOL_OUTPUT_CHARS": "lots"}},
		{name: "invalid values with empty env file", env: map[string]string{"MCP_TIMEOUT": "soon", "MAX_TOOL_OUTPUT_CHARS": "lots"}, envFile: os.DevNull},
		{name: "negative timeout", env: map[string]string{"MCP_TIMEOUT": "-1"}},
		{name: "invalid log level", env: map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(tt.config, tt.envFile); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := config.Load("/nonexistent/mcpchat.yaml", "")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist error, got %v", err)
	}
}

func TestChildEnv(t *testing.T) {
	clearEnv(t)
	sshConfig := writeFile(t, "ssh_config", "Host *\n")

	tests := []struct {
		name string
		cfg  config.Config
		want map[string]string
	}{
		{
			name: "empty",
			cfg:  config.Config{},
			want: map[string]string{},
		},
		{
			name: "all set",
			cfg:  config.Config{LinuxMCPUser: "ops", SSHKeyPath: "/keys/id_ed25519", SSHConfigPath: sshConfig},
			want: map[string]string{
				"LINUX_MCP_USER":  "ops",
				"SSH_KEY_PATH":    "/keys/id_ed25519",
				"SSH_CONFIG_PATH": sshConfig,
			},
		},
		{
			name: "missing ssh config",
			cfg:  config.Config{SSHConfigPath: "/nonexistent/ssh_config"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ChildEnv(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
