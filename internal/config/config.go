package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Config holds all application settings loaded from file and environment variables.
// Struct tags are used by the Viper mapstructure decoder.
type Config struct {
	Settings Settings     `mapstructure:"settings" toml:"settings"`
	Hosts    []HostRecord `mapstructure:"hosts" toml:"hosts"`
}

// Settings are global options shared by every host record.
type Settings struct {
	// DefaultUser is used when a host record has no user of its own.
	// Empty means the current OS user.
	DefaultUser string `mapstructure:"default_user" toml:"default_user,omitempty"`

	// ConnectTimeoutSecs bounds connection establishment and authentication.
	// Never applied to an already-established session.
	ConnectTimeoutSecs int `mapstructure:"connect_timeout_secs" toml:"connect_timeout_secs,omitempty"`

	// HostKeyPolicy controls trust-store behaviour: "strict", "accept-new" or "off".
	HostKeyPolicy string `mapstructure:"host_key_policy" toml:"host_key_policy,omitempty"`

	// TabTitleTemplate renders the terminal tab title on connect.
	// Placeholders: {name}, {host}, {user}, {env}, {badge}, {label}
	TabTitleTemplate string `mapstructure:"tab_title_template" toml:"tab_title_template,omitempty"`

	// EnvColors maps an environment tier to its theming.
	EnvColors map[string]EnvColor `mapstructure:"env_colors" toml:"env_colors,omitempty"`

	// SnippetTrigger is the keystroke sequence that opens the snippet picker
	// during an interactive session. Empty disables detection.
	SnippetTrigger string `mapstructure:"snippet_trigger" toml:"snippet_trigger,omitempty"`

	// Snippets available on every host, merged after host-specific ones.
	Snippets []Snippet `mapstructure:"snippets" toml:"snippets,omitempty"`

	// PromptPatterns extends the built-in sudo/password prompt fingerprints.
	// Each entry is a regular expression matched against recent remote output.
	PromptPatterns []string `mapstructure:"prompt_patterns" toml:"prompt_patterns,omitempty"`

	// OnConnectDelayMs is the pause before sending a host's on_connect command.
	OnConnectDelayMs int `mapstructure:"on_connect_delay_ms" toml:"on_connect_delay_ms,omitempty"`

	// ExecConcurrency is the default fan-out width for multi-host exec.
	ExecConcurrency int `mapstructure:"exec_concurrency" toml:"exec_concurrency,omitempty"`
}

// EnvColor is the theming for one environment tier.
type EnvColor struct {
	FG    string `mapstructure:"fg" toml:"fg"`
	BG    string `mapstructure:"bg" toml:"bg"`
	Badge string `mapstructure:"badge" toml:"badge"`
	Label string `mapstructure:"label" toml:"label"`
}

// Snippet is a named command that can be injected into an interactive session.
type Snippet struct {
	Name        string `mapstructure:"name" toml:"name"`
	Command     string `mapstructure:"command" toml:"command"`
	AutoExecute bool   `mapstructure:"auto_execute" toml:"auto_execute,omitempty"`
}

// DefaultPath returns the default config file location (~/.config/sshore/config.toml).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = ".config"
	}
	return filepath.Join(dir, "sshore", "config.toml")
}

// Load reads configuration from a file and allows environment variables to override any value.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("settings.default_user", "SSHORE_DEFAULT_USER")
	v.BindEnv("settings.connect_timeout_secs", "SSHORE_CONNECT_TIMEOUT")
	v.BindEnv("settings.host_key_policy", "SSHORE_HOST_KEY_POLICY")
	v.BindEnv("settings.snippet_trigger", "SSHORE_SNIPPET_TRIGGER")
	v.BindEnv("settings.exec_concurrency", "SSHORE_EXEC_CONCURRENCY")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Save writes cfg to path atomically: the TOML is written to a temp file in
// the same directory, fsynced and renamed over the target. A crash mid-write
// can never leave a truncated config behind.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// isNotFound returns true when err indicates the config file does not exist.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && os.IsNotExist(pathErr)
}

// setDefaults defines baseline values for all configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("settings.connect_timeout_secs", 15)
	v.SetDefault("settings.host_key_policy", "strict")
	v.SetDefault("settings.tab_title_template", "{badge} {name} ({user}@{host})")
	v.SetDefault("settings.snippet_trigger", "~~")
	v.SetDefault("settings.on_connect_delay_ms", 500)
	v.SetDefault("settings.exec_concurrency", 5)
	v.SetDefault("settings.env_colors", map[string]any{
		"production":  map[string]any{"fg": "#FFFFFF", "bg": "#CC0000", "badge": "🔴", "label": "PROD"},
		"staging":     map[string]any{"fg": "#000000", "bg": "#CCAA00", "badge": "🟡", "label": "STAGE"},
		"development": map[string]any{"fg": "#FFFFFF", "bg": "#007700", "badge": "🟢", "label": "DEV"},
		"local":       map[string]any{"fg": "#FFFFFF", "bg": "#555555", "badge": "⚪", "label": "LOCAL"},
		"testing":     map[string]any{"fg": "#FFFFFF", "bg": "#0055CC", "badge": "🔵", "label": "TEST"},
	})
}
