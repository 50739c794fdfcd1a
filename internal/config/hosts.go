package config

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

// HostRecord describes one saved host.
type HostRecord struct {
	// Name is the unique alias used to select the host on the command line.
	Name string `mapstructure:"name" toml:"name"`

	// Host is the address to dial, hostname or IP.
	Host string `mapstructure:"host" toml:"host"`

	User string `mapstructure:"user" toml:"user,omitempty"`
	Port int    `mapstructure:"port" toml:"port,omitempty"`

	// Env pins the environment tier. Empty means detect from Name/Host/Tags.
	Env  string   `mapstructure:"env" toml:"env,omitempty"`
	Tags []string `mapstructure:"tags" toml:"tags,omitempty"`

	// IdentityFile is the private key tried before agent and keychain password.
	IdentityFile string `mapstructure:"identity_file" toml:"identity_file,omitempty"`

	// ProxyJump is the name of another host record to hop through.
	ProxyJump string `mapstructure:"proxy_jump" toml:"proxy_jump,omitempty"`

	// OnConnect is sent to the remote shell once the session is interactive.
	OnConnect string `mapstructure:"on_connect" toml:"on_connect,omitempty"`

	// Snippets specific to this host, offered before the global ones.
	Snippets []Snippet `mapstructure:"snippets" toml:"snippets,omitempty"`

	// ConnectTimeoutSecs overrides settings.connect_timeout_secs when > 0.
	ConnectTimeoutSecs int `mapstructure:"connect_timeout_secs" toml:"connect_timeout_secs,omitempty"`
}

// EffectivePort returns the record's port, defaulting to 22.
func (h *HostRecord) EffectivePort() int {
	if h.Port > 0 {
		return h.Port
	}
	return 22
}

// EffectiveUser resolves the login user: record user, then defaultUser,
// then the current OS user.
func (h *HostRecord) EffectiveUser(defaultUser string) string {
	if h.User != "" {
		return h.User
	}
	if defaultUser != "" {
		return defaultUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// Addr returns the host:port dial address.
func (h *HostRecord) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.EffectivePort())
}

// FindHost returns the record whose Name matches target, or nil.
func (c *Config) FindHost(target string) *HostRecord {
	for i := range c.Hosts {
		if c.Hosts[i].Name == target {
			return &c.Hosts[i]
		}
	}
	return nil
}

// ResolveTarget maps a command-line target to a host record. A saved name
// wins; anything else is parsed as an ad-hoc [user@]host[:port] string.
func (c *Config) ResolveTarget(target string) (*HostRecord, error) {
	if rec := c.FindHost(target); rec != nil {
		return rec, nil
	}
	return ParseTarget(target)
}

// ParseTarget parses an ad-hoc connection string of the form [user@]host[:port].
func ParseTarget(target string) (*HostRecord, error) {
	rec := &HostRecord{}

	rest := target
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rec.User = rest[:at]
		rest = rest[at+1:]
		if rec.User == "" {
			return nil, fmt.Errorf("invalid target %q: empty user", target)
		}
	}

	if colon := strings.LastIndex(rest, ":"); colon >= 0 {
		portStr := rest[colon+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid target %q: bad port %q", target, portStr)
		}
		rec.Port = port
		rest = rest[:colon]
	}

	if rest == "" {
		return nil, fmt.Errorf("invalid target %q: empty host", target)
	}
	rec.Host = rest
	rec.Name = rest

	return rec, nil
}
