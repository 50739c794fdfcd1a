package tunnel

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction says which side binds the listening socket.
type Direction string

const (
	// DirectionLocal binds locally and forwards to a remote target (-L).
	DirectionLocal Direction = "local"
	// DirectionRemote binds on the remote host and forwards back (-R).
	DirectionRemote Direction = "remote"
)

// Spec fully describes one forwarding tunnel.
type Spec struct {
	Direction  Direction `json:"direction"`
	BindAddr   string    `json:"bind_addr"`
	BindPort   int       `json:"bind_port"`
	TargetHost string    `json:"target_host"`
	TargetPort int       `json:"target_port"`
	Persist    bool      `json:"persist"`
}

// Bind returns the listener address.
func (s Spec) Bind() string {
	addr := s.BindAddr
	if addr == "" {
		addr = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", addr, s.BindPort)
}

// Target returns the forward destination address.
func (s Spec) Target() string {
	return fmt.Sprintf("%s:%d", s.TargetHost, s.TargetPort)
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%d:%s:%d", s.Direction, s.BindPort, s.TargetHost, s.TargetPort)
}

// ParseSpec parses the ssh-style forward syntax
// [bind_address:]port:host:hostport for the given direction.
func ParseSpec(direction Direction, raw string) (Spec, error) {
	if direction != DirectionLocal && direction != DirectionRemote {
		return Spec{}, fmt.Errorf("invalid tunnel direction %q", direction)
	}

	parts := strings.Split(raw, ":")
	spec := Spec{Direction: direction}

	switch len(parts) {
	case 3:
		// port:host:hostport
	case 4:
		spec.BindAddr = parts[0]
		parts = parts[1:]
	default:
		return Spec{}, fmt.Errorf("invalid forward spec %q: want [bind:]port:host:hostport", raw)
	}

	bindPort, err := parsePort(parts[0])
	if err != nil {
		return Spec{}, fmt.Errorf("invalid forward spec %q: %w", raw, err)
	}
	targetPort, err := parsePort(parts[2])
	if err != nil {
		return Spec{}, fmt.Errorf("invalid forward spec %q: %w", raw, err)
	}
	if parts[1] == "" {
		return Spec{}, fmt.Errorf("invalid forward spec %q: empty target host", raw)
	}

	spec.BindPort = bindPort
	spec.TargetHost = parts[1]
	spec.TargetPort = targetPort
	return spec, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("bad port %q", s)
	}
	return port, nil
}
