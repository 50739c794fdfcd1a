// Package conn owns one authenticated multiplexed SSH transport per host.
// All logical channels (shell, exec, sftp, direct-tcpip) are opened through
// the *Client it returns and share that single transport.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/keychain"
	"github.com/aitechnerd/sshore/internal/trust"
)

// Trust policies.
const (
	PolicyStrict    = "strict"
	PolicyAcceptNew = "accept-new"
	PolicyOff       = "off"
)

const maxJumpDepth = 8

var errHostKeyRejected = errors.New("host key rejected")

// Prompter answers interactive trust questions. ConfirmChangedKey is a
// deliberately separate call so a changed key can never be waved through by
// the same reflex that accepts an unknown one.
type Prompter interface {
	ConfirmUnknownKey(host string, port int, fingerprint string) (bool, error)
	ConfirmChangedKey(host string, port int, recorded, presented string) (bool, error)
	AskPassphrase(path string) (string, error)
}

// Supervisor establishes authenticated connections and enforces the host
// key policy. One Supervisor serves any number of concurrent Open calls.
type Supervisor struct {
	Trust    *trust.Store
	Policy   string
	Prompter Prompter

	// Lookup resolves a proxy_jump name to its host record. Nil disables
	// jump-host chains.
	Lookup func(name string) *config.HostRecord

	DefaultUser string
	Timeout     time.Duration
}

// Client is one authenticated transport. The embedded *ssh.Client is safe
// for concurrent channel opens, so interactive, transfer and tunnel
// operations may share it freely.
type Client struct {
	*ssh.Client
	Host string
	Port int
	User string

	jump *Client
}

// Close tears down the transport and, for jump chains, every hop behind it.
func (c *Client) Close() error {
	err := c.Client.Close()
	if c.jump != nil {
		c.jump.Close()
	}
	return err
}

// KeepaliveLoop sends keepalive requests every interval and returns once
// maxMissed consecutive requests fail or ctx is cancelled. A nil return
// means ctx ended; an error means the transport is considered dead.
func (c *Client) KeepaliveLoop(ctx context.Context, interval time.Duration, maxMissed int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _, err := c.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				missed++
				if missed >= maxMissed {
					return fmt.Errorf("keepalive failed %d times: %w", missed, err)
				}
				continue
			}
			missed = 0
		}
	}
}

// Open establishes an authenticated connection to the host described by rec.
// Credentials are tried in priority order: identity file, then agent, then
// keychain password. Failures surface as *ConnectError.
func (s *Supervisor) Open(ctx context.Context, rec *config.HostRecord) (*Client, error) {
	return s.open(ctx, rec, 0)
}

func (s *Supervisor) open(ctx context.Context, rec *config.HostRecord, depth int) (*Client, error) {
	host := rec.Host
	port := rec.EffectivePort()
	user := rec.EffectiveUser(s.DefaultUser)
	timeout := s.Timeout
	if rec.ConnectTimeoutSecs > 0 {
		timeout = time.Duration(rec.ConnectTimeoutSecs) * time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	methods, names, err := s.buildAuthMethods(rec, user, port)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, &ConnectError{
			Kind: ErrAuthFailed, Host: host, Port: port,
			Err: errors.New("no authentication method available"),
		}
	}

	var jumpClient *Client
	var netConn net.Conn

	if rec.ProxyJump != "" {
		if depth >= maxJumpDepth {
			return nil, &ConnectError{
				Kind: ErrNetwork, Host: host, Port: port,
				Err: fmt.Errorf("proxy jump chain deeper than %d hops", maxJumpDepth),
			}
		}
		if s.Lookup == nil {
			return nil, &ConnectError{
				Kind: ErrNetwork, Host: host, Port: port,
				Err: fmt.Errorf("proxy jump %q cannot be resolved", rec.ProxyJump),
			}
		}
		jumpRec := s.Lookup(rec.ProxyJump)
		if jumpRec == nil {
			return nil, &ConnectError{
				Kind: ErrNetwork, Host: host, Port: port,
				Err: fmt.Errorf("unknown proxy jump host %q", rec.ProxyJump),
			}
		}
		jumpClient, err = s.open(ctx, jumpRec, depth+1)
		if err != nil {
			return nil, err
		}
		netConn, err = jumpClient.Dial("tcp", rec.Addr())
		if err != nil {
			jumpClient.Close()
			return nil, s.classifyDialErr(host, port, err)
		}
		log.Printf("[SSH] dialing %s:%d via jump host %s", host, port, rec.ProxyJump)
	} else {
		dialer := net.Dialer{Timeout: timeout}
		netConn, err = dialer.DialContext(ctx, "tcp", rec.Addr())
		if err != nil {
			return nil, s.classifyDialErr(host, port, err)
		}
	}

	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: s.hostKeyCallback(host, port),
		Timeout:         timeout,
	}

	// The handshake deadline covers key exchange and authentication but is
	// lifted afterwards; an established session is never timed out.
	netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, rec.Addr(), sshCfg)
	if err != nil {
		netConn.Close()
		if jumpClient != nil {
			jumpClient.Close()
		}
		return nil, s.classifyHandshakeErr(host, port, names, err)
	}
	netConn.SetDeadline(time.Time{})

	log.Printf("[SSH] connected %s@%s:%d", user, host, port)
	return &Client{
		Client: ssh.NewClient(sshConn, chans, reqs),
		Host:   host,
		Port:   port,
		User:   user,
		jump:   jumpClient,
	}, nil
}

func (s *Supervisor) classifyDialErr(host string, port int, err error) *ConnectError {
	kind := ErrNetwork
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &ConnectError{Kind: kind, Host: host, Port: port, Err: err}
}

func (s *Supervisor) classifyHandshakeErr(host string, port int, methods []string, err error) *ConnectError {
	switch {
	case errors.Is(err, errHostKeyRejected):
		return &ConnectError{Kind: ErrHostKeyRejected, Host: host, Port: port, Err: err}
	case strings.Contains(err.Error(), "unable to authenticate"):
		return &ConnectError{Kind: ErrAuthFailed, Host: host, Port: port, Methods: methods, Err: err}
	case os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return &ConnectError{Kind: ErrTimeout, Host: host, Port: port, Err: err}
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return &ConnectError{Kind: ErrTimeout, Host: host, Port: port, Err: err}
		}
		return &ConnectError{Kind: ErrNetwork, Host: host, Port: port, Err: err}
	}
}

// hostKeyCallback enforces the trust policy against the store.
func (s *Supervisor) hostKeyCallback(host string, port int) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if s.Policy == PolicyOff {
			log.Printf("[TRUST] host key verification disabled, accepting %s from %s:%d",
				trust.Fingerprint(key), host, port)
			return nil
		}

		res, err := s.Trust.Verify(host, port, key)
		if err != nil {
			return fmt.Errorf("%w: trust store: %v", errHostKeyRejected, err)
		}

		switch res.Decision {
		case trust.DecisionKnown:
			return nil

		case trust.DecisionUnknown:
			fp := trust.Fingerprint(key)
			if s.Policy == PolicyAcceptNew {
				log.Printf("[TRUST] recording new host key %s for %s:%d", fp, host, port)
				return s.Trust.Record(host, port, key)
			}
			if s.Prompter == nil {
				return fmt.Errorf("%w: unknown host key %s", errHostKeyRejected, fp)
			}
			ok, err := s.Prompter.ConfirmUnknownKey(host, port, fp)
			if err != nil {
				return fmt.Errorf("%w: %v", errHostKeyRejected, err)
			}
			if !ok {
				return fmt.Errorf("%w: unknown host key %s declined", errHostKeyRejected, fp)
			}
			return s.Trust.Record(host, port, key)

		default: // trust.DecisionChanged
			fp := trust.Fingerprint(key)
			log.Printf("[TRUST] HOST KEY CHANGED for %s:%d: recorded %s, presented %s",
				host, port, res.RecordedFingerprint, fp)
			if s.Prompter == nil {
				return fmt.Errorf("%w: host key changed (recorded %s, presented %s)",
					errHostKeyRejected, res.RecordedFingerprint, fp)
			}
			ok, err := s.Prompter.ConfirmChangedKey(host, port, res.RecordedFingerprint, fp)
			if err != nil {
				return fmt.Errorf("%w: %v", errHostKeyRejected, err)
			}
			if !ok {
				return fmt.Errorf("%w: host key changed (recorded %s, presented %s)",
					errHostKeyRejected, res.RecordedFingerprint, fp)
			}
			return s.Trust.Record(host, port, key)
		}
	}
}

// buildAuthMethods assembles the credential priority order. The returned
// names parallel the methods and are reported on AuthFailed.
func (s *Supervisor) buildAuthMethods(rec *config.HostRecord, user string, port int) ([]ssh.AuthMethod, []string, error) {
	var methods []ssh.AuthMethod
	var names []string

	// Explicit identity material first.
	if rec.IdentityFile != "" {
		signer, err := s.loadIdentity(rec.IdentityFile)
		if err != nil {
			return nil, nil, &ConnectError{
				Kind: ErrAuthFailed, Host: rec.Host, Port: port,
				Err: fmt.Errorf("identity file %s: %w", rec.IdentityFile, err),
			}
		}
		methods = append(methods, ssh.PublicKeys(signer))
		names = append(names, "identity-file")
	}

	// SSH agent, when one is running.
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if agentConn, err := net.Dial("unix", sock); err == nil {
			ag := agent.NewClient(agentConn)
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
			names = append(names, "agent")
		} else {
			log.Printf("[AUTH] ssh agent unreachable: %v", err)
		}
	}

	// Keychain-stored password last.
	password, found, err := keychain.Get(user, rec.Host, port)
	if err != nil {
		log.Printf("[AUTH] keychain lookup failed for %s@%s:%d: %v", user, rec.Host, port, err)
	} else if found {
		methods = append(methods, ssh.Password(password))
		names = append(names, "password")
	}

	return methods, names, nil
}

// loadIdentity reads and parses a private key, asking for a passphrase when
// the key is encrypted.
func (s *Supervisor) loadIdentity(path string) (ssh.Signer, error) {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}

	var passErr *ssh.PassphraseMissingError
	if !errors.As(err, &passErr) {
		return nil, err
	}
	if s.Prompter == nil {
		return nil, fmt.Errorf("key is encrypted and no passphrase prompt is available")
	}
	passphrase, err := s.Prompter.AskPassphrase(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
