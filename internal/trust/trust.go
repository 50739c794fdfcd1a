// Package trust persists and verifies SSH host keys in an OpenSSH
// known_hosts compatible file.
package trust

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Decision is the outcome of verifying a host key against the store.
type Decision int

const (
	// DecisionUnknown means no key is recorded for the host.
	DecisionUnknown Decision = iota
	// DecisionKnown means the presented key matches a recorded one.
	DecisionKnown
	// DecisionChanged means a key of the same algorithm is recorded but
	// does not match the presented one.
	DecisionChanged
)

func (d Decision) String() string {
	switch d {
	case DecisionKnown:
		return "known"
	case DecisionChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Result carries the verification decision. On DecisionChanged,
// RecordedFingerprint identifies the conflicting stored key.
type Result struct {
	Decision            Decision
	RecordedFingerprint string
}

// Store is a host key store backed by a single known_hosts file.
// All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store over the given known_hosts file. The file does
// not need to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the default known_hosts location (~/.config/sshore/known_hosts).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = ".config"
	}
	return filepath.Join(dir, "sshore", "known_hosts")
}

// hostLabel renders the host pattern the way OpenSSH does: bare hostname for
// port 22, bracketed [host]:port otherwise.
func hostLabel(host string, port int) string {
	if port == 22 || port == 0 {
		return host
	}
	return fmt.Sprintf("[%s]:%d", host, port)
}

// entry is one parsed known_hosts line.
type entry struct {
	pattern string
	keyType string
	keyB64  string
}

// matchesHost reports whether the entry's host pattern covers label.
// Hashed patterns (|1|salt|hash) are checked with HMAC-SHA1.
func (e *entry) matchesHost(label string) bool {
	for _, pat := range strings.Split(e.pattern, ",") {
		if strings.HasPrefix(pat, "|1|") {
			if matchesHashed(pat, label) {
				return true
			}
			continue
		}
		if pat == label {
			return true
		}
	}
	return false
}

func matchesHashed(pattern, label string) bool {
	parts := strings.SplitN(pattern, "|", 4)
	if len(parts) != 4 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(label))
	return hmac.Equal(mac.Sum(nil), want)
}

// Verify checks the presented key against every recorded entry for the host.
// Any matching key means Known. A same-algorithm entry with a different key
// means Changed. No entry for the host means Unknown.
func (s *Store) Verify(host string, port int, key ssh.PublicKey) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return Result{}, err
	}

	label := hostLabel(host, port)
	keyB64 := base64.StdEncoding.EncodeToString(key.Marshal())
	keyType := key.Type()

	var conflict *entry
	for i := range entries {
		e := &entries[i]
		if !e.matchesHost(label) {
			continue
		}
		if e.keyType == keyType && e.keyB64 == keyB64 {
			return Result{Decision: DecisionKnown}, nil
		}
		if e.keyType == keyType {
			conflict = e
		}
	}

	if conflict != nil {
		fp := fingerprintB64(conflict.keyB64)
		return Result{Decision: DecisionChanged, RecordedFingerprint: fp}, nil
	}
	return Result{Decision: DecisionUnknown}, nil
}

// Record appends the key for the host, replacing any same-algorithm entry.
// The file is rewritten atomically with 0600 permissions.
func (s *Store) Record(host string, port int, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	label := hostLabel(host, port)
	keyType := key.Type()

	kept := entries[:0]
	for _, e := range entries {
		if e.matchesHost(label) && e.keyType == keyType {
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept, entry{
		pattern: label,
		keyType: keyType,
		keyB64:  base64.StdEncoding.EncodeToString(key.Marshal()),
	})

	return s.save(kept)
}

// Remove deletes every recorded key for the host. Removing an absent host
// is not an error.
func (s *Store) Remove(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	label := hostLabel(host, port)
	kept := entries[:0]
	for _, e := range entries {
		if e.matchesHost(label) {
			continue
		}
		kept = append(kept, e)
	}
	return s.save(kept)
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of a public key.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

func fingerprintB64(keyB64 string) string {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return ""
	}
	key, err := ssh.ParsePublicKey(raw)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(key)
}

func (s *Store) load() ([]entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open trust store: %w", err)
	}
	defer f.Close()

	var entries []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, entry{
			pattern: fields[0],
			keyType: fields[1],
			keyB64:  fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}
	return entries, nil
}

func (s *Store) save(entries []entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create trust store directory: %w", err)
	}

	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s %s %s\n", e.pattern, e.keyType, e.keyB64)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".known_hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp trust store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp trust store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set trust store permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp trust store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp trust store: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace trust store: %w", err)
	}
	return nil
}
