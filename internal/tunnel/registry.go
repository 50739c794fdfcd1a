package tunnel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Record is one running tunnel as persisted in the registry, so separate
// invocations can list and stop tunnels started by other processes.
type Record struct {
	ID        string    `json:"id"`
	HostName  string    `json:"host"`
	Spec      Spec      `json:"spec"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// RecordID builds the registry key for a tunnel on a host.
func RecordID(hostName string, spec Spec) string {
	return fmt.Sprintf("%s@%s", spec, hostName)
}

// Registry is a JSON state file of running tunnels. Writes are atomic
// (temp+rename, 0600); List prunes records whose owning process is gone.
type Registry struct {
	mu   sync.Mutex
	path string
}

// NewRegistry returns a registry over the given state file.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// DefaultRegistryPath returns the default state file location
// (~/.config/sshore/tunnels.json).
func DefaultRegistryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = ".config"
	}
	return filepath.Join(dir, "sshore", "tunnels.json")
}

// Add records a running tunnel, replacing any record with the same ID.
func (r *Registry) Add(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, existing := range records {
		if existing.ID != rec.ID {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, rec)
	return r.save(kept)
}

// Remove deletes a record by ID. Removing an absent ID is not an error.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return err
	}

	kept := records[:0]
	for _, rec := range records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	return r.save(kept)
}

// List returns live records. Records whose process no longer exists are
// pruned from the file as a side effect.
func (r *Registry) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load()
	if err != nil {
		return nil, err
	}

	live := records[:0]
	pruned := false
	for _, rec := range records {
		if processAlive(rec.PID) {
			live = append(live, rec)
		} else {
			pruned = true
		}
	}
	if pruned {
		if err := r.save(live); err != nil {
			return nil, err
		}
	}

	out := make([]Record, len(live))
	copy(out, live)
	return out, nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (r *Registry) load() ([]Record, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tunnel registry: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse tunnel registry: %w", err)
	}
	return records, nil
}

func (r *Registry) save(records []Record) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tunnel registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".tunnels-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp registry: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp registry: %w", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace tunnel registry: %w", err)
	}
	return nil
}
