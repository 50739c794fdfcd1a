// Package transcript records session output as an asciinema v2 cast file,
// playable with `asciinema play`.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// castHeader is the asciinema v2 header, the first line of the file.
type castHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// castEvent is one output event: [elapsed-seconds, "o", data].
type castEvent [3]interface{}

// Recorder streams remote output to a cast file. It implements io.Writer
// so it can sit behind the session's output path. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	started time.Time
	closed  bool
}

// New creates a recorder writing to path, creating parent directories as
// needed. Width and height seed the header so playback matches the
// terminal the session ran in.
func New(path, title string, width, height int) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create transcript %s: %w", path, err)
	}

	r := &Recorder{
		f:       f,
		enc:     json.NewEncoder(f),
		started: time.Now(),
	}

	termName := os.Getenv("TERM")
	if termName == "" {
		termName = "xterm-256color"
	}
	h := castHeader{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: r.started.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": termName},
	}
	if err := r.enc.Encode(h); err != nil {
		f.Close()
		return nil, fmt.Errorf("write transcript header: %w", err)
	}
	return r, nil
}

// Write appends p as an output event with a timestamp relative to the
// start of the recording.
func (r *Recorder) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("transcript already closed")
	}
	elapsed := time.Since(r.started).Seconds()
	if err := r.enc.Encode(castEvent{elapsed, "o", string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close flushes and closes the file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

// Path returns the cast file location.
func (r *Recorder) Path() string {
	return r.f.Name()
}
