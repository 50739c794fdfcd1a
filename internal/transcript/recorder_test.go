package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.cast")
	r, err := New(path, "web1", 220, 50)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, path
}

// readCast parses a cast file into its header and events.
func readCast(t *testing.T, path string) (castHeader, []castEvent) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var h castHeader
	var events []castEvent

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "cast file should have a header line")
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &h))

	for scanner.Scan() {
		var raw [3]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &raw))
		events = append(events, castEvent(raw))
	}
	require.NoError(t, scanner.Err())
	return h, events
}

// =============================================================================
// New
// =============================================================================

func TestNew_CreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.cast")
	r, err := New(path, "db1 (deploy@db1.internal)", 120, 30)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	h, _ := readCast(t, path)
	assert.Equal(t, 2, h.Version)
	assert.Equal(t, 120, h.Width)
	assert.Equal(t, 30, h.Height)
	assert.Equal(t, "db1 (deploy@db1.internal)", h.Title)
	assert.NotZero(t, h.Timestamp)
	assert.NotEmpty(t, h.Env["TERM"])
}

func TestNew_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "rec.cast")
	r, err := New(path, "web1", 80, 24)
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, r.Path())
}

func TestNew_FilePermissions(t *testing.T) {
	_, path := newTestRecorder(t)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// =============================================================================
// Write
// =============================================================================

func TestWrite_AppendsOutputEvents(t *testing.T) {
	r, path := newTestRecorder(t)
	for _, chunk := range []string{"first", "second", "third"} {
		n, err := r.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	require.NoError(t, r.Close())

	_, events := readCast(t, path)
	require.Len(t, events, 3)
	assert.Equal(t, "o", events[0][1])
	assert.Equal(t, "first", events[0][2])
	assert.Equal(t, "second", events[1][2])
	assert.Equal(t, "third", events[2][2])
}

func TestWrite_TimestampsAreRelativeAndMonotonic(t *testing.T) {
	r, path := newTestRecorder(t)
	require.NoError(t, writeString(r, "a"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, writeString(r, "b"))
	require.NoError(t, r.Close())

	_, events := readCast(t, path)
	require.Len(t, events, 2)
	first, ok := events[0][0].(float64)
	require.True(t, ok)
	second, ok := events[1][0].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, first, 0.0)
	assert.Greater(t, second, first)
}

func TestWrite_EmptyChunkSkipped(t *testing.T) {
	r, path := newTestRecorder(t)
	n, err := r.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, r.Close())

	_, events := readCast(t, path)
	assert.Empty(t, events)
}

func TestWrite_AfterClose_ReturnsError(t *testing.T) {
	r, _ := newTestRecorder(t)
	require.NoError(t, r.Close())
	_, err := r.Write([]byte("late"))
	assert.Error(t, err)
}

func TestWrite_ConcurrentWriters_NoRace(t *testing.T) {
	r, _ := newTestRecorder(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Write([]byte("concurrent data")) //nolint:errcheck
		}()
	}
	wg.Wait()
	assert.NoError(t, r.Close())
}

// =============================================================================
// Close
// =============================================================================

func TestClose_Idempotent(t *testing.T) {
	r, _ := newTestRecorder(t)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func writeString(r *Recorder, s string) error {
	_, err := r.Write([]byte(s))
	return err
}
