package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWatcher(t *testing.T, extra ...string) *PromptWatcher {
	t.Helper()
	w, err := NewPromptWatcher(extra)
	require.NoError(t, err)
	return w
}

func TestPromptWatcher_DetectsSudoPrompt(t *testing.T) {
	w := newWatcher(t)
	assert.True(t, w.Scan([]byte("[sudo] password for alice: ")))
}

func TestPromptWatcher_FiresOnceAcrossSplitChunks(t *testing.T) {
	prompt := []byte("[sudo] password for alice: ")

	// Every possible split point must produce exactly one fire.
	for split := 1; split < len(prompt); split++ {
		w := newWatcher(t)
		fires := 0
		if w.Scan(prompt[:split]) {
			fires++
		}
		if w.Scan(prompt[split:]) {
			fires++
		}
		assert.Equal(t, 1, fires, "split at %d", split)
	}
}

func TestPromptWatcher_DoesNotRefireOnTrailingOutput(t *testing.T) {
	w := newWatcher(t)
	require.True(t, w.Scan([]byte("[sudo] password for alice: ")))

	// Later unrelated output must not re-trigger.
	assert.False(t, w.Scan([]byte("\r\n")))
	assert.False(t, w.Scan([]byte("alice@web1:~$ ")))
}

func TestPromptWatcher_FiresAgainForNewOccurrence(t *testing.T) {
	w := newWatcher(t)
	require.True(t, w.Scan([]byte("[sudo] password for alice: ")))
	w.Reset()

	assert.False(t, w.Scan([]byte("Sorry, try again.\r\n")))
	assert.True(t, w.Scan([]byte("[sudo] password for alice: ")))
}

func TestPromptWatcher_OnlyMatchesAtStreamEnd(t *testing.T) {
	w := newWatcher(t)
	// The prompt text followed by more output means the remote is no longer
	// waiting at it.
	assert.False(t, w.Scan([]byte("grep 'password for bob:' /var/log/auth.log\r\n")))
}

func TestPromptWatcher_BuiltinFingerprints(t *testing.T) {
	cases := []string{
		"[sudo] password for alice: ",
		"Password: ",
		"Enter passphrase for key '/home/alice/.ssh/id_ed25519': ",
		"alice@web1's password: ",
	}
	for _, prompt := range cases {
		w := newWatcher(t)
		assert.True(t, w.Scan([]byte(prompt)), "prompt %q", prompt)
	}
}

func TestPromptWatcher_ConfiguredExtraPattern(t *testing.T) {
	w := newWatcher(t, `doas \(\S+\) password:\s*$`)
	assert.True(t, w.Scan([]byte("doas (alice) password: ")))
}

func TestPromptWatcher_InvalidExtraPattern(t *testing.T) {
	_, err := NewPromptWatcher([]string{"("})
	assert.Error(t, err)
}

func TestPromptWatcher_WindowStaysBounded(t *testing.T) {
	w := newWatcher(t)
	// Flood with noise far beyond the window, then a prompt.
	for i := 0; i < 100; i++ {
		w.Scan(make([]byte, 1024))
	}
	assert.LessOrEqual(t, len(w.window), windowCap)
	assert.True(t, w.Scan([]byte("[sudo] password for alice: ")))
}
