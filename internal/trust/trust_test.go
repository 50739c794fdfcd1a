package trust

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return key
}

func TestStore(t *testing.T) {
	t.Run("unknown host before recording, known after", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
		key := genKey(t)

		res, err := store.Verify("web1.example.com", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionUnknown, res.Decision)

		require.NoError(t, store.Record("web1.example.com", 22, key))

		res, err = store.Verify("web1.example.com", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionKnown, res.Decision)
	})

	t.Run("changed key is detected with recorded fingerprint", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
		oldKey := genKey(t)
		newKey := genKey(t)

		require.NoError(t, store.Record("web1.example.com", 22, oldKey))

		res, err := store.Verify("web1.example.com", 22, newKey)
		require.NoError(t, err)
		assert.Equal(t, DecisionChanged, res.Decision)
		assert.Equal(t, Fingerprint(oldKey), res.RecordedFingerprint)
	})

	t.Run("port is part of the host identity", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
		key := genKey(t)

		require.NoError(t, store.Record("db1", 2222, key))

		res, err := store.Verify("db1", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionUnknown, res.Decision)

		res, err = store.Verify("db1", 2222, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionKnown, res.Decision)
	})

	t.Run("non-default port uses bracketed file format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		store := NewStore(path)
		key := genKey(t)

		require.NoError(t, store.Record("db1", 2222, key))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "[db1]:2222 "))
	})

	t.Run("recording replaces a same-algorithm key", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
		oldKey := genKey(t)
		newKey := genKey(t)

		require.NoError(t, store.Record("web1", 22, oldKey))
		require.NoError(t, store.Record("web1", 22, newKey))

		res, err := store.Verify("web1", 22, newKey)
		require.NoError(t, err)
		assert.Equal(t, DecisionKnown, res.Decision)

		res, err = store.Verify("web1", 22, oldKey)
		require.NoError(t, err)
		assert.Equal(t, DecisionChanged, res.Decision)
	})

	t.Run("file is written with 0600 permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		store := NewStore(path)

		require.NoError(t, store.Record("web1", 22, genKey(t)))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("matches hashed host entries", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		key := genKey(t)

		// Build a |1|salt|hash entry for web1.example.com by hand.
		salt := make([]byte, 20)
		_, err := rand.Read(salt)
		require.NoError(t, err)
		mac := hmac.New(sha1.New, salt)
		mac.Write([]byte("web1.example.com"))
		line := fmt.Sprintf("|1|%s|%s %s %s\n",
			base64.StdEncoding.EncodeToString(salt),
			base64.StdEncoding.EncodeToString(mac.Sum(nil)),
			key.Type(),
			base64.StdEncoding.EncodeToString(key.Marshal()))
		require.NoError(t, os.WriteFile(path, []byte(line), 0o600))

		store := NewStore(path)
		res, err := store.Verify("web1.example.com", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionKnown, res.Decision)

		res, err = store.Verify("other.example.com", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionUnknown, res.Decision)
	})

	t.Run("remove deletes all keys for a host", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "known_hosts"))
		key := genKey(t)

		require.NoError(t, store.Record("web1", 22, key))
		require.NoError(t, store.Remove("web1", 22))

		res, err := store.Verify("web1", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionUnknown, res.Decision)
	})

	t.Run("ignores comments and malformed lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "known_hosts")
		key := genKey(t)
		content := fmt.Sprintf("# comment\n\nbroken-line\nweb1 %s %s\n",
			key.Type(), base64.StdEncoding.EncodeToString(key.Marshal()))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		store := NewStore(path)
		res, err := store.Verify("web1", 22, key)
		require.NoError(t, err)
		assert.Equal(t, DecisionKnown, res.Decision)
	})
}

func TestFingerprint(t *testing.T) {
	key := genKey(t)
	fp := Fingerprint(key)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))
	// OpenSSH fingerprints drop base64 padding.
	assert.False(t, strings.HasSuffix(fp, "="))
}
