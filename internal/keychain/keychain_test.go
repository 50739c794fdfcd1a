package keychain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeychain(t *testing.T) {
	keyring.MockInit()

	t.Run("set then get returns the password", func(t *testing.T) {
		require.NoError(t, Set("deploy", "web1.example.com", 22, "s3cret"))

		secret, found, err := Get("deploy", "web1.example.com", 22)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "s3cret", secret)
	})

	t.Run("missing entry is not an error", func(t *testing.T) {
		secret, found, err := Get("nobody", "nowhere.example.com", 22)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, "", secret)
	})

	t.Run("entries are keyed by user, host and port", func(t *testing.T) {
		require.NoError(t, Set("deploy", "db1", 22, "one"))
		require.NoError(t, Set("deploy", "db1", 2222, "two"))
		require.NoError(t, Set("root", "db1", 22, "three"))

		secret, found, err := Get("deploy", "db1", 2222)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "two", secret)
	})

	t.Run("delete removes the entry", func(t *testing.T) {
		require.NoError(t, Set("deploy", "gone", 22, "x"))
		require.NoError(t, Delete("deploy", "gone", 22))

		_, found, err := Get("deploy", "gone", 22)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("deleting a missing entry is not an error", func(t *testing.T) {
		assert.NoError(t, Delete("deploy", "never-existed", 22))
	})
}
