package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := opener
	opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { opener = prev })
}

func TestResolvePlainValue(t *testing.T) {
	got, err := Resolve("hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestResolveKeyringReference(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set("imap/alice", "s3cret"))

	got, err := Resolve(Ref("imap/alice"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, Delete("imap/alice"))
	_, err = Resolve(Ref("imap/alice"))
	assert.Error(t, err)
}

func TestResolveEmptyReference(t *testing.T) {
	_, err := Resolve(RefPrefix)
	assert.Error(t, err)
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("keyring:x"))
	assert.False(t, IsRef("x"))
}
