package credstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *SQLiteBackend) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "creds.db")
	sqlite, err := NewSQLiteBackend(dbPath, "test-passphrase")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return New(sqlite, NewMemoryBackend()), sqlite
}

func TestStore_WriteReadRemove(t *testing.T) {
	store, _ := newTestStore(t)

	for _, scope := range []Scope{Persistent, Ephemeral} {
		t.Run(scope.String(), func(t *testing.T) {
			store.Write(scope, KeyTokens, []byte(`{"access_token":"a"}`))
			assert.Equal(t, []byte(`{"access_token":"a"}`), store.Read(scope, KeyTokens))

			store.Remove(scope, KeyTokens)
			assert.Nil(t, store.Read(scope, KeyTokens))
		})
	}
}

func TestStore_ScopesAreIndependent(t *testing.T) {
	store, _ := newTestStore(t)

	store.Write(Persistent, KeyTokens, []byte("persistent"))
	store.Write(Ephemeral, KeyTokens, []byte("ephemeral"))

	assert.Equal(t, []byte("persistent"), store.Read(Persistent, KeyTokens))
	assert.Equal(t, []byte("ephemeral"), store.Read(Ephemeral, KeyTokens))

	store.ClearScope(Ephemeral)
	assert.Nil(t, store.Read(Ephemeral, KeyTokens))
	assert.Equal(t, []byte("persistent"), store.Read(Persistent, KeyTokens))
}

func TestStore_ClearAll(t *testing.T) {
	store, _ := newTestStore(t)

	store.Write(Persistent, KeyTokens, []byte("x"))
	store.Write(Persistent, KeyUser, []byte("y"))
	store.Write(Ephemeral, KeyUser, []byte("z"))

	store.ClearAll()
	// Clearing twice must be harmless.
	store.ClearAll()

	for _, scope := range []Scope{Persistent, Ephemeral} {
		assert.Nil(t, store.Read(scope, KeyTokens))
		assert.Nil(t, store.Read(scope, KeyUser))
	}
}

func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "creds.db")

	first, err := NewSQLiteBackend(dbPath, "passphrase")
	require.NoError(t, err)
	require.NoError(t, first.Write(KeyTokens, []byte("token bytes")))
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(dbPath, "passphrase")
	require.NoError(t, err)
	defer second.Close()

	value, err := second.Read(KeyTokens)
	require.NoError(t, err)
	assert.Equal(t, []byte("token bytes"), value)
}

func TestSQLiteBackend_WrongPassphrase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "creds.db")

	first, err := NewSQLiteBackend(dbPath, "right")
	require.NoError(t, err)
	require.NoError(t, first.Write(KeyTokens, []byte("secret")))
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(dbPath, "wrong")
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Read(KeyTokens)
	assert.Error(t, err)
}

type failingBackend struct{}

var errBackend = errors.New("backend down")

func (failingBackend) Write(string, []byte) error  { return errBackend }
func (failingBackend) Read(string) ([]byte, error) { return nil, errBackend }
func (failingBackend) Remove(string) error         { return errBackend }
func (failingBackend) Clear() error                { return errBackend }

func TestStore_BackendFailuresDegradeSilently(t *testing.T) {
	store := New(failingBackend{}, NewMemoryBackend())

	// None of these may panic or surface an error to the caller.
	store.Write(Persistent, KeyTokens, []byte("x"))
	assert.Nil(t, store.Read(Persistent, KeyTokens))
	store.Remove(Persistent, KeyTokens)
	store.ClearAll()

	// The healthy scope keeps working.
	store.Write(Ephemeral, KeyTokens, []byte("x"))
	assert.Equal(t, []byte("x"), store.Read(Ephemeral, KeyTokens))
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	key := DeriveKey("passphrase")

	encrypted, err := Encrypt([]byte("plaintext"), key)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "plaintext")

	plaintext, err := Decrypt(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), plaintext)

	_, err = Decrypt(encrypted, DeriveKey("other"))
	assert.Error(t, err)
}
