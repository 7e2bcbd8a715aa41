package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_NotFoundMessage(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "tenants.json")
	req.NoError(os.WriteFile(path, []byte(`{"alice":{"notFoundMessage":"no such thing"},"bob":{}}`), 0o644))

	s := NewFileStore(path)
	req.NoError(s.Load())

	req.Equal("no such thing", s.NotFoundMessage("alice"))
	req.Equal(DefaultNotFoundMessage, s.NotFoundMessage("bob"))
	req.Equal(DefaultNotFoundMessage, s.NotFoundMessage("carol"))
}

func TestFileStore_MissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, s.Load())
	require.Equal(t, DefaultNotFoundMessage, s.NotFoundMessage("alice"))
}

func TestFileStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2`), 0o644))
	require.Error(t, NewFileStore(path).Load())
}

func TestStatic(t *testing.T) {
	s := Static{"alice": {NotFoundMessage: "nope"}}
	require.Equal(t, "nope", s.NotFoundMessage("alice"))
	require.Equal(t, DefaultNotFoundMessage, s.NotFoundMessage("bob"))
}
