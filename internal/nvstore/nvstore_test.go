// internal/nvstore/nvstore_test.go
package nvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.yaml")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("device_name", "badge-7"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "badge-7", reopened.Get("device_name"))
	assert.Empty(t, reopened.Get("missing"))
}

func TestStore_BumpCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	n, err := s.BumpCounter("boot_count")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	n, err = s.BumpCounter("boot_count")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	reopened, err := Open(path)
	require.NoError(t, err)
	n, err = reopened.BumpCounter("boot_count")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestStore_CorruptPartitionReinitialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\x00\xff{{{not yaml"), 0o644))

	s, err := Open(path)
	require.NoError(t, err, "corrupt partition must not fail boot")
	assert.Empty(t, s.Get("boot_count"))

	// The erased partition is usable again.
	require.NoError(t, s.Set("k", "v"))
	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "v", reopened.Get("k"))
}
