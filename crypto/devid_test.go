package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevIDStable(t *testing.T) {
	seed := make([]byte, SeedSize)
	id := DevID(seed)
	assert.Len(t, id, DevIDLen)
	assert.True(t, addrbook.IsDevID(id))
	assert.Equal(t, id, DevID(seed))

	seed[0] = 1
	assert.NotEqual(t, id, DevID(seed))
}

func TestLoadOrCreateSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "seed")

	first, err := LoadOrCreateSeed(path)
	require.NoError(t, err)
	assert.Len(t, first, SeedSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := LoadOrCreateSeed(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	id, err := DeviceID(path)
	require.NoError(t, err)
	assert.Equal(t, DevID(first), id)
}

func TestLoadOrCreateSeedRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, err := LoadOrCreateSeed(path)
	assert.ErrorContains(t, err, "invalid seed file size")
}
