package abik_test

import (
	"os"
	"path/filepath"
	"testing"

	"abik"

	"github.com/stretchr/testify/require"
)

func TestHexPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("skip_override skip_override keep"), 0644))

	// "skip_override" -> "want_initramfs" (one byte longer)
	patched, err := abik.HexPatch(path,
		"736b69705f6f76657272696465",
		"77616e745f696e697472616d6673", nil)
	require.Error(t, err, "longer replacement must be rejected")
	require.False(t, patched)

	patched, err = abik.HexPatch(path,
		"736b69705f6f76657272696465",
		"77616e745f696e697472616d66", nil)
	require.NoError(t, err)
	require.True(t, patched)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "want_initramf want_initramf keep", string(data))
}

func TestHexPatchNoMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("nothing to see"), 0644))

	patched, err := abik.HexPatch(path, "deadbeef", "cafebabe", nil)
	require.NoError(t, err)
	require.False(t, patched)
}

func TestHexPatchBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	_, err := abik.HexPatch(path, "zz", "00", nil)
	require.Error(t, err)
}
