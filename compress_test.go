package abik_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"abik"

	"github.com/stretchr/testify/require"
)

var codecPayload = []byte(strings.Repeat("system/bin/init bootanimation vendor_boot dtbo ", 512))

func TestCodecRoundTrip(t *testing.T) {
	for _, format := range []abik.Format{
		abik.FormatGzip,
		abik.FormatLz4,
		abik.FormatLzma,
		abik.FormatXz,
		abik.FormatBzip2,
	} {
		t.Run(format.String(), func(t *testing.T) {
			dir := t.TempDir()
			blob := filepath.Join(dir, "blob")
			require.NoError(t, os.WriteFile(blob, codecPayload, 0644))

			require.NoError(t, abik.CompressFile(format, blob, nil))

			head, err := os.ReadFile(blob)
			require.NoError(t, err)
			require.Greater(t, len(head), 16)
			require.Equal(t, format, abik.DetectAnyFormat(head[:16]),
				"compressed output must identify as its own format")

			out := filepath.Join(dir, "blob.out")
			require.NoError(t, abik.DecompressFile(format, blob, out, nil))

			decoded, err := os.ReadFile(out)
			require.NoError(t, err)
			require.True(t, bytes.Equal(codecPayload, decoded), "payload must survive the round trip")

			_, err = os.Stat(blob)
			require.True(t, os.IsNotExist(err), "decompression must consume its input")
		})
	}
}

func TestCompressFileKeepsSourceOnFailure(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(blob, codecPayload, 0644))

	err := abik.CompressFile(abik.FormatOther, blob, nil)
	require.Error(t, err)

	var cerr *abik.CodecError
	require.ErrorAs(t, err, &cerr)

	data, readErr := os.ReadFile(blob)
	require.NoError(t, readErr)
	require.True(t, bytes.Equal(codecPayload, data), "source must stay untouched")

	_, statErr := os.Stat(blob + ".tmp")
	require.True(t, os.IsNotExist(statErr), "temporary must be removed")
}

func TestDecompressFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(blob, []byte("certainly not a gzip stream"), 0644))

	out := filepath.Join(dir, "out")
	err := abik.DecompressFile(abik.FormatGzip, blob, out, nil)
	require.Error(t, err)

	_, statErr := os.Stat(out)
	require.True(t, os.IsNotExist(statErr), "partial output must be removed")
	_, statErr = os.Stat(blob)
	require.NoError(t, statErr, "source must survive a failed decode")
}

func TestGenericCompressDecompressActions(t *testing.T) {
	dir := t.TempDir()
	blob := filepath.Join(dir, "ramdisk.img")
	require.NoError(t, os.WriteFile(blob, codecPayload, 0644))

	// no outfile: replaced by ramdisk.img.gz
	require.NoError(t, abik.Compress("gzip", blob, "", nil))
	_, err := os.Stat(blob)
	require.True(t, os.IsNotExist(err))
	gz := blob + ".gz"
	_, err = os.Stat(gz)
	require.NoError(t, err)

	// no outfile: extension stripped again
	require.NoError(t, abik.Decompress(gz, "", nil))
	data, err := os.ReadFile(blob)
	require.NoError(t, err)
	require.True(t, bytes.Equal(codecPayload, data))
}
