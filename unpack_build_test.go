package abik_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"abik"
	"abik/cpio"

	"github.com/stretchr/testify/require"
)

// buildBootV3Image assembles a minimal v3 boot image around the given
// ramdisk blob: header page + ramdisk pages.
func buildBootV3Image(t *testing.T, ramdisk []byte, cmdline string) []byte {
	t.Helper()
	const page = 4096

	buf := &bytes.Buffer{}
	u32 := func(v uint32) { require.NoError(t, binary.Write(buf, binary.LittleEndian, v)) }
	fixed := func(s string, n int) {
		field := make([]byte, n)
		copy(field, s)
		buf.Write(field)
	}
	pad := func() {
		for buf.Len()%page != 0 {
			buf.WriteByte(0)
		}
	}

	buf.WriteString("ANDROID!")
	u32(0)                    // kernel_size
	u32(uint32(len(ramdisk))) // ramdisk_size
	u32(0)                    // os_version
	u32(1580)                 // header_size
	for i := 0; i < 4; i++ {
		u32(0)
	}
	u32(3) // header_version
	fixed(cmdline, 1536)
	pad()
	buf.Write(ramdisk)
	pad()
	return buf.Bytes()
}

// gzipRamdisk packs a single-file cpio and gzips it, returning the
// compressed ramdisk blob.
func gzipRamdisk(t *testing.T, fileName, content string) []byte {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, cpio.ManifestFile),
		[]byte(`path="`+fileName+`" type=file mode=0755 uid=0 gid=0`+"\n"), 0644))

	archive := filepath.Join(t.TempDir(), "ramdisk.cpio")
	require.NoError(t, cpio.Build(dir, archive, nil))
	require.NoError(t, abik.CompressFile(abik.FormatGzip, archive, nil))

	blob, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.Equal(t, abik.FormatGzip, abik.DetectFormat(blob[:16]))
	return blob
}

func TestUnpackBuildGzipRamdiskCycle(t *testing.T) {
	cmdline := "console=ttyS0 androidboot.hardware=foo"
	image := buildBootV3Image(t, gzipRamdisk(t, "init", "hi\n"), cmdline)

	parent := t.TempDir()
	imagePath := filepath.Join(parent, "boot.img")
	require.NoError(t, os.WriteFile(imagePath, image, 0644))

	fd, err := os.Open(imagePath)
	require.NoError(t, err)
	defer fd.Close()

	require.True(t, abik.Unpack(fd, parent, "work", true, nil))
	workdir := filepath.Join(parent, "work")

	// ramdisk blob became an editable directory
	st, err := os.Stat(filepath.Join(workdir, "ramdisk"))
	require.NoError(t, err)
	require.True(t, st.IsDir())

	data, err := os.ReadFile(filepath.Join(workdir, "ramdisk", "init"))
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data))

	manifest, err := os.ReadFile(filepath.Join(workdir, "ramdisk", cpio.ManifestFile))
	require.NoError(t, err)
	require.Equal(t, `path="init" type=file mode=0755 uid=0 gid=0`+"\n", string(manifest))

	// the sidecar exists and validates
	config := filepath.Join(workdir, abik.CONFIG_FILE)
	require.NoError(t, abik.ValidateSHA1(config))

	// rebuild, then unpack the result again
	require.True(t, abik.Build(workdir, nil))
	rebuilt := filepath.Join(workdir, abik.NEW_BOOT)

	fd2, err := os.Open(rebuilt)
	require.NoError(t, err)
	defer fd2.Close()
	require.True(t, abik.Unpack(fd2, parent, "work2", true, nil))
	workdir2 := filepath.Join(parent, "work2")

	data, err = os.ReadFile(filepath.Join(workdir2, "ramdisk", "init"))
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data), "ramdisk content must survive a full cycle")

	info, err := abik.ReadBootConfig(filepath.Join(workdir2, abik.CONFIG_FILE))
	require.NoError(t, err)
	require.Equal(t, uint32(3), info.HeaderVersion)
	require.Equal(t, uint32(4096), info.PageSize)
	require.Equal(t, cmdline, info.Cmdline)
	require.Equal(t, abik.FormatGzip, info.RamdiskCompression)

	// temporaries are gone
	_, err = os.Stat(filepath.Join(workdir, "ramdisk.build"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(workdir, "ramdisk.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestUnpackUniquePath(t *testing.T) {
	image := buildBootV3Image(t, nil, "")
	parent := t.TempDir()
	imagePath := filepath.Join(parent, "boot.img")
	require.NoError(t, os.WriteFile(imagePath, image, 0644))

	for _, want := range []string{"work", "work_1", "work_2"} {
		fd, err := os.Open(imagePath)
		require.NoError(t, err)
		require.True(t, abik.Unpack(fd, parent, "work", false, nil))
		fd.Close()
		require.DirExists(t, filepath.Join(parent, want))
	}
}

func TestBuildRejectsTamperedSidecar(t *testing.T) {
	image := buildBootV3Image(t, gzipRamdisk(t, "init", "hi\n"), "")
	parent := t.TempDir()
	imagePath := filepath.Join(parent, "boot.img")
	require.NoError(t, os.WriteFile(imagePath, image, 0644))

	fd, err := os.Open(imagePath)
	require.NoError(t, err)
	defer fd.Close()
	require.True(t, abik.Unpack(fd, parent, "work", true, nil))

	config := filepath.Join(parent, "work", abik.CONFIG_FILE)
	data, err := os.ReadFile(config)
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, os.WriteFile(config, data, 0644))

	require.False(t, abik.Build(filepath.Join(parent, "work"), nil),
		"a tampered sidecar must abort the build")
	_, err = os.Stat(filepath.Join(parent, "work", abik.NEW_BOOT))
	require.True(t, os.IsNotExist(err), "no image may be written after an integrity failure")
}

func TestUnpackFailureRemovesWorkdir(t *testing.T) {
	parent := t.TempDir()
	imagePath := filepath.Join(parent, "trash.img")
	require.NoError(t, os.WriteFile(imagePath, []byte("GARBAGE!really not a boot image"), 0644))

	fd, err := os.Open(imagePath)
	require.NoError(t, err)
	defer fd.Close()

	require.False(t, abik.Unpack(fd, parent, "work", false, nil))
	_, err = os.Stat(filepath.Join(parent, "work"))
	require.True(t, os.IsNotExist(err), "failed unpack must remove its working directory")
}

func TestVendorUnpackBuildCycle(t *testing.T) {
	// two opaque vendor ramdisk blobs (filler bytes), rebuilt without decoding
	first := bytes.Repeat([]byte{0x11}, 100)
	second := bytes.Repeat([]byte{0x22}, 200)

	const page = 4096
	buf := &bytes.Buffer{}
	u32 := func(v uint32) { require.NoError(t, binary.Write(buf, binary.LittleEndian, v)) }
	u64 := func(v uint64) { require.NoError(t, binary.Write(buf, binary.LittleEndian, v)) }
	fixed := func(s string, n int) {
		field := make([]byte, n)
		copy(field, s)
		buf.Write(field)
	}
	pad := func() {
		for buf.Len()%page != 0 {
			buf.WriteByte(0)
		}
	}

	buf.WriteString("VNDRBOOT")
	u32(4)    // header_version
	u32(page) // page_size
	u32(0x00008000)
	u32(0x01000000)
	u32(300) // vendor_ramdisk_size
	fixed("vendor cmdline", 2048)
	u32(0x00000100)
	fixed("board", 16)
	u32(2128) // header_size
	u32(0)    // dtb_size
	u64(0)
	u32(2 * 108) // table_size
	u32(2)       // entry_num
	u32(108)     // entry_size
	u32(0)       // bootconfig_size
	pad()
	buf.Write(first)
	buf.Write(second)
	pad()
	for _, entry := range []struct {
		size, offset uint32
		name         string
	}{{100, 0, "first"}, {200, 100, "second"}} {
		start := buf.Len()
		u32(entry.size)
		u32(entry.offset)
		u32(1)
		fixed(entry.name, 32)
		for buf.Len() < start+108 {
			buf.WriteByte(0)
		}
	}
	pad()

	parent := t.TempDir()
	imagePath := filepath.Join(parent, "vendor_boot.img")
	require.NoError(t, os.WriteFile(imagePath, buf.Bytes(), 0644))

	fd, err := os.Open(imagePath)
	require.NoError(t, err)
	defer fd.Close()
	require.True(t, abik.Unpack(fd, parent, "vendor", false, nil))
	workdir := filepath.Join(parent, "vendor")

	require.FileExists(t, filepath.Join(workdir, "vendor_ramdisk00"))
	require.FileExists(t, filepath.Join(workdir, "vendor_ramdisk01"))

	require.True(t, abik.Build(workdir, nil))

	info, err := abik.ReadVendorBootConfig(filepath.Join(workdir, abik.CONFIG_FILE))
	require.NoError(t, err)
	require.Equal(t, uint32(2), info.TableEntryNum)

	rebuilt, err := os.ReadFile(filepath.Join(workdir, abik.NEW_VENDOR_BOOT))
	require.NoError(t, err)
	original, err := os.ReadFile(imagePath)
	require.NoError(t, err)
	require.Equal(t, original, rebuilt, "an untouched vendor working tree must rebuild bit-identically")
}
