package abik

import (
	"bytes"
	"encoding/binary"
)

// Format identifies the container a ramdisk blob is wrapped in. The
// values of None/Lz4/Gzip/Lzma/Other are part of the configuration
// sidecar wire format and must not change; Xz and Bzip2 exist only for
// the generic compress/decompress actions and are never serialized.
type Format uint8

const (
	FormatNone  Format = 0 // raw cpio newc archive
	FormatLz4   Format = 1
	FormatGzip  Format = 2
	FormatLzma  Format = 3
	FormatXz    Format = 4
	FormatBzip2 Format = 5
	FormatOther Format = 0xFF
)

const (
	BOOT_MAGIC        = "ANDROID!"
	VENDOR_BOOT_MAGIC = "VNDRBOOT"
	GZIP_MAGIC        = "\x1f\x8b"
	LZ4_LEG_MAGIC     = uint32(0x184C2102)
	XZ_MAGIC          = "\xfd7zXZ"
	BZIP_MAGIC        = "BZh"
)

func isCpioNewcHeader(buf []byte) bool {
	if len(buf) < 6 {
		return false
	}
	return bytes.Equal(buf[:6], []byte("070701")) || bytes.Equal(buf[:6], []byte("070702"))
}

func isGzipHeader(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == 0x1F && buf[1] == 0x8B
}

func isLz4LegacyHeader(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(buf) == LZ4_LEG_MAGIC
}

// isLzmaHeader probes for the "alone" container: properties byte,
// little-endian dictionary size (nonzero power of two), 64-bit
// uncompressed size that is either the unknown sentinel or sane.
func isLzmaHeader(buf []byte) bool {
	if len(buf) < 13 {
		return false
	}
	if buf[0] >= 225 {
		return false
	}
	dict_size := binary.LittleEndian.Uint32(buf[1:5])
	if dict_size == 0 || dict_size&(dict_size-1) != 0 {
		return false
	}
	uncompressed_size := binary.LittleEndian.Uint64(buf[5:13])
	if uncompressed_size != ^uint64(0) && uncompressed_size > 1<<32 {
		return false
	}
	return true
}

// DetectFormat classifies the leading bytes of a ramdisk blob. Callers
// should supply at least 16 bytes; the input is never modified.
func DetectFormat(buf []byte) Format {
	switch {
	case isCpioNewcHeader(buf):
		return FormatNone
	case isLz4LegacyHeader(buf):
		return FormatLz4
	case isGzipHeader(buf):
		return FormatGzip
	case isLzmaHeader(buf):
		return FormatLzma
	}
	return FormatOther
}

// DetectAnyFormat additionally recognizes the containers only the
// generic compress/decompress actions handle.
func DetectAnyFormat(buf []byte) Format {
	if len(buf) >= len(XZ_MAGIC) && bytes.Equal(buf[:len(XZ_MAGIC)], []byte(XZ_MAGIC)) {
		return FormatXz
	}
	if len(buf) >= len(BZIP_MAGIC) && bytes.Equal(buf[:len(BZIP_MAGIC)], []byte(BZIP_MAGIC)) {
		return FormatBzip2
	}
	return DetectFormat(buf)
}

func (f Format) String() string {
	switch f {
	case FormatNone:
		return "none"
	case FormatLz4:
		return "lz4_legacy"
	case FormatGzip:
		return "gzip"
	case FormatLzma:
		return "lzma"
	case FormatXz:
		return "xz"
	case FormatBzip2:
		return "bzip2"
	default:
		return "other"
	}
}

// Ext returns the conventional file extension for compressed formats.
func (f Format) Ext() string {
	switch f {
	case FormatLz4:
		return ".lz4"
	case FormatGzip:
		return ".gz"
	case FormatLzma:
		return ".lzma"
	case FormatXz:
		return ".xz"
	case FormatBzip2:
		return ".bz2"
	default:
		return ""
	}
}

func FormatFromName(name string) Format {
	switch name {
	case "none":
		return FormatNone
	case "lz4", "lz4_legacy":
		return FormatLz4
	case "gzip":
		return FormatGzip
	case "lzma":
		return FormatLzma
	case "xz":
		return FormatXz
	case "bzip2":
		return FormatBzip2
	default:
		return FormatOther
	}
}

// compressed reports whether f is a container the codec layer can
// decompress.
func compressed(f Format) bool {
	switch f {
	case FormatLz4, FormatGzip, FormatLzma, FormatXz, FormatBzip2:
		return true
	}
	return false
}
