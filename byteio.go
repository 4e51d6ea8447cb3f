package abik

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Little-endian primitives shared by the image parsers and the
// configuration sidecar. All reads fail with ErrShortRead when the
// source runs out before the requested width.

func readBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: wanted %d bytes: %v", ErrShortRead, n, err)
	}
	return buf, nil
}

func readU8(r io.Reader) (uint8, error) {
	buf, err := readBytes(r, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU16(r io.Reader) (uint16, error) {
	buf, err := readBytes(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func readU32(r io.Reader) (uint32, error) {
	buf, err := readBytes(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func readU64(r io.Reader) (uint64, error) {
	buf, err := readBytes(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// readFixedString reads exactly n raw bytes and truncates at the first NUL.
func readFixedString(r io.Reader, n int) (string, error) {
	buf, err := readBytes(r, n)
	if err != nil {
		return "", err
	}
	return cstr(string(buf)), nil
}

// cstr truncates s at the first NUL byte.
func cstr(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

func writeAll(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	return nil
}

func writeU8(w io.Writer, v uint8) error {
	return writeAll(w, []byte{v})
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return writeAll(w, buf[:])
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return writeAll(w, buf[:])
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return writeAll(w, buf[:])
}

// writeFixedString emits s NUL-padded (or truncated) to exactly n bytes.
func writeFixedString(w io.Writer, s string, n int) error {
	buf := make([]byte, n)
	copy(buf, s)
	return writeAll(w, buf)
}

// Length-prefixed strings for the configuration sidecar: u32 count + raw
// bytes, no terminator.

// Field strings never get near this; a larger count means the record
// is corrupt.
const maxLStringLen = 1 << 24

func readLString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if n > maxLStringLen {
		return "", fmt.Errorf("string field claims %d bytes", n)
	}
	buf, err := readBytes(r, int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeLString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	return writeAll(w, []byte(s))
}

// toHexString renders buf as 0xAABBCC... for diagnostics.
func toHexString(buf []byte) string {
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range buf {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
