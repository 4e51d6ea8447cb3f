package abik

import (
	"bytes"
	"errors"
	"testing"
)

func TestLittleEndianRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := writeU8(buf, 0xAB); err != nil {
		t.Fatal(err)
	}
	if err := writeU16(buf, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if err := writeU32(buf, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := writeU64(buf, 0x0123456789ABCDEF); err != nil {
		t.Fatal(err)
	}

	// byte order on the wire is little endian regardless of host
	wire := buf.Bytes()
	if wire[0] != 0xAB || wire[1] != 0xEF || wire[2] != 0xBE || wire[3] != 0xEF || wire[4] != 0xBE {
		t.Fatalf("unexpected wire bytes: % x", wire[:5])
	}

	r := bytes.NewReader(wire)
	if v, _ := readU8(r); v != 0xAB {
		t.Fatalf("readU8: %#x", v)
	}
	if v, _ := readU16(r); v != 0xBEEF {
		t.Fatalf("readU16: %#x", v)
	}
	if v, _ := readU32(r); v != 0xDEADBEEF {
		t.Fatalf("readU32: %#x", v)
	}
	if v, _ := readU64(r); v != 0x0123456789ABCDEF {
		t.Fatalf("readU64: %#x", v)
	}
}

func TestShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2})
	if _, err := readU32(r); !errors.Is(err, ErrShortRead) {
		t.Fatalf("Expect ErrShortRead, But: %v", err)
	}
}

func TestCStr(t *testing.T) {
	if got := cstr("board\x00junk\x00"); got != "board" {
		t.Fatalf("cstr: %q", got)
	}
	if got := cstr("no-nul"); got != "no-nul" {
		t.Fatalf("cstr: %q", got)
	}
}

func TestFixedString(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := writeFixedString(buf, "oneplus", 16); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16 {
		t.Fatalf("field width: %d", buf.Len())
	}
	s, err := readFixedString(bytes.NewReader(buf.Bytes()), 16)
	if err != nil {
		t.Fatal(err)
	}
	if s != "oneplus" {
		t.Fatalf("round trip: %q", s)
	}
}

func TestLStringRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	for _, s := range []string{"", "ANDROID!", "console=ttyS0"} {
		if err := writeLString(buf, s); err != nil {
			t.Fatal(err)
		}
	}
	r := bytes.NewReader(buf.Bytes())
	for _, want := range []string{"", "ANDROID!", "console=ttyS0"} {
		got, err := readLString(r)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("round trip: %q != %q", got, want)
		}
	}
}

func TestToHexString(t *testing.T) {
	if got := toHexString([]byte{0xDE, 0xAD}); got != "0xDEAD" {
		t.Fatalf("toHexString: %q", got)
	}
}
