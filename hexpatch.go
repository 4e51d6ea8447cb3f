package abik

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"abik/log"

	"github.com/edsrzf/mmap-go"
)

// HexPatch replaces every occurrence of the hex pattern from with to
// inside file, in place through a writable mapping. Returns true when
// at least one occurrence was patched.
func HexPatch(file, from, to string, lg log.Logger) (bool, error) {
	lg = log.Or(lg)

	from_b, err := hex.DecodeString(from)
	if err != nil {
		return false, fmt.Errorf("bad hex pattern [%s]: %w", from, err)
	}
	to_b, err := hex.DecodeString(to)
	if err != nil {
		return false, fmt.Errorf("bad hex pattern [%s]: %w", to, err)
	}
	if len(from_b) == 0 || len(to_b) > len(from_b) {
		return false, fmt.Errorf("replacement pattern is longer than the original")
	}

	fd, err := os.OpenFile(file, os.O_RDWR, 0644)
	if err != nil {
		return false, err
	}
	defer fd.Close()

	m, err := mmap.Map(fd, mmap.RDWR, 0)
	if err != nil {
		return false, err
	}
	defer m.Unmap()

	patched := false
	for off := 0; ; {
		i := bytes.Index(m[off:], from_b)
		if i < 0 {
			break
		}
		off += i
		copy(m[off:], to_b)
		lg.Infof("Patch @ 0x%08X [%s] -> [%s]", off, from, to)
		patched = true
		off += len(to_b)
	}
	if patched {
		if err := m.Flush(); err != nil {
			return patched, err
		}
	}
	return patched, nil
}
