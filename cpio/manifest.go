package cpio

import (
	"fmt"
	"strconv"
	"strings"
)

// Manifest lines are whitespace-separated key=value tokens; path and
// target are always double-quoted, mode is octal with a leading zero:
//
//	path="bin/init" type=file mode=0755 uid=0 gid=0
//	path="bin/sh" type=symlink mode=0754 uid=0 gid=0 target="mksh"
//
// Unrecognized keys are ignored so the format can grow.

func formatManifestLine(e Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `path="%s" type=%s mode=0%03o uid=%d gid=%d`, e.Path, e.Type, e.Mode, e.Uid, e.Gid)
	if e.Type == "symlink" {
		fmt.Fprintf(&sb, ` target="%s"`, e.Target)
	}
	return sb.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// parseManifestLine scans one manifest line into its key/value pairs.
// Unquoted values end at whitespace; an unterminated quote is fatal.
func parseManifestLine(line string, line_no int) (map[string]string, error) {
	pairs := make(map[string]string)
	pos := 0
	for pos < len(line) {
		for pos < len(line) && isSpace(line[pos]) {
			pos++
		}
		if pos >= len(line) {
			break
		}

		eq := strings.IndexByte(line[pos:], '=')
		if eq < 0 {
			break
		}
		key := line[pos : pos+eq]
		pos += eq + 1

		if pos < len(line) && line[pos] == '"' {
			pos++
			end := strings.IndexByte(line[pos:], '"')
			if end < 0 {
				return nil, errf("manifest", line_no, "unterminated quote")
			}
			pairs[key] = line[pos : pos+end]
			pos += end + 1
		} else {
			end := strings.IndexAny(line[pos:], " \t")
			if end < 0 {
				end = len(line) - pos
			}
			pairs[key] = line[pos : pos+end]
			pos += end
		}
	}
	return pairs, nil
}

// manifestEntry validates the parsed pairs and applies the build
// defaults: directories 0755, files and symlinks 0754.
func manifestEntry(pairs map[string]string, line_no int) (Entry, error) {
	e := Entry{
		Path:   pairs["path"],
		Type:   pairs["type"],
		Target: pairs["target"],
	}
	if e.Path == "" {
		return e, errf("manifest", line_no, "missing path")
	}

	if mode_str, ok := pairs["mode"]; ok && mode_str != "" {
		mode, err := strconv.ParseUint(mode_str, 8, 32)
		if err != nil {
			return e, errf("manifest", line_no, "bad mode %q", mode_str)
		}
		e.Mode = uint32(mode) & 07777
	}
	if uid_str, ok := pairs["uid"]; ok && uid_str != "" {
		uid, err := strconv.ParseUint(uid_str, 10, 32)
		if err != nil {
			return e, errf("manifest", line_no, "bad uid %q", uid_str)
		}
		e.Uid = uint32(uid)
	}
	if gid_str, ok := pairs["gid"]; ok && gid_str != "" {
		gid, err := strconv.ParseUint(gid_str, 10, 32)
		if err != nil {
			return e, errf("manifest", line_no, "bad gid %q", gid_str)
		}
		e.Gid = uint32(gid)
	}

	switch e.Type {
	case "dir":
		if e.Mode == 0 {
			e.Mode = 0755
		}
	case "file", "symlink":
		if e.Mode == 0 {
			e.Mode = 0754
		}
	default:
		return e, errf("manifest", line_no, "unsupported entry type: %q", e.Type)
	}
	return e, nil
}
