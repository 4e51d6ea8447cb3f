package cpio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"abik/log"
)

const trailerName = "TRAILER!!!"

// safeRelPath normalizes an archive member name and rejects anything
// that would escape the output directory.
func safeRelPath(name string) (string, error) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("entry path escapes output directory: %q", name)
	}
	return clean, nil
}

// Extract unpacks a newc archive into output_dir and writes one
// manifest line per entry, in archive order. Symbolic links are
// recorded in the manifest only; unsupported member types are skipped
// with a log line.
func Extract(archive, output_dir string, lg log.Logger) error {
	lg = log.Or(lg)

	in, err := os.Open(archive)
	if err != nil {
		return &Error{Op: "extract", Err: err}
	}
	defer in.Close()
	r := bufio.NewReaderSize(in, 64*1024)

	if err := os.Mkdir(output_dir, 0755); err != nil {
		return &Error{Op: "extract", Err: err}
	}

	manifest, err := os.Create(filepath.Join(output_dir, ManifestFile))
	if err != nil {
		return &Error{Op: "extract", Err: err}
	}
	defer manifest.Close()
	mw := bufio.NewWriter(manifest)

	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return errf("extract", 0, "truncated header: %v", err)
		}
		if !bytes.Equal(header[:6], []byte("070701")) {
			return errf("extract", 0, "unsupported archive format")
		}

		field := func(offset int) (uint32, error) {
			return x8u(header[offset : offset+8])
		}
		mode, err := field(14)
		if err != nil {
			return &Error{Op: "extract", Err: err}
		}
		uid, _ := field(22)
		gid, _ := field(30)
		filesize, err := field(54)
		if err != nil {
			return &Error{Op: "extract", Err: err}
		}
		namesize, err := field(94)
		if err != nil {
			return &Error{Op: "extract", Err: err}
		}
		if namesize == 0 {
			return errf("extract", 0, "zero namesize")
		}

		namebuf := make([]byte, namesize)
		if _, err := io.ReadFull(r, namebuf); err != nil {
			return errf("extract", 0, "truncated name: %v", err)
		}
		name := string(bytes.TrimRight(namebuf, "\x00"))

		pad := int(align_4(headerSize+uint64(namesize)) - (headerSize + uint64(namesize)))
		if _, err := r.Discard(pad); err != nil {
			return errf("extract", 0, "truncated padding: %v", err)
		}

		if name == trailerName {
			break
		}
		if name == "." || name == ".." {
			continue
		}

		rel, err := safeRelPath(name)
		if err != nil {
			return &Error{Op: "extract", Err: err}
		}
		outpath := filepath.Join(output_dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(outpath), 0755); err != nil {
			return &Error{Op: "extract", Err: err}
		}

		entry := Entry{Path: rel, Mode: mode & 07777, Uid: uid, Gid: gid}
		skip := false

		switch mode & S_IFMT {
		case S_IFDIR:
			entry.Type = "dir"
			if err := os.MkdirAll(outpath, 0755); err != nil {
				return &Error{Op: "extract", Err: err}
			}
		case S_IFREG:
			entry.Type = "file"
			out, err := os.Create(outpath)
			if err != nil {
				return &Error{Op: "extract", Err: err}
			}
			if _, err := io.CopyN(out, r, int64(filesize)); err != nil {
				out.Close()
				return errf("extract", 0, "truncated content for %s: %v", rel, err)
			}
			if err := out.Close(); err != nil {
				return &Error{Op: "extract", Err: err}
			}
		case S_IFLNK:
			entry.Type = "symlink"
			target := make([]byte, filesize)
			if _, err := io.ReadFull(r, target); err != nil {
				return errf("extract", 0, "truncated content for %s: %v", rel, err)
			}
			entry.Target = string(target)
		default:
			// device nodes and the like are not materialized
			lg.Infof("Skipping unsupported entry [%s] (%07o)", rel, mode)
			if _, err := r.Discard(int(filesize)); err != nil {
				return errf("extract", 0, "truncated content for %s: %v", rel, err)
			}
			skip = true
		}

		pad = int(align_4(uint64(filesize)) - uint64(filesize))
		if _, err := r.Discard(pad); err != nil {
			return errf("extract", 0, "truncated padding: %v", err)
		}

		if !skip {
			if _, err := mw.WriteString(formatManifestLine(entry) + "\n"); err != nil {
				return &Error{Op: "extract", Err: err}
			}
		}
	}

	if err := mw.Flush(); err != nil {
		return &Error{Op: "extract", Err: err}
	}
	return manifest.Close()
}
