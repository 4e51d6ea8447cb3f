package cpio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"abik/log"
)

// newc headers are 110 ASCII bytes: the magic plus thirteen 8-digit
// uppercase hex fields. ino, mtime, dev and check are always zero here;
// the bootloader's cpio loader ignores them.
func formatHeader(mode, uid, gid, nlink, filesize, namesize uint32) string {
	return fmt.Sprintf("070701%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X",
		0,        // ino
		mode,     // mode
		uid,      // uid
		gid,      // gid
		nlink,    // nlink
		0,        // mtime
		filesize, // filesize
		0,        // devmajor
		0,        // devminor
		0,        // rdevmajor
		0,        // rdevminor
		namesize, // namesize
		0,        // check
	)
}

var pad4 = []byte{0, 0, 0}

func namePadding(namesize uint32) []byte {
	n := align_4(headerSize+uint64(namesize)) - (headerSize + uint64(namesize))
	return pad4[:n]
}

func dataPadding(filesize uint32) []byte {
	n := align_4(uint64(filesize)) - uint64(filesize)
	return pad4[:n]
}

// Build reconstructs a newc archive from input_dir's manifest. File
// content comes from input_dir, symlink content is the manifest's
// target string, directories carry none. The manifest order is the
// archive order.
func Build(input_dir, archive string, lg log.Logger) error {
	lg = log.Or(lg)

	manifest, err := os.Open(filepath.Join(input_dir, ManifestFile))
	if err != nil {
		return &Error{Op: "build", Err: err}
	}
	defer manifest.Close()

	out, err := os.Create(archive)
	if err != nil {
		return &Error{Op: "build", Err: err}
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, 64*1024)

	fail := func(err error) error {
		out.Close()
		os.Remove(archive)
		return err
	}

	scanner := bufio.NewScanner(manifest)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line_no := 0
	for scanner.Scan() {
		line_no++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		pairs, err := parseManifestLine(line, line_no)
		if err != nil {
			return fail(err)
		}
		entry, err := manifestEntry(pairs, line_no)
		if err != nil {
			return fail(err)
		}

		var file_type uint32
		var filesize uint32
		nlink := uint32(1)
		content_path := ""

		switch entry.Type {
		case "dir":
			file_type = S_IFDIR
			nlink = 2
		case "file":
			file_type = S_IFREG
			content_path = filepath.Join(input_dir, filepath.FromSlash(entry.Path))
			st, err := os.Stat(content_path)
			if err != nil {
				return fail(errf("build", line_no, "file not found: %s", entry.Path))
			}
			filesize = uint32(st.Size())
		case "symlink":
			file_type = S_IFLNK
			filesize = uint32(len(entry.Target))
		}

		mode := file_type | (entry.Mode & 07777)
		namesize := uint32(len(entry.Path) + 1)

		w.WriteString(formatHeader(mode, entry.Uid, entry.Gid, nlink, filesize, namesize))
		w.WriteString(entry.Path)
		w.WriteByte(0)
		w.Write(namePadding(namesize))

		if entry.Type == "file" {
			fd, err := os.Open(content_path)
			if err != nil {
				return fail(&Error{Op: "build", Line: line_no, Err: err})
			}
			n, err := io.Copy(w, fd)
			fd.Close()
			if err != nil {
				return fail(&Error{Op: "build", Line: line_no, Err: err})
			}
			if n != int64(filesize) {
				return fail(errf("build", line_no, "%s changed size while packing", entry.Path))
			}
		} else if entry.Type == "symlink" {
			w.WriteString(entry.Target)
		}
		if _, err := w.Write(dataPadding(filesize)); err != nil {
			return fail(&Error{Op: "build", Line: line_no, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(&Error{Op: "build", Err: err})
	}

	// trailer: only the namesize field is set
	trailer_namesize := uint32(len(trailerName) + 1)
	w.WriteString(formatHeader(0, 0, 0, 0, 0, trailer_namesize))
	w.WriteString(trailerName)
	w.WriteByte(0)
	w.Write(namePadding(trailer_namesize))

	if err := w.Flush(); err != nil {
		return fail(&Error{Op: "build", Err: err})
	}
	return out.Close()
}
