package main

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"abik"
	"abik/log"
)

func usage() {
	fmt.Fprintf(os.Stderr, `ABIK - Android Boot Image Kitchen

Usage: %s <action> [args...]

Supported actions:
  unpack [-n] <bootimg> [outdir] [name]
    Unpack <bootimg> into a fresh working directory under [outdir]
    (current directory by default), named [name] or after the image.
    Supported components: kernel, ramdisk, second, dtb, recovery_dtbo,
    boot_signature, bootconfig and vendor_ramdiskNN.
    By default each ramdisk is decompressed and its cpio content
    extracted into an editable directory with a .parserconfig manifest.
    If '-n' is provided, ramdisks are dumped in their original format.

  build <workdir>
    Rebuild a boot image from <workdir> using the .parserconfig record
    written by unpack. Ramdisk directories are re-packed and compressed
    with their original method. The output is 'image-new' or
    'vendor_boot-new' inside <workdir>.

  compress[=format] <infile> [outfile]
    Compress <infile> with [format] to [outfile].
    <infile>/[outfile] can be '-' to be STDIN/STDOUT.
    If [format] is not specified, then gzip will be used.
    If [outfile] is not specified, then <infile> will be replaced
    with another file suffixed with a matching file extension.
    Supported formats: gzip lz4_legacy lzma xz bzip2

  decompress <infile> [outfile]
    Detect format and decompress <infile> to [outfile].
    <infile>/[outfile] can be '-' to be STDIN/STDOUT.
    If [outfile] is not specified, then <infile> will be replaced
    with another file removing its archive format file extension.

  sha1 <file>
    Print the SHA1 checksum for <file>

  hexpatch <file> <hexpattern1> <hexpattern2>
    Search <hexpattern1> in <file>, and replace it with <hexpattern2>

  cleanup <workdir>
    Remove unpacked components and rebuilt images from <workdir>

`, os.Args[0])
	os.Exit(1)
}

func main() {
	args := os.Args
	if len(args) < 2 {
		usage()
	}

	lg := log.DefaultLogger

	// Skip '--' for backwards compatibility
	action := strings.TrimLeft(args[1], "-")

	exitBool := func(ok bool) {
		if ok {
			os.Exit(0)
		}
		os.Exit(1)
	}

	switch {
	case action == "unpack" && len(args) > 2:
		rest := args[2:]
		decode := true
		if rest[0] == "-n" {
			decode = false
			rest = rest[1:]
		}
		if len(rest) < 1 {
			usage()
		}
		image := rest[0]
		outdir := "."
		name := filepath.Base(image)
		if len(rest) > 1 {
			outdir = rest[1]
		}
		if len(rest) > 2 {
			name = rest[2]
		}

		fd, err := os.Open(image)
		if err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		defer fd.Close()
		exitBool(abik.Unpack(fd, outdir, name, decode, lg))

	case action == "build" && len(args) > 2:
		exitBool(abik.Build(args[2], lg))

	case strings.HasPrefix(action, "compress") && len(args) > 2:
		method := "gzip"
		if strings.HasPrefix(action, "compress=") {
			method = action[len("compress="):]
		}
		outfile := ""
		if len(args) > 3 {
			outfile = args[3]
		}
		if err := abik.Compress(method, args[2], outfile, lg); err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}

	case action == "decompress" && len(args) > 2:
		outfile := ""
		if len(args) > 3 {
			outfile = args[3]
		}
		if err := abik.Decompress(args[2], outfile, lg); err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}

	case action == "sha1" && len(args) > 2:
		fd, err := os.Open(args[2])
		if err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		defer fd.Close()
		hash := sha1.New()
		if _, err := io.Copy(hash, fd); err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		fmt.Printf("%x\n", hash.Sum(nil))

	case action == "hexpatch" && len(args) > 4:
		patched, err := abik.HexPatch(args[2], args[3], args[4], lg)
		if err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}
		exitBool(patched)

	case action == "cleanup" && len(args) > 2:
		if err := abik.Cleanup(args[2], lg); err != nil {
			lg.Errorf("%v", err)
			os.Exit(1)
		}

	default:
		usage()
	}
}
