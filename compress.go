package abik

import (
	"bufio"
	stdbzip2 "compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"

	"abik/log"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Streaming buffer shared by all codec copies; memory use stays flat no
// matter how large the payload is.
const codecBufSize = 64 * 1024

// Ramdisks use the LZMA "alone" container with a 16 MiB dictionary.
const lzmaDictCap = 16 << 20

type nopReadCloser struct {
	io.Reader
}

func (nopReadCloser) Close() error { return nil }

// newDecoder wraps r with a streaming decompressor for f.
func newDecoder(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case FormatLz4:
		return nopReadCloser{lz4.NewReader(r)}, nil
	case FormatLzma:
		lr, err := lzma.ReaderConfig{DictCap: 1 << 27}.NewReader(r)
		if err != nil {
			return nil, err
		}
		return nopReadCloser{lr}, nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return nopReadCloser{xr}, nil
	case FormatBzip2:
		return nopReadCloser{stdbzip2.NewReader(r)}, nil
	}
	return nil, fmt.Errorf("no decoder for format %s", f)
}

// newEncoder wraps w with a streaming compressor for f. The returned
// writer must be closed to flush trailing blocks.
func newEncoder(f Format, w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatGzip:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case FormatLz4:
		lw := lz4.NewWriter(w)
		err := lw.Apply(
			lz4.LegacyOption(true),
			lz4.CompressionLevelOption(lz4.Level9),
			lz4.ConcurrencyOption(-1),
		)
		if err != nil {
			return nil, err
		}
		return lw, nil
	case FormatLzma:
		return lzma.WriterConfig{DictCap: lzmaDictCap}.NewWriter(w)
	case FormatXz:
		return xz.NewWriter(w)
	case FormatBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	}
	return nil, fmt.Errorf("no encoder for format %s", f)
}

// DecompressFile streams src through the decompressor for f into dst.
// On success src is removed; on failure the partial dst is removed and
// src is left untouched.
func DecompressFile(f Format, src, dst string, lg log.Logger) error {
	in, err := os.Open(src)
	if err != nil {
		return codecErr(f, "open", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return codecErr(f, "create", err)
	}

	fail := func(phase string, err error) error {
		out.Close()
		os.Remove(dst)
		return codecErr(f, phase, err)
	}

	dec, err := newDecoder(f, bufio.NewReaderSize(in, codecBufSize))
	if err != nil {
		return fail("init", err)
	}
	if _, err := io.CopyBuffer(out, dec, make([]byte, codecBufSize)); err != nil {
		dec.Close()
		return fail("read", err)
	}
	if err := dec.Close(); err != nil {
		return fail("close", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return codecErr(f, "write", err)
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return codecErr(f, "remove", err)
	}
	return nil
}

// CompressFile compresses path in place: the stream is written to a
// sibling temporary file which replaces path on success. On any failure
// the temporary is removed and path stays untouched.
func CompressFile(f Format, path string, lg log.Logger) error {
	tmp := path + ".tmp"

	in, err := os.Open(path)
	if err != nil {
		return codecErr(f, "open", err)
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return codecErr(f, "create", err)
	}

	fail := func(phase string, err error) error {
		out.Close()
		os.Remove(tmp)
		return codecErr(f, phase, err)
	}

	enc, err := newEncoder(f, out)
	if err != nil {
		return fail("init", err)
	}
	if _, err := io.CopyBuffer(enc, bufio.NewReaderSize(in, codecBufSize), make([]byte, codecBufSize)); err != nil {
		enc.Close()
		return fail("write", err)
	}
	if err := enc.Close(); err != nil {
		return fail("close", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return codecErr(f, "write", err)
	}

	in.Close()
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return codecErr(f, "rename", err)
	}
	return nil
}

// Compress is the generic compress action: encode infile with the named
// format into outfile. infile/outfile may be "-" for stdin/stdout. An
// empty outfile compresses next to infile, appending the format's
// extension and removing the original.
func Compress(method, infile, outfile string, lg log.Logger) error {
	lg = log.Or(lg)
	f := FormatFromName(method)
	if !compressed(f) {
		return fmt.Errorf("unsupported compression format: %s", method)
	}

	rm_in := false
	if outfile == "" {
		if infile == "-" {
			outfile = "-"
		} else {
			outfile = infile + f.Ext()
			rm_in = true
			lg.Infof("Compressing to [%s]", outfile)
		}
	}

	in, closeIn, err := openInput(infile)
	if err != nil {
		return codecErr(f, "open", err)
	}
	defer closeIn()

	out, closeOut, err := openOutput(outfile)
	if err != nil {
		return codecErr(f, "create", err)
	}

	enc, err := newEncoder(f, out)
	if err != nil {
		closeOut()
		return codecErr(f, "init", err)
	}
	if _, err := io.CopyBuffer(enc, in, make([]byte, codecBufSize)); err != nil {
		enc.Close()
		closeOut()
		return codecErr(f, "write", err)
	}
	if err := enc.Close(); err != nil {
		closeOut()
		return codecErr(f, "close", err)
	}
	if err := closeOut(); err != nil {
		return codecErr(f, "write", err)
	}

	if rm_in {
		closeIn()
		os.Remove(infile)
	}
	return nil
}

// Decompress is the generic decompress action: detect the container of
// infile and decode it into outfile. An empty outfile strips the
// matching extension from infile and removes the original.
func Decompress(infile, outfile string, lg log.Logger) error {
	lg = log.Or(lg)

	in, closeIn, err := openInput(infile)
	if err != nil {
		return err
	}
	defer closeIn()

	br := bufio.NewReaderSize(in, codecBufSize)
	head, err := br.Peek(16)
	if err != nil && len(head) < 4 {
		return fmt.Errorf("%w: cannot probe input format", ErrShortRead)
	}
	f := DetectAnyFormat(head)
	if !compressed(f) {
		return fmt.Errorf("input is not a supported compressed format")
	}

	rm_in := false
	if outfile == "" {
		if infile == "-" {
			outfile = "-"
		} else {
			if !strings.HasSuffix(infile, f.Ext()) {
				return fmt.Errorf("cannot derive output name for [%s], expected a %s suffix", infile, f.Ext())
			}
			outfile = strings.TrimSuffix(infile, f.Ext())
			rm_in = true
			lg.Infof("Decompressing to [%s]", outfile)
		}
	}

	out, closeOut, err := openOutput(outfile)
	if err != nil {
		return codecErr(f, "create", err)
	}

	dec, err := newDecoder(f, br)
	if err != nil {
		closeOut()
		return codecErr(f, "init", err)
	}
	if _, err := io.CopyBuffer(out, dec, make([]byte, codecBufSize)); err != nil {
		dec.Close()
		closeOut()
		return codecErr(f, "read", err)
	}
	dec.Close()
	if err := closeOut(); err != nil {
		return codecErr(f, "write", err)
	}

	if rm_in {
		closeIn()
		os.Remove(infile)
	}
	return nil
}

func openInput(name string) (io.Reader, func() error, error) {
	if name == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	fd, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return fd, func() error {
		if closed {
			return nil
		}
		closed = true
		return fd.Close()
	}, nil
}

func openOutput(name string) (io.Writer, func() error, error) {
	if name == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	fd, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	closed := false
	return fd, func() error {
		if closed {
			return nil
		}
		closed = true
		return fd.Close()
	}, nil
}
