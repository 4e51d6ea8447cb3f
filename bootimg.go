package abik

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"abik/log"

	"github.com/dustin/go-humanize"
)

const (
	BOOT_MAGIC_SIZE      = 8
	BOOT_NAME_SIZE       = 16
	BOOT_ID_SIZE         = 32
	BOOT_ARGS_SIZE       = 512
	BOOT_EXTRA_ARGS_SIZE = 1024

	BOOT_IMAGE_HEADER_V3_PAGESIZE = 4096

	// On-disk header sizes per version.
	BOOT_IMG_HDR_V0_SIZE = 1632
	BOOT_IMG_HDR_V1_SIZE = 1648
	BOOT_IMG_HDR_V2_SIZE = 1660
	BOOT_IMG_HDR_V3_SIZE = 1580
	BOOT_IMG_HDR_V4_SIZE = 1584
)

// BootImageInfo is the parsed header of a classical boot image,
// persisted to the configuration sidecar between unpack and build.
type BootImageInfo struct {
	BootMagic     string
	HeaderVersion uint32

	// Common fields
	KernelSize         uint32
	RamdiskSize        uint32
	RamdiskCompression Format
	PageSize           uint32
	OsVersion          string
	OsPatchLevel       string
	Cmdline            string

	// Version <3 fields
	KernelLoadAddress  uint32
	RamdiskLoadAddress uint32
	SecondSize         uint32
	SecondLoadAddress  uint32
	TagsLoadAddress    uint32
	ProductName        string
	ExtraCmdline       string

	// Version 1-2 fields
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	BootHeaderSize     uint32

	// Version 2 fields
	DtbSize        uint32
	DtbLoadAddress uint64

	// Version 4+ fields
	BootSignatureSize uint32
}

type imageEntry struct {
	offset uint64
	size   uint32
	name   string
}

func extractImage(data []byte, entry imageEntry, output_dir string) error {
	end := entry.offset + uint64(entry.size)
	if end > uint64(len(data)) {
		return fmt.Errorf("%w: section %s wants bytes %d..%d of a %d byte image",
			ErrShortRead, entry.name, entry.offset, end, len(data))
	}
	return os.WriteFile(filepath.Join(output_dir, entry.name), data[entry.offset:end], 0644)
}

// detectRamdisk classifies up to 16 bytes at offset.
func detectRamdisk(data []byte, offset uint64) (Format, error) {
	if offset >= uint64(len(data)) {
		return FormatOther, fmt.Errorf("%w: ramdisk offset %d beyond image", ErrShortRead, offset)
	}
	end := offset + 16
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return DetectFormat(data[offset:end]), nil
}

// UnpackBootImage parses a boot image held in data and writes one file
// per nonzero payload section into output_dir.
func UnpackBootImage(data []byte, output_dir string, dec_ramdisk bool, lg log.Logger) (*BootImageInfo, error) {
	lg = log.Or(lg)
	info := &BootImageInfo{RamdiskCompression: FormatOther}
	r := bytes.NewReader(data)

	magic, err := readBytes(r, BOOT_MAGIC_SIZE)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, []byte(BOOT_MAGIC)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMagic, toHexString(magic))
	}
	info.BootMagic = BOOT_MAGIC

	var prefix [9]uint32
	for i := range prefix {
		if prefix[i], err = readU32(r); err != nil {
			return nil, err
		}
	}

	info.HeaderVersion = prefix[8]
	// Legacy images overlay dt_size on this word.
	if info.HeaderVersion > 1024 {
		return nil, fmt.Errorf("%w: header_version field reads %d", ErrUnsupportedVersion, info.HeaderVersion)
	}
	if info.HeaderVersion > 4 {
		return nil, fmt.Errorf("%w: header version %d", ErrUnsupportedVersion, info.HeaderVersion)
	}
	lg.Infof("Header version: %d", info.HeaderVersion)

	if info.HeaderVersion < 3 {
		info.PageSize = prefix[7]
	} else {
		info.PageSize = BOOT_IMAGE_HEADER_V3_PAGESIZE
	}
	if info.PageSize == 0 || info.PageSize&(info.PageSize-1) != 0 {
		return nil, fmt.Errorf("invalid page size: %d", info.PageSize)
	}
	lg.Infof("Page size: %d", info.PageSize)

	var os_version_patch_level uint32
	if info.HeaderVersion < 3 {
		info.KernelSize = prefix[0]
		info.KernelLoadAddress = prefix[1]
		info.RamdiskSize = prefix[2]
		info.RamdiskLoadAddress = prefix[3]
		info.SecondSize = prefix[4]
		lg.Infof("Secondary bootloader size: %s", humanize.Bytes(uint64(info.SecondSize)))
		info.SecondLoadAddress = prefix[5]
		info.TagsLoadAddress = prefix[6]

		if os_version_patch_level, err = readU32(r); err != nil {
			return nil, err
		}
	} else {
		info.KernelSize = prefix[0]
		info.RamdiskSize = prefix[1]
		os_version_patch_level = prefix[2]
	}

	lg.Infof("Kernel size: %s", humanize.Bytes(uint64(info.KernelSize)))
	lg.Infof("Ramdisk size: %s", humanize.Bytes(uint64(info.RamdiskSize)))

	info.OsVersion, info.OsPatchLevel = decodeOsVersionPatchLevel(os_version_patch_level)

	if info.HeaderVersion < 3 {
		if info.ProductName, err = readFixedString(r, BOOT_NAME_SIZE); err != nil {
			return nil, err
		}
		lg.Infof("Board: %s", info.ProductName)
		if info.Cmdline, err = readFixedString(r, BOOT_ARGS_SIZE); err != nil {
			return nil, err
		}
		// id/SHA area, not carried into the sidecar
		if _, err = r.Seek(BOOT_ID_SIZE, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSeekFailed, err)
		}
		if info.ExtraCmdline, err = readFixedString(r, BOOT_EXTRA_ARGS_SIZE); err != nil {
			return nil, err
		}
	} else {
		if info.Cmdline, err = readFixedString(r, BOOT_ARGS_SIZE+BOOT_EXTRA_ARGS_SIZE); err != nil {
			return nil, err
		}
	}
	lg.Infof("Cmdline length: %d", len(info.Cmdline))

	if info.HeaderVersion == 1 || info.HeaderVersion == 2 {
		if info.RecoveryDtboSize, err = readU32(r); err != nil {
			return nil, err
		}
		lg.Infof("Recovery DTBO size: %s", humanize.Bytes(uint64(info.RecoveryDtboSize)))
		if info.RecoveryDtboOffset, err = readU64(r); err != nil {
			return nil, err
		}
		if info.BootHeaderSize, err = readU32(r); err != nil {
			return nil, err
		}
	}

	if info.HeaderVersion == 2 {
		if info.DtbSize, err = readU32(r); err != nil {
			return nil, err
		}
		lg.Infof("DTB size: %s", humanize.Bytes(uint64(info.DtbSize)))
		if info.DtbLoadAddress, err = readU64(r); err != nil {
			return nil, err
		}
	}

	if info.HeaderVersion >= 4 {
		if info.BootSignatureSize, err = readU32(r); err != nil {
			return nil, err
		}
	}

	// Payload layout: one header page, then kernel / ramdisk / second /
	// recovery_dtbo (explicit offset) / dtb, each padded to page_size.
	page_size := uint64(info.PageSize)
	num_kernel_pages := numberOfPages(info.KernelSize, info.PageSize)
	num_ramdisk_pages := numberOfPages(info.RamdiskSize, info.PageSize)

	var entries []imageEntry
	if info.KernelSize > 0 {
		entries = append(entries, imageEntry{page_size, info.KernelSize, KERNEL_FILE})
	}
	if info.RamdiskSize > 0 {
		ramdisk_offset := page_size * uint64(1+num_kernel_pages)
		if dec_ramdisk {
			info.RamdiskCompression, err = detectRamdisk(data, ramdisk_offset)
			if err != nil {
				return nil, err
			}
		}
		entries = append(entries, imageEntry{ramdisk_offset, info.RamdiskSize, RAMDISK_FILE})
	}
	if info.SecondSize > 0 {
		entries = append(entries, imageEntry{
			page_size * uint64(1+num_kernel_pages+num_ramdisk_pages),
			info.SecondSize, SECOND_FILE})
	}
	if info.RecoveryDtboSize > 0 {
		entries = append(entries, imageEntry{info.RecoveryDtboOffset, info.RecoveryDtboSize, RECV_DTBO_FILE})
	}
	if info.DtbSize > 0 {
		entries = append(entries, imageEntry{
			page_size * uint64(1+num_kernel_pages+num_ramdisk_pages+
				numberOfPages(info.SecondSize, info.PageSize)+
				numberOfPages(info.RecoveryDtboSize, info.PageSize)),
			info.DtbSize, DTB_FILE})
	}
	if info.BootSignatureSize > 0 {
		// v4 images carry neither second nor dtb, so the signature
		// directly follows the ramdisk pages.
		entries = append(entries, imageEntry{
			page_size * uint64(1+num_kernel_pages+num_ramdisk_pages),
			info.BootSignatureSize, BOOT_SIG_FILE})
	}

	for _, entry := range entries {
		lg.Infof("Extracting %s", entry.name)
		if err := extractImage(data, entry, output_dir); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// paddedWriter counts emitted bytes so sections can be zero-filled out
// to the next page boundary.
type paddedWriter struct {
	w   *bufio.Writer
	pos uint64
	err error
}

func (pw *paddedWriter) Write(buf []byte) (int, error) {
	if pw.err != nil {
		return 0, pw.err
	}
	n, err := pw.w.Write(buf)
	pw.pos += uint64(n)
	pw.err = err
	return n, err
}

func (pw *paddedWriter) padTo(align uint64) {
	pw.zeros(align_padding(pw.pos, align))
}

// padUntil zero-fills up to an absolute offset.
func (pw *paddedWriter) padUntil(pos uint64) {
	if pos > pw.pos {
		pw.zeros(pos - pw.pos)
	}
}

func (pw *paddedWriter) zeros(n uint64) {
	for i := uint64(0); i < n && pw.err == nil; i++ {
		pw.err = pw.w.WriteByte(0)
		pw.pos++
	}
}

func (pw *paddedWriter) file(path string) {
	if pw.err != nil {
		return
	}
	fd, err := os.Open(path)
	if err != nil {
		pw.err = err
		return
	}
	defer fd.Close()
	_, pw.err = io.CopyBuffer(pw, fd, make([]byte, codecBufSize))
}

type bootImageArgs struct {
	Kernel        string
	Ramdisk       string
	Second        string
	RecoveryDtbo  string
	Dtb           string
	BootSignature string
	Output        string
}

func fileSizeU32(path string) (uint32, error) {
	if path == "" {
		return 0, nil
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint32(st.Size()), nil
}

type idSection struct {
	path string
	size uint32
}

// bootImageID reproduces the mkbootimg id: SHA-1 over every present
// section's bytes followed by its little-endian u32 size, zero-padded
// to the 32-byte field.
func bootImageID(sections ...idSection) ([]byte, error) {
	hash := sha1.New()
	var word [4]byte
	for _, s := range sections {
		if s.path != "" {
			fd, err := os.Open(s.path)
			if err != nil {
				return nil, err
			}
			if _, err := io.CopyBuffer(hash, fd, make([]byte, codecBufSize)); err != nil {
				fd.Close()
				return nil, err
			}
			fd.Close()
		}
		binary.LittleEndian.PutUint32(word[:], s.size)
		hash.Write(word[:])
	}
	id := make([]byte, BOOT_ID_SIZE)
	copy(id, hash.Sum(nil))
	return id, nil
}

// writeBootImage assembles a boot image from the sidecar record and the
// section files resolved by the build workflow. Section sizes are taken
// from the files themselves; load addresses, version fields and command
// lines come from info.
func writeBootImage(args bootImageArgs, info *BootImageInfo, lg log.Logger) error {
	lg = log.Or(lg)

	page_size := info.PageSize
	if info.HeaderVersion >= 3 {
		page_size = BOOT_IMAGE_HEADER_V3_PAGESIZE
	}
	if page_size == 0 || page_size&(page_size-1) != 0 {
		return fmt.Errorf("%w: invalid page size %d", ErrInvalidConfig, page_size)
	}

	kernel_size, err := fileSizeU32(args.Kernel)
	if err != nil {
		return err
	}
	ramdisk_size, err := fileSizeU32(args.Ramdisk)
	if err != nil {
		return err
	}
	second_size, err := fileSizeU32(args.Second)
	if err != nil {
		return err
	}
	recovery_dtbo_size, err := fileSizeU32(args.RecoveryDtbo)
	if err != nil {
		return err
	}
	dtb_size, err := fileSizeU32(args.Dtb)
	if err != nil {
		return err
	}
	boot_signature_size, err := fileSizeU32(args.BootSignature)
	if err != nil {
		return err
	}

	num_kernel_pages := numberOfPages(kernel_size, page_size)
	num_ramdisk_pages := numberOfPages(ramdisk_size, page_size)
	num_second_pages := numberOfPages(second_size, page_size)

	var recovery_dtbo_offset uint64
	if recovery_dtbo_size > 0 {
		recovery_dtbo_offset = uint64(page_size) *
			uint64(1+num_kernel_pages+num_ramdisk_pages+num_second_pages)
	}

	full_cmdline := info.Cmdline
	if info.ExtraCmdline != "" {
		full_cmdline += " " + info.ExtraCmdline
	}
	os_version_patch_level := encodeOsVersionPatchLevel(info.OsVersion, info.OsPatchLevel)

	out, err := os.Create(args.Output)
	if err != nil {
		return err
	}
	defer out.Close()

	bw := bufio.NewWriterSize(out, codecBufSize)
	pw := &paddedWriter{w: bw}

	put_u32 := func(v uint32) {
		if pw.err == nil {
			pw.err = writeU32(pw, v)
		}
	}
	put_u64 := func(v uint64) {
		if pw.err == nil {
			pw.err = writeU64(pw, v)
		}
	}
	put_str := func(s string, n int) {
		if pw.err == nil {
			pw.err = writeFixedString(pw, s, n)
		}
	}

	pw.Write([]byte(BOOT_MAGIC))

	if info.HeaderVersion < 3 {
		id_sections := []idSection{
			{args.Kernel, kernel_size},
			{args.Ramdisk, ramdisk_size},
			{args.Second, second_size},
		}
		if info.HeaderVersion > 0 {
			id_sections = append(id_sections, idSection{args.RecoveryDtbo, recovery_dtbo_size})
		}
		if info.HeaderVersion == 2 {
			id_sections = append(id_sections, idSection{args.Dtb, dtb_size})
		}
		id, err := bootImageID(id_sections...)
		if err != nil {
			return err
		}

		boot_header_size := uint32(BOOT_IMG_HDR_V1_SIZE)
		if info.HeaderVersion == 2 {
			boot_header_size = BOOT_IMG_HDR_V2_SIZE
		}

		put_u32(kernel_size)
		put_u32(info.KernelLoadAddress)
		put_u32(ramdisk_size)
		put_u32(info.RamdiskLoadAddress)
		put_u32(second_size)
		put_u32(info.SecondLoadAddress)
		put_u32(info.TagsLoadAddress)
		put_u32(page_size)
		put_u32(info.HeaderVersion)
		put_u32(os_version_patch_level)
		put_str(info.ProductName, BOOT_NAME_SIZE)
		put_str(full_cmdline, BOOT_ARGS_SIZE)
		if pw.err == nil {
			_, pw.err = pw.Write(id)
		}
		overflow := ""
		if len(full_cmdline) > BOOT_ARGS_SIZE {
			overflow = full_cmdline[BOOT_ARGS_SIZE:]
		}
		put_str(overflow, BOOT_EXTRA_ARGS_SIZE)

		if info.HeaderVersion >= 1 {
			put_u32(recovery_dtbo_size)
			put_u64(recovery_dtbo_offset)
			put_u32(boot_header_size)
		}
		if info.HeaderVersion == 2 {
			put_u32(dtb_size)
			put_u64(info.DtbLoadAddress)
		}
	} else {
		header_size := uint32(BOOT_IMG_HDR_V3_SIZE)
		if info.HeaderVersion >= 4 {
			header_size = BOOT_IMG_HDR_V4_SIZE
		}
		put_u32(kernel_size)
		put_u32(ramdisk_size)
		put_u32(os_version_patch_level)
		put_u32(header_size)
		for i := 0; i < 4; i++ {
			put_u32(0) // reserved
		}
		put_u32(info.HeaderVersion)
		put_str(full_cmdline, BOOT_ARGS_SIZE+BOOT_EXTRA_ARGS_SIZE)
		if info.HeaderVersion >= 4 {
			put_u32(boot_signature_size)
		}
	}

	pw.padTo(uint64(page_size))

	for _, path := range []string{
		args.Kernel, args.Ramdisk, args.Second,
		args.RecoveryDtbo, args.Dtb, args.BootSignature,
	} {
		if path == "" {
			continue
		}
		pw.file(path)
		pw.padTo(uint64(page_size))
	}

	if pw.err != nil {
		return pw.err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	lg.Infof("Built %s (%s)", filepath.Base(args.Output), humanize.Bytes(pw.pos))
	return out.Close()
}
