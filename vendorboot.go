package abik

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"abik/log"

	"github.com/dustin/go-humanize"
)

const (
	VENDOR_BOOT_ARGS_SIZE    = 2048
	VENDOR_RAMDISK_NAME_SIZE = 32

	VENDOR_BOOT_HDR_V3_SIZE = 2112
	VENDOR_BOOT_HDR_V4_SIZE = 2128

	// size + offset + type + name + board_id[16], per AOSP
	VENDOR_RAMDISK_TABLE_ENTRY_V4_SIZE = 108

	// Sanity bound when rehydrating the sidecar.
	VENDOR_RAMDISK_TABLE_MAX_ENTRIES = 1024
)

const (
	VENDOR_RAMDISK_TYPE_NONE     = 0
	VENDOR_RAMDISK_TYPE_PLATFORM = 1
	VENDOR_RAMDISK_TYPE_RECOVERY = 2
	VENDOR_RAMDISK_TYPE_DLKM     = 3
)

// VendorRamdiskTableEntry describes one ramdisk of the concatenated
// vendor ramdisk section. OutputName is the host-visible file name
// assigned at unpack time; Offset is relative to the section start.
type VendorRamdiskTableEntry struct {
	OutputName         string
	Size               uint32
	Offset             uint32
	Type               uint32
	Name               string
	BoardId            [4]uint32
	RamdiskCompression Format
}

type VendorBootImageInfo struct {
	BootMagic          string
	HeaderVersion      uint32
	PageSize           uint32
	KernelLoadAddress  uint32
	RamdiskLoadAddress uint32
	VendorRamdiskSize  uint32
	Cmdline            string
	TagsLoadAddress    uint32
	ProductName        string
	HeaderSize         uint32
	DtbSize            uint32
	DtbLoadAddress     uint64

	// Version >3 fields
	TableSize      uint32
	TableEntryNum  uint32
	TableEntrySize uint32
	BootconfigSize uint32

	// One entry per ramdisk. For version 3 a single synthetic entry
	// named "vendor_ramdisk" stands in for the whole section so the
	// build workflow treats both versions uniformly.
	Table []VendorRamdiskTableEntry
}

// UnpackVendorBootImage parses a vendor boot image held in data and
// writes the ramdisk(s), dtb and bootconfig into output_dir.
func UnpackVendorBootImage(data []byte, output_dir string, dec_ramdisk bool, lg log.Logger) (*VendorBootImageInfo, error) {
	lg = log.Or(lg)
	info := &VendorBootImageInfo{}
	r := bytes.NewReader(data)

	magic, err := readBytes(r, BOOT_MAGIC_SIZE)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, []byte(VENDOR_BOOT_MAGIC)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMagic, toHexString(magic))
	}
	info.BootMagic = VENDOR_BOOT_MAGIC

	cr := &configReader{r: r}
	cr.u32(&info.HeaderVersion)
	cr.u32(&info.PageSize)
	cr.u32(&info.KernelLoadAddress)
	cr.u32(&info.RamdiskLoadAddress)
	cr.u32(&info.VendorRamdiskSize)
	if cr.err == nil {
		info.Cmdline, cr.err = readFixedString(r, VENDOR_BOOT_ARGS_SIZE)
	}
	cr.u32(&info.TagsLoadAddress)
	if cr.err == nil {
		info.ProductName, cr.err = readFixedString(r, BOOT_NAME_SIZE)
	}
	cr.u32(&info.HeaderSize)
	cr.u32(&info.DtbSize)
	cr.u64(&info.DtbLoadAddress)
	if cr.err != nil {
		return nil, cr.err
	}

	if info.HeaderVersion < 3 || info.HeaderVersion > 4 {
		return nil, fmt.Errorf("%w: vendor boot header version %d", ErrUnsupportedVersion, info.HeaderVersion)
	}
	if info.PageSize == 0 || info.PageSize&(info.PageSize-1) != 0 {
		return nil, fmt.Errorf("invalid page size: %d", info.PageSize)
	}

	lg.Infof("Header version: %d", info.HeaderVersion)
	lg.Infof("Page size: %d", info.PageSize)
	lg.Infof("Ramdisk(s) total size: %s", humanize.Bytes(uint64(info.VendorRamdiskSize)))
	lg.Infof("Board: %s", info.ProductName)
	lg.Infof("Cmdline length: %d", len(info.Cmdline))
	lg.Infof("DTB size: %s", humanize.Bytes(uint64(info.DtbSize)))

	if info.HeaderVersion > 3 {
		cr.u32(&info.TableSize)
		cr.u32(&info.TableEntryNum)
		cr.u32(&info.TableEntrySize)
		cr.u32(&info.BootconfigSize)
		if cr.err != nil {
			return nil, cr.err
		}
		if info.TableEntryNum > VENDOR_RAMDISK_TABLE_MAX_ENTRIES {
			return nil, fmt.Errorf("implausible ramdisk table entry count: %d", info.TableEntryNum)
		}
		if info.TableEntryNum > 0 && info.TableEntrySize < 60 {
			return nil, fmt.Errorf("ramdisk table entry size too small: %d", info.TableEntrySize)
		}
		lg.Infof("Bootconfig size: %d", info.BootconfigSize)
	}

	page_size := uint64(info.PageSize)
	num_header_pages := numberOfPages(info.HeaderSize, info.PageSize)
	ramdisk_base := page_size * uint64(num_header_pages)
	num_ramdisk_pages := numberOfPages(info.VendorRamdiskSize, info.PageSize)
	num_dtb_pages := numberOfPages(info.DtbSize, info.PageSize)

	var entries []imageEntry

	if info.HeaderVersion > 3 {
		table_offset := page_size * uint64(num_header_pages+num_ramdisk_pages+num_dtb_pages)
		table_pages := numberOfPages(info.TableSize, info.PageSize)

		for i := uint32(0); i < info.TableEntryNum; i++ {
			entry_offset := table_offset + uint64(info.TableEntrySize)*uint64(i)
			if _, err := r.Seek(int64(entry_offset), io.SeekStart); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSeekFailed, err)
			}

			var entry VendorRamdiskTableEntry
			ecr := &configReader{r: r}
			ecr.u32(&entry.Size)
			ecr.u32(&entry.Offset)
			ecr.u32(&entry.Type)
			if ecr.err == nil {
				entry.Name, ecr.err = readFixedString(r, VENDOR_RAMDISK_NAME_SIZE)
			}
			for j := range entry.BoardId {
				ecr.u32(&entry.BoardId[j])
			}
			if ecr.err != nil {
				return nil, ecr.err
			}

			entry.OutputName = fmt.Sprintf("%s%02d", VND_RAMDISK, i)
			entry.RamdiskCompression = FormatOther
			if dec_ramdisk {
				entry.RamdiskCompression, err = detectRamdisk(data, ramdisk_base+uint64(entry.Offset))
				if err != nil {
					return nil, fmt.Errorf("could not read %s: %w", entry.OutputName, err)
				}
			}

			entries = append(entries, imageEntry{ramdisk_base + uint64(entry.Offset), entry.Size, entry.OutputName})
			info.Table = append(info.Table, entry)
		}

		bootconfig_offset := page_size * uint64(num_header_pages+num_ramdisk_pages+num_dtb_pages+table_pages)
		entries = append(entries, imageEntry{bootconfig_offset, info.BootconfigSize, BOOTCONFIG_FILE})
	} else {
		entry := VendorRamdiskTableEntry{
			OutputName:         VND_RAMDISK,
			Size:               info.VendorRamdiskSize,
			Offset:             0,
			Type:               VENDOR_RAMDISK_TYPE_NONE,
			RamdiskCompression: FormatOther,
		}
		if dec_ramdisk {
			entry.RamdiskCompression, err = detectRamdisk(data, ramdisk_base)
			if err != nil {
				return nil, err
			}
		}
		info.Table = append(info.Table, entry)
		info.TableEntryNum = 1
		entries = append(entries, imageEntry{ramdisk_base, info.VendorRamdiskSize, VND_RAMDISK})
	}

	if info.DtbSize > 0 {
		dtb_offset := page_size * uint64(num_header_pages+num_ramdisk_pages)
		entries = append(entries, imageEntry{dtb_offset, info.DtbSize, DTB_FILE})
	}

	for _, entry := range entries {
		lg.Infof("Extracting %s", entry.name)
		if err := extractImage(data, entry, output_dir); err != nil {
			return nil, err
		}
	}
	return info, nil
}

type vendorBootArgs struct {
	// One file path per table entry, in table order.
	Ramdisks   []string
	Dtb        string
	Bootconfig string
	Output     string
}

// writeVendorBootImage assembles a vendor boot image. Ramdisks are
// re-concatenated in table order; per-entry sizes come from the files
// and offsets are recomputed as running prefix sums, never reused from
// the parse.
func writeVendorBootImage(args vendorBootArgs, info *VendorBootImageInfo, lg log.Logger) error {
	lg = log.Or(lg)

	if len(args.Ramdisks) != len(info.Table) {
		return fmt.Errorf("%w: %d ramdisk files for %d table entries",
			ErrInvalidConfig, len(args.Ramdisks), len(info.Table))
	}
	page_size := info.PageSize
	if page_size == 0 || page_size&(page_size-1) != 0 {
		return fmt.Errorf("%w: invalid page size %d", ErrInvalidConfig, page_size)
	}

	header_size := uint32(VENDOR_BOOT_HDR_V3_SIZE)
	if info.HeaderVersion > 3 {
		header_size = VENDOR_BOOT_HDR_V4_SIZE
	}

	ramdisk_sizes := make([]uint32, len(args.Ramdisks))
	ramdisk_offsets := make([]uint32, len(args.Ramdisks))
	vendor_ramdisk_size := uint32(0)
	for i, path := range args.Ramdisks {
		size, err := fileSizeU32(path)
		if err != nil {
			return err
		}
		ramdisk_sizes[i] = size
		ramdisk_offsets[i] = vendor_ramdisk_size
		vendor_ramdisk_size += size
	}

	dtb_size, err := fileSizeU32(args.Dtb)
	if err != nil {
		return err
	}
	bootconfig_size, err := fileSizeU32(args.Bootconfig)
	if err != nil {
		return err
	}

	entry_size := info.TableEntrySize
	if entry_size < 60 {
		entry_size = VENDOR_RAMDISK_TABLE_ENTRY_V4_SIZE
	}
	table_size := uint32(len(info.Table)) * entry_size

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

	pw.Write([]byte(VENDOR_BOOT_MAGIC))
	put_u32(info.HeaderVersion)
	put_u32(page_size)
	put_u32(info.KernelLoadAddress)
	put_u32(info.RamdiskLoadAddress)
	put_u32(vendor_ramdisk_size)
	put_str(info.Cmdline, VENDOR_BOOT_ARGS_SIZE)
	put_u32(info.TagsLoadAddress)
	put_str(info.ProductName, BOOT_NAME_SIZE)
	put_u32(header_size)
	put_u32(dtb_size)
	put_u64(info.DtbLoadAddress)

	if info.HeaderVersion > 3 {
		put_u32(table_size)
		put_u32(uint32(len(info.Table)))
		put_u32(entry_size)
		put_u32(bootconfig_size)
	}

	pw.padTo(uint64(page_size))

	for _, path := range args.Ramdisks {
		if path != "" {
			pw.file(path)
		}
	}
	pw.padTo(uint64(page_size))

	if args.Dtb != "" {
		pw.file(args.Dtb)
		pw.padTo(uint64(page_size))
	}

	if info.HeaderVersion > 3 {
		for i, entry := range info.Table {
			entry_start := pw.pos
			put_u32(ramdisk_sizes[i])
			put_u32(ramdisk_offsets[i])
			put_u32(entry.Type)
			put_str(entry.Name, VENDOR_RAMDISK_NAME_SIZE)
			for _, id := range entry.BoardId {
				put_u32(id)
			}
			pw.padUntil(entry_start + uint64(entry_size))
		}
		pw.padTo(uint64(page_size))

		if args.Bootconfig != "" {
			pw.file(args.Bootconfig)
			pw.padTo(uint64(page_size))
		}
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
