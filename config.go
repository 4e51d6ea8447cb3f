package abik

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// The configuration sidecar is the single source of truth between
// unpack and build: a little-endian serialization of the parsed header,
// written into the working directory and sealed with a trailing SHA-1
// (see AppendSHA1/ValidateSHA1). Strings are u32-length-prefixed raw
// bytes, never NUL-terminated.

type configWriter struct {
	w   io.Writer
	err error
}

func (cw *configWriter) str(s string) {
	if cw.err == nil {
		cw.err = writeLString(cw.w, s)
	}
}

func (cw *configWriter) u8(v uint8) {
	if cw.err == nil {
		cw.err = writeU8(cw.w, v)
	}
}

func (cw *configWriter) u32(v uint32) {
	if cw.err == nil {
		cw.err = writeU32(cw.w, v)
	}
}

func (cw *configWriter) u64(v uint64) {
	if cw.err == nil {
		cw.err = writeU64(cw.w, v)
	}
}

type configReader struct {
	r   io.Reader
	err error
}

func (cr *configReader) str(s *string) {
	if cr.err == nil {
		*s, cr.err = readLString(cr.r)
	}
}

func (cr *configReader) u8(v *uint8) {
	if cr.err == nil {
		*v, cr.err = readU8(cr.r)
	}
}

func (cr *configReader) u32(v *uint32) {
	if cr.err == nil {
		*v, cr.err = readU32(cr.r)
	}
}

func (cr *configReader) u64(v *uint64) {
	if cr.err == nil {
		*v, cr.err = readU64(cr.r)
	}
}

// ReadConfigMagic peeks the leading magic string of a sidecar so the
// build workflow can dispatch on the image kind.
func ReadConfigMagic(path string) (string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fd.Close()
	magic, err := readLString(fd)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return magic, nil
}

func WriteBootConfig(path string, info *BootImageInfo) error {
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fd.Close()

	bw := bufio.NewWriter(fd)
	cw := &configWriter{w: bw}

	cw.str(info.BootMagic)
	cw.u32(info.HeaderVersion)
	cw.u32(info.KernelSize)
	cw.u32(info.RamdiskSize)
	cw.u8(uint8(info.RamdiskCompression))
	cw.u32(info.PageSize)
	cw.str(info.OsVersion)
	cw.str(info.OsPatchLevel)
	cw.str(info.Cmdline)

	cw.u32(info.KernelLoadAddress)
	cw.u32(info.RamdiskLoadAddress)
	cw.u32(info.SecondSize)
	cw.u32(info.SecondLoadAddress)
	cw.u32(info.TagsLoadAddress)

	cw.str(info.ProductName)
	cw.str(info.ExtraCmdline)

	cw.u32(info.RecoveryDtboSize)
	cw.u64(info.RecoveryDtboOffset)
	cw.u32(info.BootHeaderSize)

	cw.u32(info.DtbSize)
	cw.u64(info.DtbLoadAddress)
	cw.u32(info.BootSignatureSize)

	if cw.err != nil {
		return cw.err
	}
	return bw.Flush()
}

func ReadBootConfig(path string) (*BootImageInfo, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	info := &BootImageInfo{}
	cr := &configReader{r: bufio.NewReader(fd)}

	cr.str(&info.BootMagic)
	cr.u32(&info.HeaderVersion)
	cr.u32(&info.KernelSize)
	cr.u32(&info.RamdiskSize)
	var compression uint8
	cr.u8(&compression)
	cr.u32(&info.PageSize)
	cr.str(&info.OsVersion)
	cr.str(&info.OsPatchLevel)
	cr.str(&info.Cmdline)

	cr.u32(&info.KernelLoadAddress)
	cr.u32(&info.RamdiskLoadAddress)
	cr.u32(&info.SecondSize)
	cr.u32(&info.SecondLoadAddress)
	cr.u32(&info.TagsLoadAddress)

	cr.str(&info.ProductName)
	cr.str(&info.ExtraCmdline)

	cr.u32(&info.RecoveryDtboSize)
	cr.u64(&info.RecoveryDtboOffset)
	cr.u32(&info.BootHeaderSize)

	cr.u32(&info.DtbSize)
	cr.u64(&info.DtbLoadAddress)
	cr.u32(&info.BootSignatureSize)

	if cr.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, cr.err)
	}
	if info.BootMagic != BOOT_MAGIC {
		return nil, fmt.Errorf("%w: bad boot magic", ErrInvalidConfig)
	}
	info.RamdiskCompression = Format(compression)
	return info, nil
}

func WriteVendorBootConfig(path string, info *VendorBootImageInfo) error {
	if uint32(len(info.Table)) != info.TableEntryNum {
		return fmt.Errorf("%w: table holds %d entries, header says %d",
			ErrInvalidConfig, len(info.Table), info.TableEntryNum)
	}

	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fd.Close()

	bw := bufio.NewWriter(fd)
	cw := &configWriter{w: bw}

	cw.str(info.BootMagic)
	cw.u32(info.HeaderVersion)
	cw.u32(info.PageSize)
	cw.u32(info.KernelLoadAddress)
	cw.u32(info.RamdiskLoadAddress)
	cw.u32(info.VendorRamdiskSize)
	cw.str(info.Cmdline)
	cw.u32(info.TagsLoadAddress)
	cw.str(info.ProductName)
	cw.u32(info.HeaderSize)
	cw.u32(info.DtbSize)
	cw.u64(info.DtbLoadAddress)

	cw.u32(info.TableSize)
	cw.u32(info.TableEntryNum)
	cw.u32(info.TableEntrySize)
	cw.u32(info.BootconfigSize)

	for _, entry := range info.Table {
		cw.str(entry.OutputName)
		cw.u32(entry.Size)
		cw.u32(entry.Offset)
		cw.u32(entry.Type)
		cw.str(entry.Name)
		for _, id := range entry.BoardId {
			cw.u32(id)
		}
		cw.u8(uint8(entry.RamdiskCompression))
	}

	if cw.err != nil {
		return cw.err
	}
	return bw.Flush()
}

func ReadVendorBootConfig(path string) (*VendorBootImageInfo, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	info := &VendorBootImageInfo{}
	cr := &configReader{r: bufio.NewReader(fd)}

	cr.str(&info.BootMagic)
	cr.u32(&info.HeaderVersion)
	cr.u32(&info.PageSize)
	cr.u32(&info.KernelLoadAddress)
	cr.u32(&info.RamdiskLoadAddress)
	cr.u32(&info.VendorRamdiskSize)
	cr.str(&info.Cmdline)
	cr.u32(&info.TagsLoadAddress)
	cr.str(&info.ProductName)
	cr.u32(&info.HeaderSize)
	cr.u32(&info.DtbSize)
	cr.u64(&info.DtbLoadAddress)

	cr.u32(&info.TableSize)
	cr.u32(&info.TableEntryNum)
	cr.u32(&info.TableEntrySize)
	cr.u32(&info.BootconfigSize)

	if cr.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, cr.err)
	}
	if info.BootMagic != VENDOR_BOOT_MAGIC {
		return nil, fmt.Errorf("%w: bad vendor boot magic", ErrInvalidConfig)
	}
	if info.TableEntryNum > VENDOR_RAMDISK_TABLE_MAX_ENTRIES {
		return nil, fmt.Errorf("%w: implausible ramdisk table entry count %d",
			ErrInvalidConfig, info.TableEntryNum)
	}

	info.Table = make([]VendorRamdiskTableEntry, 0, info.TableEntryNum)
	for i := uint32(0); i < info.TableEntryNum; i++ {
		var entry VendorRamdiskTableEntry
		cr.str(&entry.OutputName)
		cr.u32(&entry.Size)
		cr.u32(&entry.Offset)
		cr.u32(&entry.Type)
		cr.str(&entry.Name)
		for j := range entry.BoardId {
			cr.u32(&entry.BoardId[j])
		}
		var compression uint8
		cr.u8(&compression)
		if cr.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, cr.err)
		}
		entry.RamdiskCompression = Format(compression)
		info.Table = append(info.Table, entry)
	}
	return info, nil
}
