package abik

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"abik/cpio"
	"abik/log"

	"github.com/edsrzf/mmap-go"
)

// Unpack splits a boot or vendor-boot image into its components under
// a fresh subdirectory of parent_dir. name is the desired directory
// name (a random one is generated when empty); when the name is taken,
// _1/_2/... suffixes are tried. With decode_ramdisk set, each ramdisk
// is decompressed and its cpio content extracted next to the other
// components. Errors are reported through the log sink; on failure the
// working directory is removed and false is returned.
func Unpack(src *os.File, parent_dir, name string, decode_ramdisk bool, lg log.Logger) bool {
	lg = log.Or(lg)
	start := time.Now()

	workdir, err := unpack(src, parent_dir, name, decode_ramdisk, lg)
	if err != nil {
		lg.Errorf("%v", err)
		if workdir != "" {
			os.RemoveAll(workdir)
		}
		lg.Infof("Failed in %.1fs!", time.Since(start).Seconds())
		return false
	}
	lg.Infof("Done in %.1fs!", time.Since(start).Seconds())
	return true
}

func unpack(src *os.File, parent_dir, name string, dec_ramdisk bool, lg log.Logger) (string, error) {
	if name == "" {
		name = randomName(16)
	}
	if parent_dir != "" {
		if err := os.MkdirAll(parent_dir, 0755); err != nil {
			return "", fmt.Errorf("could not create output directory: %w", err)
		}
	}
	workdir := uniquePath(filepath.Join(parent_dir, name))
	if err := os.Mkdir(workdir, 0755); err != nil {
		return "", fmt.Errorf("could not create output directory: %w", err)
	}
	lg.Infof("Working at: %s", filepath.Base(workdir))

	data, err := mmap.Map(src, mmap.RDONLY, 0)
	if err != nil {
		return workdir, fmt.Errorf("could not map input image: %w", err)
	}
	defer data.Unmap()

	if len(data) < BOOT_MAGIC_SIZE {
		return workdir, fmt.Errorf("%w: input holds %d bytes", ErrShortRead, len(data))
	}

	config := filepath.Join(workdir, CONFIG_FILE)

	switch {
	case bytes.Equal(data[:BOOT_MAGIC_SIZE], []byte(BOOT_MAGIC)):
		lg.Infof("boot magic: %s", BOOT_MAGIC)
		info, err := UnpackBootImage(data, workdir, dec_ramdisk, lg)
		if err != nil {
			return workdir, err
		}
		if err := WriteBootConfig(config, info); err != nil {
			return workdir, err
		}
		if err := AppendSHA1(config); err != nil {
			return workdir, fmt.Errorf("error sealing configuration: %w", err)
		}
		if dec_ramdisk && info.RamdiskSize > 0 {
			if err := unpackRamdisk(filepath.Join(workdir, RAMDISK_FILE), info.RamdiskCompression, lg); err != nil {
				return workdir, err
			}
		}

	case bytes.Equal(data[:BOOT_MAGIC_SIZE], []byte(VENDOR_BOOT_MAGIC)):
		lg.Infof("boot magic: %s", VENDOR_BOOT_MAGIC)
		info, err := UnpackVendorBootImage(data, workdir, dec_ramdisk, lg)
		if err != nil {
			return workdir, err
		}
		if err := WriteVendorBootConfig(config, info); err != nil {
			return workdir, err
		}
		if err := AppendSHA1(config); err != nil {
			return workdir, fmt.Errorf("error sealing configuration: %w", err)
		}
		if dec_ramdisk {
			for _, entry := range info.Table {
				if entry.Size == 0 {
					continue
				}
				if err := unpackRamdisk(filepath.Join(workdir, entry.OutputName), entry.RamdiskCompression, lg); err != nil {
					return workdir, err
				}
			}
		}

	default:
		return workdir, fmt.Errorf("%w: %s", ErrInvalidMagic, toHexString(data[:BOOT_MAGIC_SIZE]))
	}

	return workdir, nil
}

// unpackRamdisk turns a ramdisk blob into an editable directory of the
// same name: decompress (unless it is already a raw cpio), extract,
// drop the intermediate archive. Unknown containers are left untouched.
func unpackRamdisk(ramdisk_in string, method Format, lg log.Logger) error {
	base := filepath.Base(ramdisk_in)
	tmp := ramdisk_in + ".tmp"

	switch method {
	case FormatLz4, FormatGzip, FormatLzma:
		lg.Infof("Decompressing %s using %s", base, method)
		if err := DecompressFile(method, ramdisk_in, tmp, lg); err != nil {
			return err
		}
	case FormatNone:
		if err := os.Rename(ramdisk_in, tmp); err != nil {
			return err
		}
	default:
		lg.Infof("Compression method is unknown!")
		lg.Infof("%s will be kept compressed!", base)
		return nil
	}

	lg.Infof("Extracting %s using cpio", base)
	if err := cpio.Extract(tmp, ramdisk_in, lg); err != nil {
		return err
	}
	return os.Remove(tmp)
}
