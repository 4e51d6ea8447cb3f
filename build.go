package abik

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"abik/cpio"
	"abik/log"
)

// Build reassembles the image described by a working directory's
// configuration sidecar. The sidecar digest is verified before anything
// else is read; ramdisk directories are re-packed and re-compressed
// with their recorded method; the result lands in image-new or
// vendor_boot-new inside the same directory.
func Build(workdir string, lg log.Logger) bool {
	lg = log.Or(lg)
	start := time.Now()

	if err := build(workdir, lg); err != nil {
		lg.Errorf("%v", err)
		lg.Infof("Failed in %.1fs!", time.Since(start).Seconds())
		return false
	}
	lg.Infof("Done in %.1fs!", time.Since(start).Seconds())
	return true
}

func build(workdir string, lg log.Logger) error {
	config := filepath.Join(workdir, CONFIG_FILE)
	if _, err := os.Stat(config); err != nil {
		return fmt.Errorf("configuration file does not exist")
	}
	if err := ValidateSHA1(config); err != nil {
		return fmt.Errorf("configuration file is invalid: %w", err)
	}

	magic, err := ReadConfigMagic(config)
	if err != nil {
		return err
	}

	defer tryClean(workdir, ".build", ".tmp")

	switch magic {
	case BOOT_MAGIC:
		lg.Infof("boot magic: %s", BOOT_MAGIC)
		return buildBootImage(workdir, config, lg)
	case VENDOR_BOOT_MAGIC:
		lg.Infof("boot magic: %s", VENDOR_BOOT_MAGIC)
		return buildVendorBootImage(workdir, config, lg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidMagic, toHexString([]byte(magic)))
}

// buildRamdisk prepares one ramdisk for assembly: a directory is
// cpio-packed and compressed with the recorded method into ramdisk_out,
// a plain file is copied verbatim. Returns false when ramdisk_in does
// not exist at all.
func buildRamdisk(ramdisk_in, ramdisk_out string, method Format, lg log.Logger) (bool, error) {
	base := filepath.Base(ramdisk_in)

	st, err := os.Stat(ramdisk_in)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if !st.IsDir() {
		return true, copyFile(ramdisk_in, ramdisk_out)
	}

	lg.Infof("Packing %s using cpio", base)
	if err := cpio.Build(ramdisk_in, ramdisk_out, lg); err != nil {
		return false, err
	}

	switch method {
	case FormatLz4, FormatGzip, FormatLzma:
		lg.Infof("Compressing %s using %s", base, method)
		if err := CompressFile(method, ramdisk_out, lg); err != nil {
			return false, err
		}
	case FormatNone:
		// raw cpio goes in as-is
	default:
		lg.Infof("Compression method is unknown!")
		lg.Infof("%s will be kept uncompressed!", base)
	}
	return true, nil
}

func buildBootImage(workdir, config string, lg log.Logger) error {
	info, err := ReadBootConfig(config)
	if err != nil {
		return err
	}

	args := bootImageArgs{Output: filepath.Join(workdir, NEW_BOOT)}

	ramdisk := filepath.Join(workdir, RAMDISK_FILE)
	ramdisk_build := ramdisk + ".build"
	built, err := buildRamdisk(ramdisk, ramdisk_build, info.RamdiskCompression, lg)
	if err != nil {
		return err
	}

	if info.KernelSize > 0 {
		args.Kernel = filepath.Join(workdir, KERNEL_FILE)
	}
	if info.RamdiskSize > 0 {
		if !built {
			return fmt.Errorf("ramdisk is missing from %s", workdir)
		}
		args.Ramdisk = ramdisk_build
	}
	if info.SecondSize > 0 {
		args.Second = filepath.Join(workdir, SECOND_FILE)
	}
	if info.RecoveryDtboSize > 0 {
		args.RecoveryDtbo = filepath.Join(workdir, RECV_DTBO_FILE)
	}
	if info.DtbSize > 0 {
		args.Dtb = filepath.Join(workdir, DTB_FILE)
	}
	if info.BootSignatureSize > 0 {
		args.BootSignature = filepath.Join(workdir, BOOT_SIG_FILE)
	}

	os.Remove(args.Output)
	return writeBootImage(args, info, lg)
}

func buildVendorBootImage(workdir, config string, lg log.Logger) error {
	info, err := ReadVendorBootConfig(config)
	if err != nil {
		return err
	}

	args := vendorBootArgs{Output: filepath.Join(workdir, NEW_VENDOR_BOOT)}

	for _, entry := range info.Table {
		ramdisk := filepath.Join(workdir, entry.OutputName)
		ramdisk_build := ramdisk + ".build"
		built, err := buildRamdisk(ramdisk, ramdisk_build, entry.RamdiskCompression, lg)
		if err != nil {
			return err
		}
		if built {
			args.Ramdisks = append(args.Ramdisks, ramdisk_build)
		} else {
			return fmt.Errorf("%s is missing from %s", entry.OutputName, workdir)
		}
	}

	if info.DtbSize > 0 {
		args.Dtb = filepath.Join(workdir, DTB_FILE)
	}
	if info.BootconfigSize > 0 {
		args.Bootconfig = filepath.Join(workdir, BOOTCONFIG_FILE)
	}

	os.Remove(args.Output)
	return writeVendorBootImage(args, info, lg)
}

// tryClean removes temporary build artifacts; failures are ignored, the
// next build overwrites them anyway.
func tryClean(dir string, exts ...string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		for _, ext := range exts {
			if strings.HasSuffix(entry.Name(), ext) {
				os.Remove(filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(out, in, make([]byte, codecBufSize)); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
