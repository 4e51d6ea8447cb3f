package abik

import (
	"os"
	"path/filepath"
	"strings"

	"abik/log"
)

// Cleanup removes every artifact this tool may have placed in workdir:
// unpacked components, ramdisk directories, the configuration sidecar
// and rebuilt images. User files with other names are left alone.
func Cleanup(workdir string, lg log.Logger) error {
	lg = log.Or(lg)
	lg.Infof("Cleaning up...")

	for _, name := range []string{
		KERNEL_FILE,
		RAMDISK_FILE,
		SECOND_FILE,
		RECV_DTBO_FILE,
		DTB_FILE,
		BOOT_SIG_FILE,
		BOOTCONFIG_FILE,
		CONFIG_FILE,
		NEW_BOOT,
		NEW_VENDOR_BOOT,
	} {
		if err := os.RemoveAll(filepath.Join(workdir, name)); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(workdir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), VND_RAMDISK) {
			if err := os.RemoveAll(filepath.Join(workdir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
