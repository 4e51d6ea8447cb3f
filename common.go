package abik

import (
	"crypto/rand"
	"fmt"
	"os"
)

// Host-visible names inside a working tree.
const (
	CONFIG_FILE     = ".parserconfig"
	KERNEL_FILE     = "kernel"
	RAMDISK_FILE    = "ramdisk"
	SECOND_FILE     = "second"
	RECV_DTBO_FILE  = "recovery_dtbo"
	DTB_FILE        = "dtb"
	BOOT_SIG_FILE   = "boot_signature"
	BOOTCONFIG_FILE = "bootconfig"
	VND_RAMDISK     = "vendor_ramdisk"
	NEW_BOOT        = "image-new"
	NEW_VENDOR_BOOT = "vendor_boot-new"
)

func align_to(v uint64, a uint64) uint64 {
	return (v + a - 1) / a * a
}

func align_padding(v, a uint64) uint64 {
	return align_to(v, a) - v
}

func numberOfPages(image_size, page_size uint32) uint32 {
	return (image_size + page_size - 1) / page_size
}

// uniquePath returns dir untouched when free, else dir_1, dir_2, ...
func uniquePath(dir string) string {
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return dir
	}
	for i := uint64(1); ; i++ {
		candidate := fmt.Sprintf("%s_%d", dir, i)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

const nameCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func randomName(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = nameCharset[int(b)%len(nameCharset)]
	}
	return string(buf)
}
