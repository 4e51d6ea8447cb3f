package abik_test

import (
	"errors"
	"path/filepath"
	"testing"

	"abik"

	"github.com/google/go-cmp/cmp"
)

func TestBootConfigRoundTrip(t *testing.T) {
	info := &abik.BootImageInfo{
		BootMagic:          "ANDROID!",
		HeaderVersion:      2,
		KernelSize:         0x800000,
		RamdiskSize:        0x200000,
		RamdiskCompression: abik.FormatGzip,
		PageSize:           2048,
		OsVersion:          "11.0.0",
		OsPatchLevel:       "2021-05",
		Cmdline:            "console=ttyMSM0,115200n8 androidboot.hardware=qcom",
		KernelLoadAddress:  0x00008000,
		RamdiskLoadAddress: 0x01000000,
		SecondSize:         0,
		SecondLoadAddress:  0x00f00000,
		TagsLoadAddress:    0x00000100,
		ProductName:        "sdm845",
		ExtraCmdline:       "androidboot.dtbo_idx=0",
		RecoveryDtboSize:   1234,
		RecoveryDtboOffset: 0x00c00000,
		BootHeaderSize:     1660,
		DtbSize:            0x40000,
		DtbLoadAddress:     0x01f00000,
	}

	path := filepath.Join(t.TempDir(), abik.CONFIG_FILE)
	if err := abik.WriteBootConfig(path, info); err != nil {
		t.Fatal(err)
	}
	got, err := abik.ReadBootConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("config round trip mismatch (-want +got):\n%s", diff)
	}

	magic, err := abik.ReadConfigMagic(path)
	if err != nil {
		t.Fatal(err)
	}
	if magic != "ANDROID!" {
		t.Fatalf("magic: %q", magic)
	}
}

func TestVendorBootConfigRoundTrip(t *testing.T) {
	info := &abik.VendorBootImageInfo{
		BootMagic:          "VNDRBOOT",
		HeaderVersion:      4,
		PageSize:           4096,
		KernelLoadAddress:  0x00008000,
		RamdiskLoadAddress: 0x01000000,
		VendorRamdiskSize:  300,
		Cmdline:            "bootconfig",
		TagsLoadAddress:    0x00000100,
		ProductName:        "redfin",
		HeaderSize:         2128,
		DtbSize:            0x30000,
		DtbLoadAddress:     0x01f00000,
		TableSize:          216,
		TableEntryNum:      2,
		TableEntrySize:     108,
		BootconfigSize:     64,
		Table: []abik.VendorRamdiskTableEntry{
			{
				OutputName:         "vendor_ramdisk00",
				Size:               100,
				Offset:             0,
				Type:               1,
				Name:               "first",
				BoardId:            [4]uint32{1, 2, 3, 4},
				RamdiskCompression: abik.FormatLz4,
			},
			{
				OutputName:         "vendor_ramdisk01",
				Size:               200,
				Offset:             100,
				Type:               1,
				Name:               "second",
				RamdiskCompression: abik.FormatGzip,
			},
		},
	}

	path := filepath.Join(t.TempDir(), abik.CONFIG_FILE)
	if err := abik.WriteVendorBootConfig(path, info); err != nil {
		t.Fatal(err)
	}
	got, err := abik.ReadVendorBootConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("config round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestVendorBootConfigEntryCountMismatch(t *testing.T) {
	info := &abik.VendorBootImageInfo{
		BootMagic:     "VNDRBOOT",
		HeaderVersion: 4,
		TableEntryNum: 3, // but no entries
	}
	path := filepath.Join(t.TempDir(), abik.CONFIG_FILE)
	err := abik.WriteVendorBootConfig(path, info)
	if !errors.Is(err, abik.ErrInvalidConfig) {
		t.Fatalf("Expect ErrInvalidConfig, But: %v", err)
	}
}

func TestReadBootConfigRejectsForeignMagic(t *testing.T) {
	info := &abik.VendorBootImageInfo{
		BootMagic:     "VNDRBOOT",
		HeaderVersion: 3,
	}
	path := filepath.Join(t.TempDir(), abik.CONFIG_FILE)
	if err := abik.WriteVendorBootConfig(path, info); err != nil {
		t.Fatal(err)
	}
	if _, err := abik.ReadBootConfig(path); !errors.Is(err, abik.ErrInvalidConfig) {
		t.Fatalf("Expect ErrInvalidConfig, But: %v", err)
	}
}
