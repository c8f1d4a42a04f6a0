// Package layoutcfg holds the fixed layout constants the embedding binary
// must supply: the bootloader's offset and size within the boot partition,
// the MTD partition names, and the two UBI volume descriptors written on
// every install.
package layoutcfg

const bootloaderSectorSize = 64 * 2048

// Config is the layout the installer targets. The bootloader's size is a
// configuration parameter rather than a constant: current hardware reserves
// 6 sectors, legacy boards shipped with 5.
type Config struct {
	BootloaderOffset  int64
	BootloaderSectors int
	BootPartitionName string
	UbiPartitionName  string
}

// BootloaderSize is the maximum byte length of the bootloader partition.
func (c Config) BootloaderSize() int64 {
	return int64(c.BootloaderSectors) * bootloaderSectorSize
}

// Default is the current-hardware layout.
func Default() Config {
	return Config{
		BootloaderOffset:  8192,
		BootloaderSectors: 6,
		BootPartitionName: "boot",
		UbiPartitionName:  "ubi",
	}
}

// Legacy is the 5-sector bootloader-partition variant shipped on older
// boards.
func Legacy() Config {
	c := Default()
	c.BootloaderSectors = 5
	return c
}

// The two UBI volumes every install writes.
const (
	UbootEnvVolID = 0
	UbootEnvName  = "uboot-env"
	UbootEnvSize  = 65536

	RootfsName = "rootfs"
)
