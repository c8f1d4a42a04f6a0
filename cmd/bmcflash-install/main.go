// Command bmcflash-install drives the full reimaging pipeline against a
// pair of MTD partitions.
package main

import (
	"fmt"
	"os"

	log "github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	flags "github.com/jessevdk/go-flags"

	"github.com/turing-machines/bmcflash/installer"
	"github.com/turing-machines/bmcflash/layoutcfg"
	"github.com/turing-machines/bmcflash/nand/mtd"
)

type rootParameters struct {
	BootDevice string `short:"b" long:"boot-device" description:"MTD partition name for the bootloader" default:"boot"`
	UbiDevice  string `short:"u" long:"ubi-device" description:"MTD partition name for the UBI rootfs" default:"ubi"`
	Rootfs     string `short:"r" long:"rootfs" description:"Path to the EROFS rootfs image" required:"true"`
	Bootloader string `short:"l" long:"bootloader" description:"Path to the bootloader image" required:"true"`
	Legacy     bool   `long:"legacy-bootloader" description:"Target the 5-sector legacy bootloader partition size"`
}

var rootArguments = new(rootParameters)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}

	cfg := layoutcfg.Default()
	if rootArguments.Legacy {
		cfg = layoutcfg.Legacy()
	}

	bootDev, err := mtd.OpenNamed(rootArguments.BootDevice)
	log.PanicIf(err)

	ubiDev, err := mtd.OpenNamed(rootArguments.UbiDevice)
	log.PanicIf(err)

	rootfs, err := os.Open(rootArguments.Rootfs)
	log.PanicIf(err)
	defer rootfs.Close()

	bootloader, err := os.Open(rootArguments.Bootloader)
	log.PanicIf(err)
	defer bootloader.Close()

	info, err := rootfs.Stat()
	log.PanicIf(err)
	fmt.Printf("Installing rootfs (%s) onto %q/%q\n",
		humanize.Bytes(uint64(info.Size())), rootArguments.BootDevice, rootArguments.UbiDevice)

	err = installer.Run(cfg, bootDev, ubiDev, rootfs, bootloader, func(step installer.Step) {
		fmt.Printf("  -> %s\n", step)
	})
	log.PanicIf(err)

	fmt.Println("Installation complete.")
}
