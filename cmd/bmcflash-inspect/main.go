// Command bmcflash-inspect scans an MTD partition and prints its
// erase-block table, one line per block.
package main

import (
	"fmt"
	"os"

	log "github.com/dsoprea/go-logging"
	flags "github.com/jessevdk/go-flags"

	"github.com/turing-machines/bmcflash/nand/mtd"
	"github.com/turing-machines/bmcflash/ubi"
)

type rootParameters struct {
	Device string `short:"d" long:"device" description:"MTD partition name to scan" required:"true"`
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

	dev, err := mtd.OpenNamed(rootArguments.Device)
	log.PanicIf(err)

	ebt, err := ubi.Scan(dev)
	log.PanicIf(err)

	for i, b := range ebt {
		fmt.Printf("block %5d: %s\n", i, b.Dump())
	}
}
