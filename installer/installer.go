// Package installer ties the NAND, UBI, raw-image, and EROFS components
// into the fixed reimaging pipeline used to upgrade or freshly install BMC
// firmware.
package installer

import (
	"io"

	log "github.com/dsoprea/go-logging"

	"github.com/turing-machines/bmcflash/erofs"
	"github.com/turing-machines/bmcflash/layoutcfg"
	"github.com/turing-machines/bmcflash/nand"
	"github.com/turing-machines/bmcflash/rawimage"
	"github.com/turing-machines/bmcflash/ubi"
)

// Step names the installer's pipeline stages, for progress reporting.
type Step string

const (
	StepPurgeBoot0  Step = "purge boot0"
	StepScan        Step = "scan"
	StepFormat      Step = "format"
	StepWriteRootfs Step = "write rootfs"
	StepUpdateBoot  Step = "update bootloader"
)

// Progress is called once per pipeline step, before it runs.
type Progress func(step Step)

// Run drives the full reimaging pipeline against bootDev/ubiDev: purge any
// legacy Allwinner boot0 header, scan and reformat the UBI partition, write
// the uboot-env and rootfs volumes, then update the bootloader partition
// with at most cfg.BootloaderSize() bytes read from bootloader.
// Idempotence is the recovery strategy: it is always safe to re-run after
// any step fails.
func Run(cfg layoutcfg.Config, bootDev, ubiDev nand.Device, rootfs io.ReadSeeker, bootloader io.Reader, onStep Progress) (err error) {
	defer func() {
		if state := recover(); state != nil {
			if asErr, ok := state.(error); ok {
				err = log.Wrap(asErr)
			} else {
				err = log.Errorf("installer: %v", state)
			}
		}
	}()

	report := func(s Step) {
		if onStep != nil {
			onStep(s)
		}
	}

	report(StepPurgeBoot0)
	if _, err := rawimage.PurgeBoot0(bootDev); err != nil {
		return log.Wrap(err)
	}

	report(StepScan)
	ebt, err := ubi.Scan(ubiDev)
	if err != nil {
		return log.Wrap(err)
	}

	report(StepFormat)
	if err := ubi.Format(ubiDev, ebt); err != nil {
		return log.Wrap(err)
	}

	rootfsSize, err := erofs.Size(rootfs)
	if err != nil {
		return log.Wrap(err)
	}

	report(StepWriteRootfs)
	volumes := []ubi.Volume{
		ubi.NewBasicVolume(ubi.Dynamic).
			ID(layoutcfg.UbootEnvVolID).
			Name(layoutcfg.UbootEnvName).
			Size(layoutcfg.UbootEnvSize),
		ubi.NewBasicVolume(ubi.Static).
			Name(layoutcfg.RootfsName).
			SkipCheck().
			Size(rootfsSize).
			Image(rootfs),
	}
	if err := ubi.WriteVolumes(ubiDev, ebt, volumes); err != nil {
		return log.Wrap(err)
	}

	report(StepUpdateBoot)
	bootloader = io.LimitReader(bootloader, cfg.BootloaderSize())
	if err := rawimage.WriteRawImage(bootDev, bootloader, false); err != nil {
		return log.Wrap(err)
	}

	return nil
}
