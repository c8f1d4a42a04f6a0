package rawimage

import "github.com/turing-machines/bmcflash/nand"

const boot0Magic = "eGON.BT0"

// PurgeBoot0 scans every block of dev for a legacy Allwinner boot0 header
// and erases any block carrying one, so it cannot conflict with a U-Boot
// SPL image written there later. Returns true if any block was erased.
func PurgeBoot0(dev nand.Device) (purged bool, err error) {
	layout := dev.Layout()
	buf := make([]byte, layout.BytesPerPage)

	for i := uint32(0); i < layout.Blocks; i++ {
		block, err := dev.Block(i)
		if err != nil {
			return purged, err
		}
		if block == nil {
			continue
		}

		if err := block.Read(0, buf); err != nil {
			return purged, err
		}

		if isBoot0(buf) {
			if err := block.Erase(); err != nil {
				return purged, err
			}
			purged = true
		}
	}

	return purged, nil
}

// isBoot0 reports whether buf (a block's first page) carries a legacy
// Allwinner boot0 header: the eGON.BT0 magic at offset 4, not immediately
// followed by a U-Boot SPL tag at offset 0x14 (which uses a very similar
// header but is not the legacy code we need to purge).
func isBoot0(buf []byte) bool {
	if len(buf) < 0x17 {
		return false
	}
	if string(buf[0x04:0x0c]) != boot0Magic {
		return false
	}
	return string(buf[0x14:0x17]) != "SPL"
}
