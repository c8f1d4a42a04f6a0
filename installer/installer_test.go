package installer

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turing-machines/bmcflash/layoutcfg"
	"github.com/turing-machines/bmcflash/nand"
	"github.com/turing-machines/bmcflash/nand/nandsim"
	"github.com/turing-machines/bmcflash/ubi"
)

const (
	erofsSuperOffset   = 1024
	erofsPosMagic      = 0
	erofsPosCksum      = 4
	erofsPosBlkszbits  = 12
	erofsPosBlocks     = 36
	erofsMagicV1       = 0xE0F5E1E2
	erofsSuperblockLen = 4096 - erofsSuperOffset

	// layoutVolumeID mirrors UBI's reserved layout-volume ID; the ubi
	// package keeps it unexported, so tests outside the package hardcode
	// the well-known constant rather than reach into it.
	layoutVolumeID = 0x7FFFEFFF
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// buildErofsImage synthesizes a minimal valid EROFS image whose superblock
// reports a filesystem exactly blocks*(1<<blkszbits) bytes long, the rest
// padded with trailing garbage that erofs.Size must not count.
func buildErofsImage(t *testing.T, blocks uint32, blkszbits uint8, pad int) []byte {
	t.Helper()

	img := make([]byte, erofsSuperOffset+erofsSuperblockLen+pad)
	sb := img[erofsSuperOffset : erofsSuperOffset+erofsSuperblockLen]

	putLE32(sb[erofsPosMagic:], erofsMagicV1)
	putLE32(sb[erofsPosBlocks:], blocks)
	sb[erofsPosBlkszbits] = blkszbits

	putLE32(sb[erofsPosCksum:], crc32cNoComplement(sb))
	return img
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func TestRunCompletesFullPipelineAndWritesLayoutVolume(t *testing.T) {
	bootLayout := nand.Layout{Blocks: 8, PagesPerBlock: 4, BytesPerPage: 64}
	ubiLayout := nand.Layout{Blocks: 16, PagesPerBlock: 4, BytesPerPage: 2048}

	bootDev := nandsim.New(bootLayout)
	ubiDev := nandsim.New(ubiLayout)

	lebSize := ubiLayout.BytesPerPage * int(ubiLayout.PagesPerBlock-2)
	rootfsImage := buildErofsImage(t, 1, 12, lebSize-4096)
	rootfs := bytes.NewReader(rootfsImage)

	bootloader := bytes.Repeat([]byte{0x5A}, bootLayout.BlockSize()*2)

	var steps []Step
	err := Run(layoutcfg.Default(), bootDev, ubiDev, rootfs, bytes.NewReader(bootloader), func(s Step) {
		steps = append(steps, s)
	})
	require.NoError(t, err)
	require.Equal(t, []Step{StepPurgeBoot0, StepScan, StepFormat, StepWriteRootfs, StepUpdateBoot}, steps)

	ebt, err := ubi.Scan(ubiDev)
	require.NoError(t, err)

	var layoutBlocks int
	for _, b := range ebt {
		if b.State == ubi.StateEcData && b.Vid != nil && b.Vid.VolID == layoutVolumeID {
			layoutBlocks++
		}
	}
	require.Equal(t, 2, layoutBlocks, "the layout volume always occupies exactly two physical blocks")
}

func crc32cNoComplement(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable) ^ 0xFFFFFFFF
}
