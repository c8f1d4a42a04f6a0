package ubi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turing-machines/bmcflash/nand"
	"github.com/turing-machines/bmcflash/nand/nandsim"
)

func writerTestLayout() nand.Layout {
	return nand.Layout{Blocks: 16, PagesPerBlock: 4, BytesPerPage: 512}
}

func TestWriteVolumesPlacesDataAndLayout(t *testing.T) {
	dev := nandsim.New(writerTestLayout())

	ebt, err := Scan(dev)
	require.NoError(t, err)
	require.NoError(t, Format(dev, ebt))

	env := NewBasicVolume(Dynamic).ID(0).Name("uboot-env").
		Size(128).Image(bytes.NewReader(bytes.Repeat([]byte{0x7A}, 128)))
	rootfs := NewBasicVolume(Static).Name("rootfs").SkipCheck().
		Size(128).Image(bytes.NewReader(bytes.Repeat([]byte{0x7B}, 128)))

	require.NoError(t, WriteVolumes(dev, ebt, []Volume{env, rootfs}))

	rescanned, err := Scan(dev)
	require.NoError(t, err)

	var dataBlocks, layoutBlocks int
	for _, b := range rescanned {
		if b.State != StateEcData {
			continue
		}
		require.NotNil(t, b.Vid)
		if b.Vid.VolID == layoutVolumeID {
			layoutBlocks++
		} else {
			dataBlocks++
		}
	}

	require.Equal(t, 2, dataBlocks, "one LEB each for uboot-env and rootfs")
	require.Equal(t, 2, layoutBlocks, "the layout volume always occupies exactly two LEBs")
}

func TestWriteVolumesFailsWhenFlashIsFull(t *testing.T) {
	dev := nandsim.New(nand.Layout{Blocks: 3, PagesPerBlock: 4, BytesPerPage: 512})

	ebt, err := Scan(dev)
	require.NoError(t, err)
	require.NoError(t, Format(dev, ebt))

	big := NewBasicVolume(Dynamic).Name("too-big").
		Size(4096).Image(bytes.NewReader(bytes.Repeat([]byte{0x01}, 4096)))

	err = WriteVolumes(dev, ebt, []Volume{big})
	require.Error(t, err)
}
