package rawimage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turing-machines/bmcflash/nand"
	"github.com/turing-machines/bmcflash/nand/nandsim"
)

func rawTestLayout() nand.Layout {
	return nand.Layout{Blocks: 8, PagesPerBlock: 43, BytesPerPage: 64}
}

func pagePattern(page int, pageSize int) []byte {
	buf := make([]byte, pageSize)
	for i := range buf {
		buf[i] = byte(page + 1)
	}
	return buf
}

func imageOf(pages int, pageSize int) []byte {
	buf := make([]byte, 0, pages*pageSize)
	for p := 0; p < pages; p++ {
		buf = append(buf, pagePattern(p, pageSize)...)
	}
	return buf
}

func TestCheckRawBlockEmptySliceIsZero(t *testing.T) {
	dev := nandsim.New(rawTestLayout())
	block, err := dev.Block(0)
	require.NoError(t, err)

	resume, ok, err := CheckRawBlock(block, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(0), resume)
}

func TestCheckRawBlockAllErasedMatchesOnBlankBlock(t *testing.T) {
	dev := nandsim.New(rawTestLayout())
	block, err := dev.Block(0)
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0xFF}, 5*64)
	resume, ok, err := CheckRawBlock(block, data)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(5), resume)
}

func TestCheckRawBlockPartiallyWrittenBlock(t *testing.T) {
	layout := rawTestLayout()
	dev := nandsim.New(layout)
	block, err := dev.Block(0)
	require.NoError(t, err)

	full := imageOf(43, layout.BytesPerPage)
	require.NoError(t, block.Program(0, full[:35*layout.BytesPerPage]))

	resume, ok, err := CheckRawBlock(block, full[:5*layout.BytesPerPage])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(5), resume)

	resume, ok, err = CheckRawBlock(block, full[:15*layout.BytesPerPage])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(15), resume)

	resume, ok, err = CheckRawBlock(block, full[:40*layout.BytesPerPage])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(35), resume, "pages 35-39 of data are unwritten content against erased pages")

	flipped := append([]byte(nil), full[:15*layout.BytesPerPage]...)
	flipped[10*layout.BytesPerPage] ^= 0x01
	_, ok, err = CheckRawBlock(block, flipped)
	require.NoError(t, err)
	require.False(t, ok, "a flipped byte inside the written prefix cannot be resumed without erasing")
}

func TestWriteRawImageResumesWithoutReErasingCompleteBlocks(t *testing.T) {
	layout := nand.Layout{Blocks: 2, PagesPerBlock: 4, BytesPerPage: 64}
	dev := nandsim.New(layout)

	image := append(bytes.Repeat([]byte{0xAA}, layout.BlockSize()), bytes.Repeat([]byte{0xBB}, layout.BlockSize())...)

	block0, err := dev.Block(0)
	require.NoError(t, err)
	require.NoError(t, block0.Program(0, image[:layout.BlockSize()]))

	block1, err := dev.Block(1)
	require.NoError(t, err)
	require.NoError(t, block1.Erase())

	require.NoError(t, WriteRawImage(dev, bytes.NewReader(image), false))

	readBack := func(b nand.Block) []byte {
		buf := make([]byte, layout.BlockSize())
		require.NoError(t, b.Read(0, buf))
		return buf
	}
	require.Equal(t, image[:layout.BlockSize()], readBack(block0))
	require.Equal(t, image[layout.BlockSize():], readBack(block1))
}

func TestWriteRawImageSkipsBadBlocks(t *testing.T) {
	layout := nand.Layout{Blocks: 6, PagesPerBlock: 2, BytesPerPage: 64}
	dev := nandsim.New(layout)

	bad, err := dev.Block(3)
	require.NoError(t, err)
	require.NoError(t, bad.MarkBad())

	image := bytes.Repeat([]byte{0x5A}, 5*layout.BlockSize())
	require.NoError(t, WriteRawImage(dev, bytes.NewReader(image), true))

	for _, idx := range []uint32{0, 1, 2, 4, 5} {
		block, err := dev.Block(idx)
		require.NoError(t, err)
		require.NotNil(t, block)
		buf := make([]byte, layout.BlockSize())
		require.NoError(t, block.Read(0, buf))
		require.True(t, bytes.Equal(buf, bytes.Repeat([]byte{0x5A}, layout.BlockSize())))
	}

	again, err := dev.Block(3)
	require.NoError(t, err)
	require.Nil(t, again, "block 3 remains bad")
}
