package ubi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turing-machines/bmcflash/nand"
	"github.com/turing-machines/bmcflash/nand/nandsim"
)

func formatTestLayout() nand.Layout {
	return nand.Layout{Blocks: 8, PagesPerBlock: 4, BytesPerPage: 64}
}

func TestFormatBlankDeviceIsIdempotent(t *testing.T) {
	dev := nandsim.New(formatTestLayout())

	ebt, err := Scan(dev)
	require.NoError(t, err)
	for _, b := range ebt {
		require.Equal(t, StateErased, b.State)
	}

	require.NoError(t, Format(dev, ebt))
	for _, b := range ebt {
		require.Equal(t, StateEcErased, b.State)
	}
	first := make(Ebt, len(ebt))
	copy(first, ebt)

	rescanned, err := Scan(dev)
	require.NoError(t, err)
	require.Equal(t, first, rescanned)

	// Formatting an already-formatted device changes nothing.
	require.NoError(t, Format(dev, rescanned))
	require.Equal(t, first, rescanned)
}

func TestFormatMigratesLegacySuperblockPairing(t *testing.T) {
	layout := formatTestLayout()
	dev := nandsim.New(layout)

	// Seed a single fused pair (blocks 0/1): the even half carries a valid
	// EC header, the odd half carries a raw VID header with no EC — the
	// signature of the legacy layout.
	proto := Ec{EC: 5, VidHdrOffset: 64, DataOffset: 128, ImageSeq: 42}
	vid := Vid{VolType: Dynamic, VolID: 0, Lnum: 0}

	evenBlock, err := dev.Block(0)
	require.NoError(t, err)
	ecBuf := make([]byte, 64)
	require.NoError(t, proto.Encode(ecBuf))
	require.NoError(t, evenBlock.Program(0, ecBuf))

	oddBlock, err := dev.Block(1)
	require.NoError(t, err)
	vidBuf := make([]byte, 64)
	require.NoError(t, vid.Encode(vidBuf))
	require.NoError(t, oddBlock.Program(0, vidBuf))

	ebt, err := Scan(dev)
	require.NoError(t, err)
	require.Equal(t, StateEcErased, ebt[0].State)
	require.Equal(t, StateRawVid, ebt[1].State)

	require.NoError(t, Format(dev, ebt))

	rescanned, err := Scan(dev)
	require.NoError(t, err)
	for i, b := range rescanned {
		require.Equalf(t, StateEcErased, b.State, "block %d", i)
	}
}

// TestFormatMigrationPreservesEvenBlockWearHistory exercises the concrete
// scenario from the testable-properties list: every even block carries a
// real EC header plus a VID (StateEcData, forcing a re-erase), and every
// odd block is a raw VID header with no EC. Both blocks of the pair must
// be erased to reach a clean state, and since the odd block carries no EC
// of its own, it inherits the even block's pre-migration EC incremented by
// one, the same value the even block's own re-erase produces.
func TestFormatMigrationPreservesEvenBlockWearHistory(t *testing.T) {
	layout := nand.Layout{Blocks: 16, PagesPerBlock: 4, BytesPerPage: 64}
	dev := nandsim.New(layout)

	ec := Ec{EC: 5, VidHdrOffset: 64, DataOffset: 128, ImageSeq: 7}
	vid := Vid{VolType: Dynamic, VolID: 0, Lnum: 0}

	for i := uint32(0); i < layout.Blocks; i += 2 {
		writeBlockPages(t, dev, i, map[uint32][]byte{
			0: encodeEc(t, ec),
			1: encodeVid(t, vid),
		})

		oddBlock, err := dev.Block(i + 1)
		require.NoError(t, err)
		vidBuf := make([]byte, 64)
		require.NoError(t, vid.Encode(vidBuf))
		require.NoError(t, oddBlock.Program(0, vidBuf))
	}

	ebt, err := Scan(dev)
	require.NoError(t, err)
	for i := uint32(0); i < layout.Blocks; i += 2 {
		require.Equalf(t, StateEcData, ebt[i].State, "block %d", i)
		require.Equalf(t, StateRawVid, ebt[i+1].State, "block %d", i+1)
	}

	require.NoError(t, Format(dev, ebt))

	for i := uint32(0); i < layout.Blocks; i += 2 {
		require.Equalf(t, StateEcErased, ebt[i].State, "even block %d", i)
		require.Equalf(t, uint64(6), ebt[i].Ec.EC, "even block %d erase count", i)

		require.Equalf(t, StateEcErased, ebt[i+1].State, "odd block %d", i+1)
		require.Equalf(t, uint64(6), ebt[i+1].Ec.EC, "odd block %d inherits the even block's pre-migration erase count, incremented for its own erase", i+1)
	}
}
