package ubi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicVolumeStaticFourLebs(t *testing.T) {
	const lebSize = 1024
	payload := bytes.Repeat([]byte{0x11}, 4096)

	vol := NewBasicVolume(Static).
		ID(7).
		Size(uint64(len(payload))).
		Name("test").
		Image(bytes.NewReader(payload))

	require.Equal(t, uint32(4), vol.EstimateBlocks(lebSize))

	data := vol.IntoData(lebSize, 7)

	var out []byte
	vid, ok, err := data.NextBlock(&out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Static, vid.VolType)
	require.Equal(t, uint32(7), vid.VolID)
	require.Equal(t, uint32(0), vid.Lnum)
	require.Equal(t, uint32(lebSize), vid.DataSize)
	require.Equal(t, uint32(0x8d746e93), vid.DataCrc, "CRC of 1024 bytes of 0x11")
	require.Equal(t, payload[:lebSize], out)

	for i := 1; i < 4; i++ {
		out = out[:0]
		vid, ok, err := data.NextBlock(&out)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint32(i), vid.Lnum)
	}

	_, ok, err = data.NextBlock(&out)
	require.NoError(t, err)
	require.False(t, ok, "4096 bytes at a 1024-byte LEB size is exactly four LEBs")

	rec := data.IntoVolTableRecord()
	require.Equal(t, VolTableRecord{
		ReservedPebs: 4,
		Alignment:    1,
		DataPad:      0,
		VolType:      Static,
		Name:         "test",
	}, rec)
}

func TestBasicVolumeDynamicNoImageIsEmpty(t *testing.T) {
	vol := NewBasicVolume(Dynamic).ID(0).Name("uboot-env").Size(65536)
	data := vol.IntoData(1024, 0)

	var out []byte
	_, ok, err := data.NextBlock(&out)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, out)
}

func TestUbinizerAllocatesLayoutIDsAndAppendsLayoutVolumeLast(t *testing.T) {
	ebSize := uint32(1024)

	volA := NewBasicVolume(Dynamic).ID(0).Name("uboot-env").Size(512).
		Image(bytes.NewReader(bytes.Repeat([]byte{0x01}, 512)))
	volB := NewBasicVolume(Static).Name("rootfs").Size(512).
		Image(bytes.NewReader(bytes.Repeat([]byte{0x02}, 512)))

	u := NewUbinizer([]Volume{volA, volB}, ebSize)

	var sawVolIDs []uint32
	for {
		var data []byte
		vid, ok, err := u.NextBlock(&data)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NotZero(t, vid.Sqnum, "every emitted LEB must have a nonzero sqnum")
		if len(sawVolIDs) == 0 || sawVolIDs[len(sawVolIDs)-1] != vid.VolID {
			sawVolIDs = append(sawVolIDs, vid.VolID)
		}
	}

	// Real volumes in order, then the layout volume (twice, collapsed here
	// to one transition since VolID doesn't change between its two LEBs).
	require.Equal(t, []uint32{0, 1, layoutVolumeID}, sawVolIDs)
}
