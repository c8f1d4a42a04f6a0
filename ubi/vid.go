package ubi

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

const (
	vidHdrMagic = "UBI!"
	vidHdrSize  = 64
)

// VolType is the kind of a UBI volume: Dynamic volumes carry arbitrary
// data with no per-LEB checksum, Static volumes carry a fixed size with a
// recorded data_size/data_crc on every LEB.
type VolType uint8

const (
	Dynamic VolType = 1
	Static  VolType = 2
)

type vidHdrWire struct {
	Magic        [4]byte
	Version      uint8
	VolType      uint8
	CopyFlag     uint8
	Compat       uint8
	VolID        uint32
	Lnum         uint32
	Padding1     [4]byte
	DataSize     uint32
	UsedEbs      uint32
	DataPad      uint32
	DataCrc      uint32
	Padding2     [4]byte
	Sqnum        uint64
	Padding3     [12]byte
	HdrCRC       uint32
}

// Vid is the volume identifier header written at the start of every LEB.
type Vid struct {
	VolType  VolType
	CopyFlag bool
	Compat   uint8
	VolID    uint32
	Lnum     uint32
	DataSize uint32
	UsedEbs  uint32
	DataPad  uint32
	DataCrc  uint32
	Sqnum    uint64
}

// WithSqnum returns a copy of vid with the sequence number replaced.
func (v Vid) WithSqnum(sqnum uint64) Vid {
	v.Sqnum = sqnum
	return v
}

// DecodeVid decodes a VID header from the first vidHdrSize bytes of data.
func DecodeVid(data []byte) (vid Vid, ok bool) {
	if len(data) < vidHdrSize {
		return Vid{}, false
	}

	var w vidHdrWire
	if err := restruct.Unpack(data[:vidHdrSize], binary.BigEndian, &w); err != nil {
		return Vid{}, false
	}

	if string(w.Magic[:]) != vidHdrMagic || w.Version != ubiVersion {
		return Vid{}, false
	}

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil || len(packed) != vidHdrSize {
		return Vid{}, false
	}
	if crcJAMCRC(packed[:vidHdrSize-4]) != w.HdrCRC {
		return Vid{}, false
	}

	return Vid{
		VolType:  VolType(w.VolType),
		CopyFlag: w.CopyFlag != 0,
		Compat:   w.Compat,
		VolID:    w.VolID,
		Lnum:     w.Lnum,
		DataSize: w.DataSize,
		UsedEbs:  w.UsedEbs,
		DataPad:  w.DataPad,
		DataCrc:  w.DataCrc,
		Sqnum:    w.Sqnum,
	}, true
}

// Encode renders vid as a fresh VID header into the first vidHdrSize bytes
// of out.
func (v Vid) Encode(out []byte) error {
	if len(out) < vidHdrSize {
		return errBufferTooSmall("vid header", vidHdrSize, len(out))
	}

	w := vidHdrWire{
		Version:  ubiVersion,
		VolType:  uint8(v.VolType),
		Compat:   v.Compat,
		VolID:    v.VolID,
		Lnum:     v.Lnum,
		DataSize: v.DataSize,
		UsedEbs:  v.UsedEbs,
		DataPad:  v.DataPad,
		DataCrc:  v.DataCrc,
		Sqnum:    v.Sqnum,
	}
	if v.CopyFlag {
		w.CopyFlag = 1
	}
	copy(w.Magic[:], vidHdrMagic)

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		return err
	}
	w.HdrCRC = crcJAMCRC(packed[:vidHdrSize-4])

	packed, err = restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		return err
	}
	copy(out, packed)
	return nil
}
