package ubi

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

const (
	ecHdrMagic = "UBI#"
	ubiVersion = uint8(1)
	ecHdrSize  = 64
)

// ecHdrWire is the bit-exact, big-endian on-flash layout of a UBI erase
// counter header.
type ecHdrWire struct {
	Magic        [4]byte
	Version      uint8
	Padding1     [3]byte
	EC           uint64
	VidHdrOffset uint32
	DataOffset   uint32
	ImageSeq     uint32
	Padding2     [32]byte
	HdrCRC       uint32
}

// Ec is the erase counter header: the erase count plus the layout fields
// every block in an image shares.
type Ec struct {
	EC           uint64
	VidHdrOffset uint32
	DataOffset   uint32
	ImageSeq     uint32
}

// WithEC returns a copy of ec with the erase count replaced.
func (e Ec) WithEC(ec uint64) Ec {
	e.EC = ec
	return e
}

// IncEC returns a copy of ec with the erase count incremented by one.
func (e Ec) IncEC() Ec {
	e.EC++
	return e
}

// DecodeEc decodes an EC header from the first ecHdrSize bytes of data. ok
// is false (with no error) when the magic, version, or CRC simply don't
// match — that is not a decode failure, just "no EC header here".
func DecodeEc(data []byte) (ec Ec, ok bool) {
	if len(data) < ecHdrSize {
		return Ec{}, false
	}

	var w ecHdrWire
	if err := restruct.Unpack(data[:ecHdrSize], binary.BigEndian, &w); err != nil {
		return Ec{}, false
	}

	if string(w.Magic[:]) != ecHdrMagic || w.Version != ubiVersion {
		return Ec{}, false
	}

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil || len(packed) != ecHdrSize {
		return Ec{}, false
	}
	if crcJAMCRC(packed[:ecHdrSize-4]) != w.HdrCRC {
		return Ec{}, false
	}

	return Ec{EC: w.EC, VidHdrOffset: w.VidHdrOffset, DataOffset: w.DataOffset, ImageSeq: w.ImageSeq}, true
}

// Encode renders ec as a fresh EC header (magic, version, and CRC filled
// in) into the first ecHdrSize bytes of out.
func (e Ec) Encode(out []byte) error {
	if len(out) < ecHdrSize {
		return errBufferTooSmall("ec header", ecHdrSize, len(out))
	}

	w := ecHdrWire{
		Version:      ubiVersion,
		EC:           e.EC,
		VidHdrOffset: e.VidHdrOffset,
		DataOffset:   e.DataOffset,
		ImageSeq:     e.ImageSeq,
	}
	copy(w.Magic[:], ecHdrMagic)

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		return err
	}
	w.HdrCRC = crcJAMCRC(packed[:ecHdrSize-4])

	packed, err = restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		return err
	}
	copy(out, packed)
	return nil
}
