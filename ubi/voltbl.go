package ubi

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

const (
	vtblRecordSize = 172
	maxVolumeName  = 128
	maxVolumes     = 128
)

type vtblRecordWire struct {
	ReservedPebs uint32
	Alignment    uint32
	DataPad      uint32
	VolType      uint8
	UpdMarker    uint8
	NameLen      uint16
	Name         [maxVolumeName]byte
	Flags        uint8
	Padding      [23]byte
	Crc          uint32
}

// VolTableRecord is one slot of the on-flash volume table: the layout
// volume holds one per real volume, describing its reserved size, the
// stride its payload is padded to, and its name.
type VolTableRecord struct {
	ReservedPebs uint32
	Alignment    uint32
	DataPad      uint32
	VolType      VolType
	UpdMarker    bool
	Name         string
	Flags        uint8
}

// DecodeVolTableRecord decodes one record from the first vtblRecordSize
// bytes of data. ok is false both for a CRC mismatch and for a CRC-valid
// all-zero (empty) slot, since neither names a used volume ID.
func DecodeVolTableRecord(data []byte) (rec VolTableRecord, ok bool) {
	if len(data) < vtblRecordSize {
		return VolTableRecord{}, false
	}

	var w vtblRecordWire
	if err := restruct.Unpack(data[:vtblRecordSize], binary.BigEndian, &w); err != nil {
		return VolTableRecord{}, false
	}

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil || len(packed) != vtblRecordSize {
		return VolTableRecord{}, false
	}
	if crcJAMCRC(packed[:vtblRecordSize-4]) != w.Crc {
		return VolTableRecord{}, false
	}

	if w.VolType != uint8(Dynamic) && w.VolType != uint8(Static) {
		return VolTableRecord{}, false
	}

	nameLen := int(w.NameLen)
	if nameLen > maxVolumeName {
		nameLen = maxVolumeName
	}

	return VolTableRecord{
		ReservedPebs: w.ReservedPebs,
		Alignment:    w.Alignment,
		DataPad:      w.DataPad,
		VolType:      VolType(w.VolType),
		UpdMarker:    w.UpdMarker != 0,
		Name:         string(w.Name[:nameLen]),
		Flags:        w.Flags,
	}, true
}

// Encode renders rec as a vtblRecordSize-byte record.
func (r VolTableRecord) Encode() ([]byte, error) {
	if len(r.Name) > maxVolumeName {
		return nil, errBufferTooSmall("volume name", maxVolumeName, len(r.Name))
	}

	w := vtblRecordWire{
		ReservedPebs: r.ReservedPebs,
		Alignment:    r.Alignment,
		DataPad:      r.DataPad,
		VolType:      uint8(r.VolType),
		NameLen:      uint16(len(r.Name)),
		Flags:        r.Flags,
	}
	if r.UpdMarker {
		w.UpdMarker = 1
	}
	copy(w.Name[:], r.Name)

	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		return nil, err
	}
	w.Crc = crcJAMCRC(packed[:vtblRecordSize-4])

	return restruct.Pack(binary.BigEndian, &w)
}

// encodeEmptyVolTableRecord renders an all-zero record with a valid CRC,
// the on-flash representation of an unused volume table slot.
func encodeEmptyVolTableRecord() []byte {
	var w vtblRecordWire
	packed, err := restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		panic(err)
	}
	w.Crc = crcJAMCRC(packed[:vtblRecordSize-4])
	packed, err = restruct.Pack(binary.BigEndian, &w)
	if err != nil {
		panic(err)
	}
	return packed
}
