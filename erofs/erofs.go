// Package erofs determines the meaningful byte size of an EROFS filesystem
// image from its superblock, so a raw partition containing one (padded
// with trailing garbage, or simply larger than the filesystem) can be
// copied without copying more than it has to.
package erofs

import (
	"hash/crc32"
	"io"
	"math/bits"

	"github.com/turing-machines/bmcflash/bmcerr"
)

const (
	superOffset = 1024
	superSize   = 4096 - superOffset

	posMagic     = 0
	posCksum     = 4
	posBlkszbits = 12
	posBlocks    = 36

	magicV1 = 0xE0F5E1E2
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the EROFS-flavored CRC-32C: Castagnoli, reflected,
// seeded with 0xFFFFFFFF, but without the final complement the stdlib
// applies — the same relationship JAMCRC bears to ordinary CRC-32.
func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable) ^ 0xFFFFFFFF
}

// Size returns the byte size of the EROFS filesystem readable from r,
// derived from its superblock's block count and block-size-bits. r's
// position is restored to the start on return.
func Size(r io.ReadSeeker) (uint64, error) {
	if _, err := r.Seek(superOffset, io.SeekStart); err != nil {
		return 0, bmcerr.Wrap(bmcerr.IoError, err, "seek to EROFS superblock")
	}

	sb := make([]byte, superSize)
	if _, err := io.ReadFull(r, sb); err != nil {
		return 0, bmcerr.Wrap(bmcerr.IoError, err, "read EROFS superblock")
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, bmcerr.Wrap(bmcerr.IoError, err, "rewind after EROFS superblock read")
	}

	magic := leUint32(sb[posMagic:])
	if magic != magicV1 {
		return 0, bmcerr.New(bmcerr.BadInput, "EROFS filesystem not found")
	}

	cksum := leUint32(sb[posCksum:])
	clean := make([]byte, len(sb))
	copy(clean, sb)
	clean[posCksum] = 0
	clean[posCksum+1] = 0
	clean[posCksum+2] = 0
	clean[posCksum+3] = 0
	if cksum != crc32c(clean) {
		return 0, bmcerr.New(bmcerr.BadInput, "EROFS superblock is corrupt")
	}

	blocks := leUint32(sb[posBlocks:])
	blkszbits := sb[posBlkszbits]
	if blocks != 0 {
		highestBit := 31 - bits.LeadingZeros32(blocks)
		if int(blkszbits) > 63-highestBit {
			return 0, bmcerr.New(bmcerr.BadInput, "overflow computing EROFS image size")
		}
	}

	return uint64(blocks) << blkszbits, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
