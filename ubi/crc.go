package ubi

import "hash/crc32"

// crcJAMCRC is the UBI on-flash CRC: the IEEE CRC-32 polynomial, reflected,
// seeded with 0xFFFFFFFF, but without the final complement ordinary CRC-32
// applies. The stdlib only implements the complemented form, so undoing
// that complement is the entire difference.
func crcJAMCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data) ^ 0xFFFFFFFF
}
