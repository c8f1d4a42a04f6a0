// Package nand defines the abstract contract a raw flash device must
// satisfy for the rest of this module: block-granularity erase, monotonic
// page-granularity programming within an erased block, and permanent
// bad-block marking. package nandsim backs it with an in-memory simulator;
// package mtd backs it with a real Linux MTD character device.
package nand

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Layout describes the geometry of a flash device: how many blocks it has,
// how many pages each block holds, and the byte size of a page.
type Layout struct {
	Blocks        uint32
	PagesPerBlock uint32
	BytesPerPage  int
}

// BlockSize returns the erase-block size in bytes.
func (l Layout) BlockSize() int {
	return int(l.PagesPerBlock) * l.BytesPerPage
}

// ParseLayout parses a "BLOCKSxPAGESxBYTES" string, e.g. "16x64x2048",
// describing a device's geometry.
func ParseLayout(s string) (Layout, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return Layout{}, fmt.Errorf("nand: layout %q must be BLOCKSxPAGESxBYTES", s)
	}

	blocks, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Layout{}, fmt.Errorf("nand: invalid block count in %q: %w", s, err)
	}
	pages, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Layout{}, fmt.Errorf("nand: invalid page count in %q: %w", s, err)
	}
	bytesPerPage, err := strconv.Atoi(parts[2])
	if err != nil {
		return Layout{}, fmt.Errorf("nand: invalid page size in %q: %w", s, err)
	}

	return Layout{
		Blocks:        uint32(blocks),
		PagesPerBlock: uint32(pages),
		BytesPerPage:  bytesPerPage,
	}, nil
}

// Device is a flash device addressable by block index.
type Device interface {
	// Layout reports the device's fixed geometry.
	Layout() Layout

	// Block returns a handle to the block at index, or a nil Block (with a
	// nil error) if that block is permanently marked bad. An out-of-range
	// index is an error.
	Block(index uint32) (Block, error)
}

// Block is a single erase block of a Device.
type Block interface {
	// PageCount reports how many pages this block holds.
	PageCount() uint32

	// PageSize reports the byte size of one page.
	PageSize() int

	// Read fills content (a multiple of PageSize bytes) starting at
	// startPage. Pages never programmed read back as 0xFF.
	Read(startPage uint32, content []byte) error

	// Program writes content (a multiple of PageSize bytes) starting at
	// startPage. startPage must not be less than the block's current
	// write position; content must not unprogram any bit (writing 0xFF
	// pages is always a no-op).
	Program(startPage uint32, content []byte) error

	// Erase resets every page of the block to 0xFF and resets the write
	// position to page 0.
	Erase() error

	// MarkBad permanently marks the block bad. The simulator also discards
	// the block's contents; the MTD backend only sets the bad-block mark.
	MarkBad() error
}

// IsErased reports whether every byte of buf is 0xFF.
func IsErased(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// ReadToSlice reads up to n bytes from r, appending them to *data, tolerant
// of EOF arriving before n bytes are available (the remainder is simply not
// appended).
func ReadToSlice(r io.Reader, data *[]byte, n int) error {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}
	*data = append(*data, buf[:read]...)
	return nil
}
