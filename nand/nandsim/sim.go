// Package nandsim is an in-memory nand.Device for tests and for dev-time
// image generation, replicating the write/erase/bad-block semantics of a
// real NAND part rather than a lenient in-memory stand-in.
package nandsim

import (
	"io"

	"github.com/turing-machines/bmcflash/nand"
)

// Device is an in-memory flash device.
type Device struct {
	layout nand.Layout
	blocks []*block
}

// New returns a fully erased device of the given geometry.
func New(layout nand.Layout) *Device {
	blocks := make([]*block, layout.Blocks)
	for i := range blocks {
		blocks[i] = &block{
			pageCount: layout.PagesPerBlock,
			pageSize:  layout.BytesPerPage,
		}
	}
	return &Device{layout: layout, blocks: blocks}
}

func (d *Device) Layout() nand.Layout { return d.layout }

func (d *Device) Block(index uint32) (nand.Block, error) {
	if index >= d.layout.Blocks {
		return nil, errOutOfRange(index)
	}
	b := d.blocks[index]
	if b.markedBad {
		return nil, nil
	}
	return b, nil
}

// Load overwrites every block's contents, one full block at a time, from r.
// A short final block (fewer than BlockSize bytes remaining) is accepted and
// padded with 0xFF; blocks past the end of r are left erased.
func (d *Device) Load(r io.Reader) error {
	blockSize := d.layout.BlockSize()
	buf := make([]byte, blockSize)

	for _, b := range d.blocks {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		data := make([]byte, blockSize)
		for i := range data {
			data[i] = 0xFF
		}
		copy(data, buf[:n])
		b.data = trimTrailingErased(data, b.pageSize)
		b.markedBad = false
	}
	return nil
}

// Save writes every block's current contents, one full block at a time, to
// w. A permanently bad block is written as all-0xFF, same as an erased one:
// the image format has no separate bad-block marker.
func (d *Device) Save(w io.Writer) error {
	blockSize := d.layout.BlockSize()
	buf := make([]byte, blockSize)

	for _, b := range d.blocks {
		for i := range buf {
			buf[i] = 0xFF
		}
		copy(buf, b.data)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func trimTrailingErased(data []byte, pageSize int) []byte {
	end := len(data)
	for end > 0 && nand.IsErased(data[end-pageSize:end]) {
		end -= pageSize
	}
	return data[:end:end]
}

type block struct {
	data      []byte
	pageCount uint32
	pageSize  int
	markedBad bool
}

func (b *block) PageCount() uint32 { return b.pageCount }
func (b *block) PageSize() int     { return b.pageSize }

func (b *block) Read(startPage uint32, content []byte) error {
	if err := b.checkRange(startPage, len(content)); err != nil {
		return err
	}

	begin := int(startPage) * b.pageSize

	written := 0
	if begin < len(b.data) {
		written = len(b.data) - begin
		if written > len(content) {
			written = len(content)
		}
	}

	if written > 0 {
		copy(content[:written], b.data[begin:begin+written])
	}
	for i := written; i < len(content); i++ {
		content[i] = 0xFF
	}
	return nil
}

func (b *block) Program(startPage uint32, content []byte) error {
	if err := b.checkRange(startPage, len(content)); err != nil {
		return err
	}

	pages := len(content) / b.pageSize
	for i := 0; i < pages; i++ {
		page := content[i*b.pageSize : (i+1)*b.pageSize]
		if err := b.writePage(startPage+uint32(i), page); err != nil {
			return err
		}
	}
	return nil
}

func (b *block) writePage(index uint32, content []byte) error {
	begin := int(index) * b.pageSize

	if nand.IsErased(content) {
		// Writing an all-0xFF page never changes flash state.
		return nil
	}

	if begin < len(b.data) {
		return errNotMonotonic(index)
	}

	if begin > len(b.data) {
		pad := make([]byte, begin-len(b.data))
		for i := range pad {
			pad[i] = 0xFF
		}
		b.data = append(b.data, pad...)
	}
	b.data = append(b.data, content...)
	return nil
}

func (b *block) Erase() error {
	b.data = nil
	return nil
}

func (b *block) MarkBad() error {
	b.data = nil
	b.markedBad = true
	return nil
}

func (b *block) checkRange(startPage uint32, n int) error {
	if n%b.pageSize != 0 {
		return errNotPageAligned(n)
	}
	pages := uint32(n / b.pageSize)
	if startPage+pages > b.pageCount {
		return errOutOfRange(startPage)
	}
	return nil
}
