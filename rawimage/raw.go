// Package rawimage writes plain (non-UBI) images sequentially across
// blocks: the legacy-boot0 purge and the bootloader-partition writer.
package rawimage

import (
	"bytes"
	"io"

	"github.com/turing-machines/bmcflash/bmcerr"
	"github.com/turing-machines/bmcflash/nand"
)

const (
	checkChunkPages   = 8
	maxProgramRetries = 5
)

// CheckRawBlock scans block and reports how many leading pages already
// match data, so programming may resume from that page without erasing.
// Only the pages data itself spans are ever examined: once data is
// exhausted the block already matches as far as this write cares, whatever
// follows in the block belongs to unrelated content. ok is false when a
// mismatching page is found that is not itself fully erased, meaning the
// block must be erased before it can be rewritten.
func CheckRawBlock(block nand.Block, data []byte) (resumePage uint32, ok bool, err error) {
	pageSize := block.PageSize()

	totalPages := uint32((len(data) + pageSize - 1) / pageSize)
	if totalPages > block.PageCount() {
		totalPages = block.PageCount()
	}

	buf := make([]byte, pageSize*checkChunkPages)
	mismatchAt := int64(-1)

	for page := uint32(0); page < totalPages; {
		chunkPages := uint32(checkChunkPages)
		if left := totalPages - page; left < chunkPages {
			chunkPages = left
		}

		chunk := buf[:pageSize*int(chunkPages)]
		if err := block.Read(page, chunk); err != nil {
			return 0, false, bmcerr.Wrap(bmcerr.IoError, err, "check raw block")
		}

		for i := uint32(0); i < chunkPages; i++ {
			pageNum := page + i
			pageContent := chunk[int(i)*pageSize : int(i+1)*pageSize]

			dataStart := int(pageNum) * pageSize
			dataEnd := dataStart + pageSize
			if dataEnd > len(data) {
				dataEnd = len(data)
			}
			want := data[dataStart:dataEnd]

			if mismatchAt == -1 {
				matches := bytes.Equal(pageContent[:len(want)], want)
				if matches && len(want) < pageSize {
					// The trailing bytes of a short final page are implicitly
					// 0xFF padding once programmed; require the same here.
					matches = nand.IsErased(pageContent[len(want):])
				}
				if !matches {
					mismatchAt = int64(pageNum)
				}
			}

			if mismatchAt != -1 && !nand.IsErased(pageContent) {
				return 0, false, nil
			}
		}

		page += chunkPages
	}

	if mismatchAt != -1 {
		return uint32(mismatchAt), true, nil
	}
	return totalPages, true, nil
}

func updateRawBlock(block nand.Block, data []byte) error {
	startPage, ok, err := CheckRawBlock(block, data)
	if err != nil {
		return err
	}
	if !ok {
		if err := block.Erase(); err != nil {
			return bmcerr.Wrap(bmcerr.IoError, err, "erase before raw write")
		}
		startPage = 0
	}

	pageSize := block.PageSize()
	padded := data
	if rem := len(data) % pageSize; rem != 0 {
		padded = make([]byte, len(data)+(pageSize-rem))
		copy(padded, data)
		for i := len(data); i < len(padded); i++ {
			padded[i] = 0xFF
		}
	}

	if startPage*uint32(pageSize) >= uint32(len(padded)) {
		return nil
	}

	return block.Program(startPage, padded[startPage*uint32(pageSize):])
}

// WriteRawImage writes image sequentially across dev's blocks, one block
// worth of data at a time, skipping (or failing on, if skipBad is false)
// any block that cannot be made to hold its data even after exhausting its
// program retries. It is idempotent: re-running after any failure resumes
// using CheckRawBlock rather than always erasing from scratch.
func WriteRawImage(dev nand.Device, image io.Reader, skipBad bool) error {
	layout := dev.Layout()
	blockSize := layout.BlockSize()

	var blockIndex uint32

	for {
		data := make([]byte, 0, blockSize)
		if err := nand.ReadToSlice(image, &data, blockSize); err != nil {
			return bmcerr.Wrap(bmcerr.IoError, err, "read image")
		}
		if len(data) == 0 {
			return nil
		}

		for {
			block, err := dev.Block(blockIndex)
			blockIndex++
			if err != nil {
				return err
			}

			wrote := false
			if block != nil {
				for attempt := 0; attempt < maxProgramRetries; attempt++ {
					if err := updateRawBlock(block, data); err == nil {
						wrote = true
						break
					}
					if err := block.Erase(); err != nil {
						return bmcerr.Wrap(bmcerr.IoError, err, "retry erase")
					}
				}
				if !wrote {
					if err := block.MarkBad(); err != nil {
						return bmcerr.Wrap(bmcerr.IoError, err, "mark bad")
					}
				}
			}

			if wrote {
				break
			}
			if !skipBad {
				return bmcerr.New(bmcerr.BadBlock, "unhandled bad block while writing raw image")
			}
		}
	}
}
