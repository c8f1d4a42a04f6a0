package ubi

import (
	"github.com/turing-machines/bmcflash/bmcerr"
	"github.com/turing-machines/bmcflash/nand"
)

const scanPageChunk = 4

// Scan classifies every block of dev, reading only as much of each block
// as is needed to determine its content, and returns the resulting Ebt.
func Scan(dev nand.Device) (Ebt, error) {
	layout := dev.Layout()
	ebt := make(Ebt, layout.Blocks)

	for i := uint32(0); i < layout.Blocks; i++ {
		block, err := dev.Block(i)
		if err != nil {
			return nil, err
		}
		if block == nil {
			ebt[i] = Block{State: StateBad}
			continue
		}

		content, err := scanBlock(block)
		if err != nil {
			return nil, err
		}
		ebt[i] = content
	}

	return ebt, nil
}

func scanBlock(block nand.Block) (Block, error) {
	pageSize := block.PageSize()
	buf := make([]byte, pageSize*scanPageChunk)

	var ec *Ec

	for startPage := uint32(0); startPage < block.PageCount(); startPage += scanPageChunk {
		if ec != nil {
			// An EC header followed only by erased pages so far makes it
			// very likely the rest of the block is erased too; the format
			// protocol never leaves a gap between an EC header and its
			// data, so this is a safe early exit.
			break
		}

		endPage := startPage + scanPageChunk
		if endPage > block.PageCount() {
			endPage = block.PageCount()
		}
		pages := endPage - startPage

		chunk := buf[:pageSize*int(pages)]
		if err := block.Read(startPage, chunk); err != nil {
			return Block{}, bmcerr.Wrap(bmcerr.IoError, err, "scan block")
		}

		for page := startPage; page < endPage; page++ {
			offset := int(page-startPage) * pageSize
			pageBytes := chunk[offset : offset+pageSize]

			if page == 0 {
				if vid, ok := DecodeVid(pageBytes); ok {
					return Block{State: StateRawVid, Vid: &vid}, nil
				}
				if decoded, ok := DecodeEc(pageBytes); ok {
					ec = &decoded
					continue
				}
			}

			if !nand.IsErased(pageBytes) {
				var vid *Vid
				if page == 1 {
					if v, ok := DecodeVid(pageBytes); ok {
						vid = &v
					}
				}

				if ec == nil {
					return Block{State: StateGarbage}, nil
				}
				return Block{State: StateEcData, Ec: *ec, Vid: vid}, nil
			}
		}
	}

	if ec != nil {
		return Block{State: StateEcErased, Ec: *ec}, nil
	}
	return Block{State: StateErased}, nil
}
