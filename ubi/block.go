package ubi

import "fmt"

// BlockState classifies the content a scan found in one physical block.
type BlockState int

const (
	// StateBad is a block the NAND layer reports as permanently bad.
	StateBad BlockState = iota
	// StateErased is a block with no valid EC header; entirely 0xFF.
	StateErased
	// StateEcErased carries a valid EC header followed by erased pages.
	StateEcErased
	// StateEcData carries a valid EC header and (usually) a VID header
	// followed by data.
	StateEcData
	// StateRawVid carries a VID header at page 0 with no EC header: the
	// signature of a block fused into a legacy superblock pairing.
	StateRawVid
	// StateGarbage has data but no recognizable header at all.
	StateGarbage
)

// Block is one physical block's classification, as recorded in an Ebt. Ec
// is meaningful when State is StateEcErased or StateEcData. Vid is
// meaningful (and may still be nil) when State is StateEcData or
// StateRawVid.
type Block struct {
	State BlockState
	Ec    Ec
	Vid   *Vid
}

// Ebt (erase-block table) is the scan result for an entire device: one
// Block entry per physical block index.
type Ebt []Block

// Dump renders a block's state as a short human-readable summary, for
// inspection tooling.
func (b Block) Dump() string {
	switch b.State {
	case StateBad:
		return "Bad"
	case StateErased:
		return "Erased"
	case StateEcErased:
		return fmt.Sprintf("EcErased(ec=%d, seq=%d)", b.Ec.EC, b.Ec.ImageSeq)
	case StateEcData:
		if b.Vid != nil {
			return fmt.Sprintf("EcData(ec=%d, vol=%d, lnum=%d)", b.Ec.EC, b.Vid.VolID, b.Vid.Lnum)
		}
		return fmt.Sprintf("EcData(ec=%d)", b.Ec.EC)
	case StateRawVid:
		return fmt.Sprintf("RawVid(vol=%d, lnum=%d)", b.Vid.VolID, b.Vid.Lnum)
	case StateGarbage:
		return "Garbage"
	default:
		return "Unknown"
	}
}
