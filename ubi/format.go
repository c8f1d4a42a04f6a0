package ubi

import (
	"sort"

	"github.com/turing-machines/bmcflash/bmcerr"
	"github.com/turing-machines/bmcflash/nand"
)

type formatActionKind int

const (
	actionIgnore formatActionKind = iota
	actionWrite
	actionErase
)

type plannedAction struct {
	kind formatActionKind
	ec   Ec
}

// execute carries out the plan against block, updating entry to match.
// Any failure to program a just-erased (or about-to-be-written) header
// marks the block permanently bad rather than propagating the error, since
// a single flaky block must not abort the whole format.
func (a plannedAction) execute(block nand.Block, entry *Block) error {
	switch a.kind {
	case actionIgnore:
		return nil

	case actionWrite:
		return a.writeHeader(block, entry, false)

	case actionErase:
		if err := block.Erase(); err != nil {
			return bmcerr.Wrap(bmcerr.IoError, err, "erase block")
		}
		return a.writeHeader(block, entry, true)

	default:
		return bmcerr.New(bmcerr.Internal, "unreachable format action")
	}
}

func (a plannedAction) writeHeader(block nand.Block, entry *Block, erased bool) error {
	hdr := make([]byte, block.PageSize())
	if err := a.ec.Encode(hdr); err != nil {
		return err
	}

	if err := block.Program(0, hdr); err != nil {
		if !erased {
			// Writing over non-erased content failed as expected; escalate
			// to a full erase-and-retry.
			return (plannedAction{kind: actionErase, ec: a.ec.IncEC()}).execute(block, entry)
		}
		entry.State = StateBad
		return block.MarkBad()
	}

	entry.State = StateEcErased
	entry.Ec = a.ec
	return nil
}

// eraseAction decides the plan for a single block during a plain
// (non-migrating) format.
func eraseAction(b Block, proto Ec) plannedAction {
	switch b.State {
	case StateBad:
		return plannedAction{kind: actionIgnore}
	case StateErased:
		return plannedAction{kind: actionWrite, ec: proto}
	case StateEcErased:
		if b.Ec == proto.WithEC(b.Ec.EC) {
			return plannedAction{kind: actionIgnore}
		}
		return plannedAction{kind: actionErase, ec: proto.WithEC(b.Ec.EC + 1)}
	case StateEcData:
		return plannedAction{kind: actionErase, ec: proto.WithEC(b.Ec.EC + 1)}
	case StateRawVid, StateGarbage:
		return plannedAction{kind: actionErase, ec: proto}
	default:
		return plannedAction{kind: actionErase, ec: proto}
	}
}

// migrateSuperblockAction decides the plan for one even/odd legacy
// superblock pair. The even block always follows the plain eraseAction
// rule, which erases a raw-VID even block back to the prototype; the odd
// block's rule additionally has to reconcile against whatever the even
// block's plan already decided.
func migrateSuperblockAction(even, odd Block, proto Ec) (evenAction, oddAction plannedAction) {
	evenAction = eraseAction(even, proto)

	evenHasEc := even.State == StateEcErased || even.State == StateEcData
	oddIsVid := odd.State == StateRawVid || odd.State == StateGarbage

	switch {
	case odd.State == StateBad:
		oddAction = plannedAction{kind: actionIgnore}

	case odd.State == StateEcErased && odd.Ec == proto.WithEC(odd.Ec.EC):
		oddAction = plannedAction{kind: actionIgnore}

	case odd.State == StateEcErased || odd.State == StateEcData:
		oddAction = plannedAction{kind: actionErase, ec: proto.WithEC(odd.Ec.EC + 1)}

	case evenHasEc && odd.State == StateErased:
		oddAction = plannedAction{kind: actionWrite, ec: proto.WithEC(even.Ec.EC)}

	case evenHasEc && oddIsVid:
		oddAction = plannedAction{kind: actionErase, ec: proto.WithEC(even.Ec.EC + 1)}

	case odd.State == StateErased:
		oddAction = plannedAction{kind: actionWrite, ec: proto}

	case oddIsVid:
		oddAction = plannedAction{kind: actionErase, ec: proto}

	default:
		oddAction = plannedAction{kind: actionErase, ec: proto}
	}

	return evenAction, oddAction
}

// computePrototype derives the EC header every freshly formatted block
// should carry: the image sequence number used by the most blocks (ties
// broken toward the lowest sequence number, for determinism), and the
// mean erase count across every block that already reports one.
func computePrototype(layout nand.Layout, blocks Ebt) Ec {
	pageSize := uint32(layout.BytesPerPage)

	seqCounts := map[uint32]int{}
	var ecSum, ecCount uint64

	for _, b := range blocks {
		if b.State != StateEcErased && b.State != StateEcData {
			continue
		}
		seqCounts[b.Ec.ImageSeq]++
		ecSum += b.Ec.EC
		ecCount++
	}

	keys := make([]uint32, 0, len(seqCounts))
	for k := range seqCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var imageSeq uint32
	best := -1
	for _, k := range keys {
		if seqCounts[k] > best {
			best = seqCounts[k]
			imageSeq = k
		}
	}

	ec := uint64(1)
	if ecCount > 0 {
		ec = (ecSum + ecCount/2) / ecCount
	}

	return Ec{VidHdrOffset: pageSize, DataOffset: pageSize * 2, EC: ec, ImageSeq: imageSeq}
}

type formatWorkItem struct {
	block  uint32
	action plannedAction
}

// Format brings every block of dev toward a consistent EC-header state,
// migrating any legacy fused-superblock pairing it finds along the way.
// Blocks that unambiguously identify the legacy layout are always executed
// last, so a power failure mid-migration always leaves the device in a
// state the next run can resume from.
func Format(dev nand.Device, ebt Ebt) error {
	proto := computePrototype(dev.Layout(), ebt)

	needsMigration := false
	for _, b := range ebt {
		if b.State == StateRawVid {
			needsMigration = true
			break
		}
	}

	var work []formatWorkItem
	if needsMigration {
		var front, back []formatWorkItem
		for i := 0; i+1 < len(ebt); i += 2 {
			even, odd := ebt[i], ebt[i+1]
			evenAction, oddAction := migrateSuperblockAction(even, odd, proto)
			isVid := even.State == StateRawVid || odd.State == StateRawVid

			pairs := [2]formatWorkItem{
				{block: uint32(i), action: evenAction},
				{block: uint32(i + 1), action: oddAction},
			}
			for _, item := range pairs {
				if item.action.kind == actionIgnore {
					continue
				}
				if isVid {
					back = append(back, item)
				} else {
					front = append(front, item)
				}
			}
		}
		reverseWorkItems(front)
		work = append(front, back...)
	} else {
		for i, b := range ebt {
			action := eraseAction(b, proto)
			if action.kind == actionIgnore {
				continue
			}
			work = append(work, formatWorkItem{block: uint32(i), action: action})
		}
	}

	for _, item := range work {
		block, err := dev.Block(item.block)
		if err != nil {
			return err
		}
		if block == nil {
			ebt[item.block].State = StateBad
			continue
		}
		if err := item.action.execute(block, &ebt[item.block]); err != nil {
			return err
		}
	}

	return nil
}

func reverseWorkItems(items []formatWorkItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
