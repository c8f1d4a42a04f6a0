package ubi

import (
	"sort"

	"github.com/turing-machines/bmcflash/bmcerr"
	"github.com/turing-machines/bmcflash/nand"
)

const wearLevelPercentile = 25

// WriteVolumes drives an Ubinizer over volumes and places each resulting
// LEB onto a physical block chosen by a 25th-percentile-by-erase-count
// policy, updating ebt as it goes.
func WriteVolumes(dev nand.Device, ebt Ebt, volumes []Volume) error {
	layout := dev.Layout()
	if layout.PagesPerBlock <= 2 {
		return bmcerr.New(bmcerr.Internal, "block geometry leaves no room for a LEB")
	}
	ebSize := uint32(layout.BytesPerPage) * (layout.PagesPerBlock - 2)
	pageSize := layout.BytesPerPage
	vidSize := uint32(pageSize)

	placement := newPlacementQueue(ebt)
	ubinizer := NewUbinizer(volumes, ebSize)

	data := make([]byte, vidSize, int(ebSize)+int(vidSize))

	for {
		data = data[:vidSize]

		vid, ok, err := ubinizer.NextBlock(&data)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		size := len(data) + pageSize - 1
		size -= size % pageSize
		for len(data) < size {
			data = append(data, 0xFF)
		}
		for len(data) > 0 {
			tail := len(data) - pageSize
			if tail < int(vidSize) {
				break
			}
			if !nand.IsErased(data[tail:]) {
				break
			}
			data = data[:tail]
		}

		if err := vid.Encode(data[:vidSize]); err != nil {
			return err
		}

		if err := writeLeb(dev, ebt, placement, vid, data); err != nil {
			return err
		}
	}
}

func writeLeb(dev nand.Device, ebt Ebt, placement *placementQueue, vid Vid, data []byte) error {
	for {
		blockIdx, ok := placement.next()
		if !ok {
			return bmcerr.New(bmcerr.FlashFull, "no erased blocks remain for LEB placement")
		}

		entry := &ebt[blockIdx]
		ec := entry.Ec

		block, err := dev.Block(blockIdx)
		if err != nil {
			return err
		}
		if block == nil {
			entry.State = StateBad
			continue
		}

		if block.Program(1, data) == nil {
			v := vid
			entry.State = StateEcData
			entry.Vid = &v
			return nil
		}

		erase := plannedAction{kind: actionErase, ec: ec.IncEC()}
		if err := erase.execute(block, entry); err != nil {
			return err
		}
		if entry.State == StateBad {
			continue
		}

		block, err = dev.Block(blockIdx)
		if err != nil {
			return err
		}
		if block == nil {
			entry.State = StateBad
			continue
		}

		if block.Program(1, data) == nil {
			v := vid
			entry.State = StateEcData
			entry.Vid = &v
			return nil
		}

		if err := block.MarkBad(); err != nil {
			return err
		}
		entry.State = StateBad
	}
}

type ecBucket struct {
	ec     uint64
	blocks []uint32
}

// placementQueue hands out erased blocks ordered by the 25th-percentile
// erase-count policy: at each pick, the threshold is re-derived over
// whatever buckets remain, so consuming a bucket shifts the percentile for
// every subsequent pick rather than following a precomputed order.
type placementQueue struct {
	buckets []ecBucket
	cur     []uint32
}

func newPlacementQueue(ebt Ebt) *placementQueue {
	byEC := map[uint64][]uint32{}
	for i, b := range ebt {
		if b.State != StateEcErased {
			continue
		}
		byEC[b.Ec.EC] = append(byEC[b.Ec.EC], uint32(i))
	}

	ecs := make([]uint64, 0, len(byEC))
	for ec := range byEC {
		ecs = append(ecs, ec)
	}
	sort.Slice(ecs, func(i, j int) bool { return ecs[i] < ecs[j] })

	buckets := make([]ecBucket, len(ecs))
	for i, ec := range ecs {
		buckets[i] = ecBucket{ec: ec, blocks: byEC[ec]}
	}

	return &placementQueue{buckets: buckets}
}

func (q *placementQueue) next() (uint32, bool) {
	for len(q.cur) == 0 {
		if len(q.buckets) == 0 {
			return 0, false
		}

		total := 0
		for _, b := range q.buckets {
			total += len(b.blocks)
		}
		threshold := total * wearLevelPercentile / 100

		picked := len(q.buckets) - 1
		for i, b := range q.buckets {
			if len(b.blocks) >= threshold {
				picked = i
				break
			}
			threshold -= len(b.blocks)
		}

		q.cur = q.buckets[picked].blocks
		q.buckets = append(q.buckets[:picked], q.buckets[picked+1:]...)
	}

	block := q.cur[0]
	q.cur = q.cur[1:]
	return block, true
}
