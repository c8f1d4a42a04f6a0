package ubi

import (
	"io"

	"github.com/turing-machines/bmcflash/nand"
)

const (
	layoutVolumeID     uint32 = 0x7FFFEFFF
	layoutVolumeEbs    uint32 = 2
	layoutVolumeCompat uint8  = 5
)

// Volume is one volume to be laid out into an image: the uboot-env and
// rootfs volumes an install writes both implement it via BasicVolume.
type Volume interface {
	// PreferredVolID reports the volume ID this volume would like to use,
	// if it cares (id 0 for uboot-env, for instance).
	PreferredVolID() (id uint32, ok bool)
	// EstimateBlocks estimates how many LEBs this volume will occupy, for
	// upfront capacity planning; it need not be exact.
	EstimateBlocks(ebSize uint32) uint32
	// IntoData begins reading this volume's payload now that the LEB size
	// and allocated volume ID are both known.
	IntoData(ebSize uint32, volID uint32) VolumeData
}

// VolumeData streams one volume's LEBs.
type VolumeData interface {
	// NextBlock appends the next LEB's payload to *data and returns the
	// paired VID header (with Sqnum left unset), or ok=false once the
	// volume is exhausted.
	NextBlock(data *[]byte) (vid Vid, ok bool, err error)
	// IntoVolTableRecord finalizes this volume's layout-volume entry. Only
	// valid once NextBlock has returned ok=false.
	IntoVolTableRecord() VolTableRecord
}

// BasicVolume is a Volume built from a plain byte stream.
type BasicVolume struct {
	image     io.Reader
	vtype     VolType
	id        *uint32
	size      *uint64
	name      string
	flags     uint8
	alignment uint32
}

// NewBasicVolume starts a Dynamic or Static volume builder.
func NewBasicVolume(vtype VolType) *BasicVolume {
	return &BasicVolume{vtype: vtype, alignment: 1}
}

// Image sets the volume's payload stream.
func (v *BasicVolume) Image(r io.Reader) *BasicVolume { v.image = r; return v }

// ID fixes the volume ID this volume wants to occupy.
func (v *BasicVolume) ID(id uint32) *BasicVolume { v.id = &id; return v }

// Size bounds (Dynamic) or fixes (Static) the volume's payload size.
func (v *BasicVolume) Size(n uint64) *BasicVolume { v.size = &n; return v }

// Name sets the volume's name.
func (v *BasicVolume) Name(name string) *BasicVolume { v.name = name; return v }

// Autoresize sets the volume's autoresize flag.
func (v *BasicVolume) Autoresize() *BasicVolume { v.flags |= 0x01; return v }

// SkipCheck sets the volume's skip-check flag (skips the slow CRC scrub
// UBIFS otherwise performs when first mounting the volume).
func (v *BasicVolume) SkipCheck() *BasicVolume { v.flags |= 0x02; return v }

// Align sets the volume's data alignment stride.
func (v *BasicVolume) Align(alignment uint32) *BasicVolume { v.alignment = alignment; return v }

func (v *BasicVolume) PreferredVolID() (uint32, bool) {
	if v.id == nil {
		return 0, false
	}
	return *v.id, true
}

func (v *BasicVolume) EstimateBlocks(ebSize uint32) uint32 {
	lebSize := ebSize - ebSize%v.alignment
	if lebSize == 0 {
		return 0
	}
	var size uint64
	if v.size != nil {
		size = *v.size
	}
	return uint32((size + uint64(lebSize) - 1) / uint64(lebSize))
}

func (v *BasicVolume) IntoData(ebSize uint32, volID uint32) VolumeData {
	var usedEbs uint32
	if v.vtype == Static {
		usedEbs = v.EstimateBlocks(ebSize)
	}
	dataPad := ebSize % v.alignment
	lebSize := ebSize - dataPad

	vid := Vid{VolType: v.vtype, VolID: volID, UsedEbs: usedEbs, DataPad: dataPad}
	record := VolTableRecord{
		ReservedPebs: usedEbs,
		Alignment:    v.alignment,
		DataPad:      dataPad,
		VolType:      v.vtype,
		Name:         v.name,
		Flags:        v.flags,
	}

	var image io.Reader = v.image
	if image != nil && v.size != nil {
		image = io.LimitReader(image, int64(*v.size))
	}

	return &basicVolumeData{image: image, lebSize: lebSize, vid: vid, record: record}
}

type basicVolumeData struct {
	image   io.Reader
	lebSize uint32
	vid     Vid
	lnum    uint32
	record  VolTableRecord
}

func (d *basicVolumeData) NextBlock(data *[]byte) (Vid, bool, error) {
	if d.image == nil {
		return Vid{}, false, nil
	}

	start := len(*data)
	if err := nand.ReadToSlice(d.image, data, int(d.lebSize)); err != nil {
		return Vid{}, false, err
	}
	chunk := (*data)[start:]
	if len(chunk) == 0 {
		return Vid{}, false, nil
	}

	vid := d.vid
	vid.Lnum = d.lnum
	d.lnum++

	if vid.VolType == Static {
		vid.DataSize = uint32(len(chunk))
		vid.DataCrc = crcJAMCRC(chunk)
	}

	return vid, true, nil
}

func (d *basicVolumeData) IntoVolTableRecord() VolTableRecord {
	rec := d.record
	if rec.ReservedPebs == 0 {
		rec.ReservedPebs = d.lnum
	}
	return rec
}

// layoutVolume is the synthesized volume carrying the volume table itself.
// It implements Volume so the ubinizer can treat it uniformly with every
// real volume, and additionally tracks per-ID record bookkeeping for the
// ubinizer's allocator.
type layoutVolume struct {
	records []*VolTableRecord
}

func newLayoutVolume(ebSize uint32) *layoutVolume {
	count := int(ebSize) / vtblRecordSize
	if count > maxVolumes {
		count = maxVolumes
	}
	return &layoutVolume{records: make([]*VolTableRecord, count)}
}

func (l *layoutVolume) isIDAvailable(id uint32) bool {
	return id < uint32(len(l.records)) && l.records[id] == nil
}

func (l *layoutVolume) allocateID() (uint32, bool) {
	for i, r := range l.records {
		if r == nil {
			return uint32(i), true
		}
	}
	return 0, false
}

func (l *layoutVolume) storeRecord(id uint32, rec VolTableRecord) {
	r := rec
	l.records[id] = &r
}

func (l *layoutVolume) PreferredVolID() (uint32, bool) { return layoutVolumeID, true }

func (l *layoutVolume) EstimateBlocks(ebSize uint32) uint32 { return layoutVolumeEbs }

func (l *layoutVolume) IntoData(ebSize uint32, volID uint32) VolumeData {
	data := make([]byte, 0, vtblRecordSize*len(l.records))
	for _, r := range l.records {
		if r == nil {
			data = append(data, encodeEmptyVolTableRecord()...)
			continue
		}
		encoded, err := r.Encode()
		if err != nil {
			panic(err)
		}
		data = append(data, encoded...)
	}

	vid := Vid{VolID: volID, VolType: Dynamic, Compat: layoutVolumeCompat}
	return &layoutVolumeData{vid: vid, data: data}
}

type layoutVolumeData struct {
	vid    Vid
	data   []byte
	copies uint32
}

func (d *layoutVolumeData) NextBlock(data *[]byte) (Vid, bool, error) {
	if d.copies >= layoutVolumeEbs {
		return Vid{}, false, nil
	}
	vid := d.vid
	vid.Lnum = d.copies
	d.copies++
	*data = append(*data, d.data...)
	return vid, true, nil
}

func (d *layoutVolumeData) IntoVolTableRecord() VolTableRecord {
	panic("ubi: the layout volume has no volume table record of its own")
}

// Ubinizer drives a set of volumes, plus the synthesized layout volume, as
// a single flat sequence of (Vid, payload) LEBs with a shared monotonic
// sequence number.
type Ubinizer struct {
	volumes    []Volume
	nextVolIdx int
	ebSize     uint32
	layout     *layoutVolume
	sqnum      uint64
	currentID  uint32
	current    VolumeData
}

// NewUbinizer starts a ubinizer over volumes, given the device's LEB size.
func NewUbinizer(volumes []Volume, ebSize uint32) *Ubinizer {
	return &Ubinizer{
		volumes: volumes,
		ebSize:  ebSize,
		layout:  newLayoutVolume(ebSize),
	}
}

// EstimateBlocks estimates the total LEB count an image needs for volumes,
// including the synthesized layout volume.
func EstimateBlocks(volumes []Volume, ebSize uint32) uint32 {
	total := layoutVolumeEbs
	for _, v := range volumes {
		total += v.EstimateBlocks(ebSize)
	}
	return total
}

func (u *Ubinizer) nextVolume() {
	if u.nextVolIdx < len(u.volumes) {
		vol := u.volumes[u.nextVolIdx]
		u.nextVolIdx++
		u.selectVolume(vol)
		return
	}
	if u.layout != nil {
		layout := u.layout
		u.layout = nil
		u.selectVolume(layout)
		return
	}
	u.current = nil
}

func (u *Ubinizer) selectVolume(vol Volume) {
	id, ok := vol.PreferredVolID()
	if u.layout != nil {
		if !ok || !u.layout.isIDAvailable(id) {
			id, ok = u.layout.allocateID()
		}
	}
	if !ok {
		panic("ubi: failed to allocate a volume ID: too many volumes")
	}

	u.currentID = id
	u.current = vol.IntoData(u.ebSize, id)
}

// NextBlock returns the next LEB in the image: real-volume LEBs first (in
// the order volumes were given, each volume exhausted before the next
// starts), then the two copies of the synthesized layout volume.
func (u *Ubinizer) NextBlock(data *[]byte) (Vid, bool, error) {
	for {
		if u.current == nil {
			u.nextVolume()
		}
		if u.current == nil {
			return Vid{}, false, nil
		}

		vid, ok, err := u.current.NextBlock(data)
		if err != nil {
			return Vid{}, false, err
		}
		if ok {
			if vid.VolID != u.currentID {
				panic("ubi: volume yielded a mismatched volume ID")
			}
			u.sqnum++
			return vid.WithSqnum(u.sqnum), true, nil
		}

		current := u.current
		currentID := u.currentID
		u.current = nil
		if u.layout != nil {
			u.layout.storeRecord(currentID, current.IntoVolTableRecord())
		}
	}
}
