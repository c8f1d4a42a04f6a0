//go:build linux

// Package mtd backs nand.Device with the Linux MTD subsystem, talking to a
// /dev/mtdN character device via the MEMGETINFO, MEMGETBADBLOCK,
// MEMSETBADBLOCK, and MEMERASE ioctls.
package mtd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/turing-machines/bmcflash/bmcerr"
	"github.com/turing-machines/bmcflash/nand"
)

// ioctl request numbers from the kernel's mtd-abi.h, computed via the
// standard _IOR/_IOW encoding: (dir<<30)|(size<<16)|(type<<8)|nr.
const (
	ioctlMemGetInfo     = 0x80204D01 // _IOR('M', 1, struct mtd_info_user)
	ioctlMemErase       = 0x40084D02 // _IOW('M', 2, struct erase_info_user)
	ioctlMemGetBadBlock = 0x40084D0B // _IOW('M', 11, __kernel_loff_t)
	ioctlMemSetBadBlock = 0x40084D0C // _IOW('M', 12, __kernel_loff_t)

	mtdInfoUserSize = 32
)

// Device wraps an open MTD character device.
type Device struct {
	file   *os.File
	layout nand.Layout
}

// Open opens the MTD device at path (e.g. "/dev/mtd0").
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, bmcerr.Wrap(bmcerr.IoError, err, "open mtd device")
	}

	layout, err := getInfo(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Device{file: f, layout: layout}, nil
}

// OpenNamed finds the MTD partition registered under name (as listed in
// /proc/mtd) and opens it.
func OpenNamed(name string) (*Device, error) {
	f, err := os.Open("/proc/mtd")
	if err != nil {
		return nil, bmcerr.Wrap(bmcerr.IoError, err, "open /proc/mtd")
	}
	defer f.Close()

	quoted := fmt.Sprintf("%q", name)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, quoted) {
			dev := strings.SplitN(line, ":", 2)[0]
			return Open(filepath.Join("/dev", dev))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, bmcerr.Wrap(bmcerr.IoError, err, "scan /proc/mtd")
	}

	return nil, bmcerr.Newf(bmcerr.IoError, "MTD partition %q not found", name)
}

func getInfo(f *os.File) (nand.Layout, error) {
	buf := make([]byte, mtdInfoUserSize)
	if _, err := ioctl(f.Fd(), ioctlMemGetInfo, unsafe.Pointer(&buf[0])); err != nil {
		return nand.Layout{}, bmcerr.Wrap(bmcerr.IoError, err, "MEMGETINFO")
	}

	// struct mtd_info_user: u8 type, u32 flags @4, u32 size @8,
	// u32 erasesize @12, u32 writesize @16, u32 oobsize @20, u64 padding @24.
	size := binary.LittleEndian.Uint32(buf[8:12])
	eraseSize := binary.LittleEndian.Uint32(buf[12:16])
	writeSize := binary.LittleEndian.Uint32(buf[16:20])

	if writeSize == 1 {
		// mtdram debugging devices report a writesize of 1; treat as 64.
		writeSize = 64
	}

	if eraseSize == 0 || writeSize == 0 || size%eraseSize != 0 || eraseSize%writeSize != 0 {
		return nand.Layout{}, bmcerr.New(bmcerr.BadInput, "MTD geometry is not block/page aligned")
	}

	return nand.Layout{
		Blocks:        size / eraseSize,
		PagesPerBlock: eraseSize / writeSize,
		BytesPerPage:  int(writeSize),
	}, nil
}

func (d *Device) Layout() nand.Layout { return d.layout }

func (d *Device) blockBase(index uint32) int64 {
	return int64(d.layout.BlockSize()) * int64(index)
}

func (d *Device) Block(index uint32) (nand.Block, error) {
	if index >= d.layout.Blocks {
		return nil, bmcerr.New(bmcerr.Internal, "block index out of range")
	}

	base := uint64(d.blockBase(index))
	status, err := ioctl(d.file.Fd(), ioctlMemGetBadBlock, unsafe.Pointer(&base))
	if err != nil {
		return nil, bmcerr.Wrap(bmcerr.IoError, err, "MEMGETBADBLOCK")
	}
	if status != 0 {
		return nil, nil
	}

	return &block{dev: d, index: index}, nil
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) (uintptr, error) {
	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return r1, errno
	}
	return r1, nil
}

type block struct {
	dev   *Device
	index uint32
}

func (b *block) PageCount() uint32 { return b.dev.layout.PagesPerBlock }
func (b *block) PageSize() int     { return b.dev.layout.BytesPerPage }

func (b *block) offsetFor(startPage uint32, n int) (int64, error) {
	pageSize := b.PageSize()
	if n%pageSize != 0 {
		return 0, bmcerr.New(bmcerr.Internal, "buffer not a multiple of the page size")
	}
	endPage := startPage + uint32(n/pageSize)
	if endPage > b.PageCount() {
		return 0, bmcerr.New(bmcerr.Internal, "page range out of bounds")
	}
	return b.dev.blockBase(b.index) + int64(pageSize)*int64(startPage), nil
}

func (b *block) Read(startPage uint32, content []byte) error {
	offset, err := b.offsetFor(startPage, len(content))
	if err != nil {
		return err
	}
	if _, err := b.dev.file.ReadAt(content, offset); err != nil {
		return bmcerr.Wrap(bmcerr.IoError, err, "read")
	}
	return nil
}

func (b *block) Program(startPage uint32, content []byte) error {
	offset, err := b.offsetFor(startPage, len(content))
	if err != nil {
		return err
	}
	if _, err := b.dev.file.WriteAt(content, offset); err != nil {
		return bmcerr.Wrap(bmcerr.IoError, err, "program")
	}
	return nil
}

func (b *block) Erase() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(b.dev.blockBase(b.index)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b.dev.layout.BlockSize()))

	if _, err := ioctl(b.dev.file.Fd(), ioctlMemErase, unsafe.Pointer(&buf[0])); err != nil {
		return bmcerr.Wrap(bmcerr.IoError, err, "MEMERASE")
	}
	return nil
}

func (b *block) MarkBad() error {
	base := uint64(b.dev.blockBase(b.index))
	if _, err := ioctl(b.dev.file.Fd(), ioctlMemSetBadBlock, unsafe.Pointer(&base)); err != nil {
		return bmcerr.Wrap(bmcerr.IoError, err, "MEMSETBADBLOCK")
	}
	return nil
}
