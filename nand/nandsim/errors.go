package nandsim

import "fmt"

func errOutOfRange(index uint32) error {
	return fmt.Errorf("nandsim: page/block index %d out of range", index)
}

func errNotMonotonic(page uint32) error {
	return fmt.Errorf("nandsim: page %d already written; programming must be monotonic", page)
}

func errNotPageAligned(n int) error {
	return fmt.Errorf("nandsim: buffer of %d bytes is not a multiple of the page size", n)
}
