package ubi

import "github.com/turing-machines/bmcflash/bmcerr"

func errBufferTooSmall(what string, want, got int) error {
	return bmcerr.Newf(bmcerr.Internal, "%s needs %d bytes, got %d", what, want, got)
}
