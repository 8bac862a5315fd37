package blockalloc

import "errors"

var (
	ErrClosed           = errors.New("closed")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrAllocateFailed   = errors.New("allocate failed")
	ErrInvalidCapacity  = errors.New("invalid capacity")
	ErrInvalidBlockSize = errors.New("invalid block size")
	ErrInvalidRelease   = errors.New("invalid release")
	ErrOutOfRange       = errors.New("out of range")
	ErrBadLayout        = errors.New("bad layout")
	ErrCorrupt          = errors.New("corrupt arena")
)
