//go:build linux || darwin

package block

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dacapoday/blockalloc"
)

func allocate(size int, mmap bool) ([]byte, func([]byte) error, error) {
	if !mmap {
		buf, err := heapAlloc(size)
		return buf, nil, err
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap %d bytes: %w: %w", size, blockalloc.ErrAllocateFailed, err)
	}
	return buf, unix.Munmap, nil
}
