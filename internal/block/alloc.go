package block

import (
	"fmt"

	"github.com/dacapoday/blockalloc"
)

// heapAlloc allocates from the Go heap, turning a rejected size into an
// error instead of a panic.
func heapAlloc(size int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("make %d bytes: %w: %v", size, blockalloc.ErrAllocateFailed, r)
		}
	}()
	return make([]byte, size), nil
}
