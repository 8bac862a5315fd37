package singly_test

import (
	"errors"
	"fmt"

	"github.com/dacapoday/blockalloc"
	"github.com/dacapoday/blockalloc/singly"
)

func Example() {
	a, err := singly.New(160)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	fmt.Println(a)

	p, _ := a.Acquire(16)
	q, _ := a.Acquire(32)
	fmt.Println(a)

	a.Release(p)
	fmt.Println(a)

	// q merges with the free run on both sides.
	a.Release(q)
	fmt.Println(a)

	_, err = a.Acquire(1000)
	fmt.Println(errors.Is(err, blockalloc.ErrOutOfMemory))

	// Output:
	// Hb.........
	// HXXXXXb....
	// Hb.XXXb....
	// Hb.........
	// true
}
