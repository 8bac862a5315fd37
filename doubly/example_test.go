package doubly_test

import (
	"fmt"

	"github.com/dacapoday/blockalloc/doubly"
)

func Example() {
	a, err := doubly.New(160)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	p, _ := a.Acquire(16)
	q, _ := a.Acquire(32)
	fmt.Println(a)

	a.Release(p)
	a.Release(q)
	fmt.Println(a)

	// The next scan merges the runs it walks past.
	r, _ := a.Acquire(152)
	fmt.Println(a, r == p)

	// Output:
	// HXXXXXb....
	// Hb.b..b....
	// HXXXXXXXXXX true
}

func ExampleAllocator_Links() {
	a, _ := doubly.New(160)
	defer a.Close()

	p, _ := a.Acquire(0)
	a.Acquire(0)
	a.Release(p)

	for l := range a.Links() {
		fmt.Printf("%d: prev=%d next=%d\n", l.Index, l.Prev, l.Next)
	}

	// Output:
	// 0: prev=3 next=1
	// 1: prev=0 next=3
	// 3: prev=1 next=0
}
