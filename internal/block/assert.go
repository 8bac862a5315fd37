//go:build debug

package block

import "fmt"

// assertRun panics if a run header would describe an empty run, the
// bookkeeping block, or blocks past the end of the arena.
// Only enabled with -tags debug.
func assertRun(method string, i, count, total Index) {
	if i == 0 || i >= total {
		panic(fmt.Sprintf("%s: index %d outside [1, %d)", method, i, total))
	}
	if count == 0 || count > total-i {
		panic(fmt.Sprintf("%s: run %d+%d exceeds %d blocks", method, i, count, total))
	}
}
