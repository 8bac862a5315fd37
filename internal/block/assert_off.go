//go:build !debug

package block

// assertRun is a no-op in production.
// Enable with -tags debug for runtime checks.
func assertRun(string, Index, Index, Index) {}
