// Package main implements gcperfsim, a garbage collector stress simulator.
// It allocates objects from weighted size buckets, keeps a configurable
// fraction of them alive and reports per-region allocation totals in a
// machine-readable STATS block.
package main

func main() {
	execute()
}
