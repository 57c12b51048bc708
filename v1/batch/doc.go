// Package batch partitions ordered work into fixed-size groups and runs the
// groups concurrently through a caller-supplied runner, preserving input
// order in the flattened result. It is a fail-fast combinator: any group's
// failure fails the whole call. Callers needing per-item isolation must make
// the runner itself resilient.
package batch
