// Package run orchestrates exclusive execution: acquire a lease, run a
// caller-supplied operation, keep the lease renewed while the operation is
// pending, and release it on every exit path. Contended acquisitions and
// failed operations are retried with exponential backoff up to a configured
// budget.
package run
