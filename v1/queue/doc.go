// Package queue provides a priority-ordered backlog for retryable background
// work. Items are extracted in bounded batches and tracked in an in-flight
// set until completed; failed items re-enter the backlog with decayed
// priority until their retry budget is exhausted. The queue is decoupled
// from any particular executor.
package queue
