// Package lock provides in-process mutual exclusion over logical resource
// keys using expiring leases. A lease grants exclusive access to a resource
// until it is released or its TTL elapses, so a crashed or hung holder cannot
// wedge a resource forever. Expiry is checked lazily on every read path; a
// background sweeper additionally evicts abandoned leases to bound memory.
package lock
