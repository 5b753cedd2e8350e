// Package queue provides the pending-request priority queue.
//
// Service order is ascending priority value (1 served first) with stable
// FIFO ordering within a priority, enforced by a monotonic arrival
// sequence. The queue carries no capacity logic; admission checks
// queued+running bounds before enqueueing.
package queue
