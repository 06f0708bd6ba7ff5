// Package workqueue provides an unbounded FIFO queue with a blocking take.
//
// Invariants:
//   - Items are popped in the order they were pushed.
//   - Push never blocks and never rejects because of depth.
//   - After Close, Push fails with ErrClosed and Pop drains nothing; Close hands
//     back every item that was still queued so the owner can fail it.
//   - Queue activity is observable through enqueued/dequeued events and metrics.
//
// Usage:
//
//	q := workqueue.New[*Job]("chatgpt")
//	_ = q.Push(job)
//	job, err := q.Pop(ctx)
package workqueue
