// Package taskqueue implements the two-tier delayed/priority task queue that
// drives asynchronous dispatch (outbound notifications and similar work).
// All queue state lives in the shared store, so any instance can enqueue and
// any instance's pollers can promote or dispatch; a crashed instance loses
// nothing.
//
// # Keyspace
//
// All keys are prefixed with tradepost:q:{queue}::
//
//	delay     - zset, score = execute-at (server clock, fractional seconds)
//	priority  - zset, score = priority weight (higher dispatches first)
//	attempts  - hash, task id -> failed dispatch count
//	dead      - zset, score = dead-letter time
//
// The zset member is the serialized task; a task is in exactly one of the
// delay/priority/dead sets at a time (or none, once dispatched).
//
// # Task Lifecycle
//
//  1. Enqueue: delay == 0 -> priority set; delay > 0 -> delay set
//  2. Promotion: the delay poller moves due tasks into the priority set,
//     never before their execute-at time
//  3. Dispatch: the dispatch poller takes the highest-weight task, invokes
//     the Dispatcher under a per-task lock, and removes the task only after
//     the dispatcher confirms success
//  4. Failure: the attempt counter grows; the task stays visible for a later
//     cycle until MaxAttempts is spent, then moves to the dead set
//
// # At-Least-Once Semantics
//
// A dispatcher crash after delivery but before removal redelivers the task.
// Dispatchers must be idempotent or deduplicate on taskId.
//
// Both pollers are cooperative loops owned by the queue instance that
// started them: Stop flips a flag checked between iterations and never
// interrupts an in-flight dispatch.
package taskqueue
