package taskqueue

import (
	"errors"
	"strings"
)

// queuePrefix returns the base prefix for a queue.
// Format: tradepost:q:{queue}:
func queuePrefix(queue string) string {
	return "tradepost:q:" + queue + ":"
}

// DelayKey returns the delay zset key for a queue.
func DelayKey(queue string) string { return queuePrefix(queue) + "delay" }

// PriorityKey returns the priority zset key for a queue.
func PriorityKey(queue string) string { return queuePrefix(queue) + "priority" }

// AttemptsKey returns the attempt-counter hash key for a queue.
func AttemptsKey(queue string) string { return queuePrefix(queue) + "attempts" }

// DeadKey returns the dead-letter zset key for a queue.
func DeadKey(queue string) string { return queuePrefix(queue) + "dead" }

// TaskLockName returns the lock name guarding one task's promotion/dispatch.
func TaskLockName(taskID string) string { return "task:" + taskID }

// ValidateQueueName rejects names that would corrupt the keyspace.
func ValidateQueueName(queue string) error {
	if queue == "" {
		return errors.New("taskqueue: empty queue name")
	}
	if strings.ContainsAny(queue, " :\n") {
		return errors.New("taskqueue: queue name must not contain spaces or colons")
	}
	return nil
}
