package taskqueue

import (
	"encoding/json"
	"fmt"
)

// Class is a coarse priority class. Higher weight is dispatched first; order
// within one class is unspecified.
type Class string

// Priority classes and their weights.
const (
	ClassHigh   Class = "HIGH"
	ClassMedium Class = "MEDIUM"
	ClassLow    Class = "LOW"
)

// Weight returns the class's numeric priority score.
func (c Class) Weight() float64 {
	switch c {
	case ClassHigh:
		return 90
	case ClassMedium:
		return 60
	case ClassLow:
		return 30
	default:
		return 0
	}
}

// ParseClass maps a class name to a Class.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassHigh, ClassMedium, ClassLow:
		return Class(s), nil
	}
	return "", fmt.Errorf("taskqueue: unknown priority class %q", s)
}

// Task is the immutable queued work record. ID is globally unique and is the
// sole identity/equality key; Payload is opaque to the queue.
type Task struct {
	ID      string          `json:"taskId"`
	Class   Class           `json:"priorityClass"`
	Score   float64         `json:"priorityScore"`
	Payload json.RawMessage `json:"payload"`
}

// encode renders the task into its wire form, which is also the zset member.
// The member bytes are written once at enqueue and treated as opaque after
// that, so removal always operates on the exact original member.
func (t Task) encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("taskqueue: encode task %s: %w", t.ID, err)
	}
	return string(b), nil
}

// decodeTask parses a zset member back into a Task.
func decodeTask(member string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(member), &t); err != nil {
		return Task{}, fmt.Errorf("taskqueue: decode task: %w", err)
	}
	if t.ID == "" {
		return Task{}, fmt.Errorf("taskqueue: decode task: missing taskId")
	}
	return t, nil
}
