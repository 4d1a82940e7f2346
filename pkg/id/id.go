package id

import "github.com/google/uuid"

// NewToken returns a fresh owner token for a lock or semaphore acquisition.
func NewToken() string { return uuid.NewString() }

// NewTaskID returns a fresh globally unique task id.
func NewTaskID() string { return uuid.NewString() }
