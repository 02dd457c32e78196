// Package assign defines the core data structures of the matching engine:
// entity kinds, the Redis key layout shared by every process, and the
// assignment job envelope handed to the transport.
//
// An entity is an opaque string identifier, unique within its kind. Tasks
// and users wait in separate FIFO queues until the engine pairs them.
package assign

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two entity populations the engine matches.
type Kind string

const (
	KindTask Kind = "task"
	KindUser Kind = "user"
)

// Redis key layout. Six named collections persist the engine state:
// two waiting queues, two retry counter namespaces, two dead-letter lists.
const (
	TaskQueue = "queue:tasks"
	UserQueue = "queue:users"

	TaskDLQ = "dlq:tasks"
	UserDLQ = "dlq:users"

	retryTaskPrefix = "retry:task:"
	retryUserPrefix = "retry:user:"
)

// Queue returns the waiting queue for a kind.
func (k Kind) Queue() string {
	if k == KindUser {
		return UserQueue
	}
	return TaskQueue
}

// DLQ returns the dead-letter list for a kind. The user DLQ exists in the
// layout but is never written by the current retry policy.
func (k Kind) DLQ() string {
	if k == KindUser {
		return UserDLQ
	}
	return TaskDLQ
}

// RetryKey returns the bounded retry counter key for one entity.
func (k Kind) RetryKey(id string) string {
	if k == KindUser {
		return retryUserPrefix + id
	}
	return retryTaskPrefix + id
}

// Valid reports whether k names a known entity kind.
func (k Kind) Valid() bool {
	return k == KindTask || k == KindUser
}

// Job is the assignment message handed to the job transport once a task
// and a user have been paired. It is ephemeral: the engine keeps no record
// of it after enqueue, and the transport owns it until the worker reports
// an outcome.
type Job struct {
	// ID uniquely identifies one dispatch, not one pairing. A pair that
	// fails and is re-matched later gets a fresh ID.
	ID string `json:"id"`

	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`

	// CreatedAt is the dispatch timestamp, used for queue latency metrics.
	CreatedAt time.Time `json:"created_at"`
}

// NewJob builds an assignment job for a matched pair.
func NewJob(taskID, userID string) Job {
	return Job{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
}
