package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned when a post exists but has already left
	// StatusPending.
	ErrNotPending = errors.New("post is not pending")
)

// Post status values. A post leaves StatusPending exactly once.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusError   = "error"
)

// Approval values for the gate in front of dispatch.
const (
	ApprovalAwaiting = "awaiting"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// PendingPost is a generated candidate waiting for approval and dispatch.
type PendingPost struct {
	ID           string
	AgentID      string
	Content      string
	ScheduledAt  time.Time
	Status       string
	Approval     string
	ContextJSON  string // snapshot needed to resume posting later
	MediaRef     string
	ErrorPayload string // set iff Status == StatusError
	PostID       string
	Permalink    string
	CreatedAt    time.Time
	SentAt       time.Time
}

// Memory records that the agent has produced or processed an item. The pair
// (ItemID, AgentID) is unique.
type Memory struct {
	ID        string
	ItemID    string
	AgentID   string
	Kind      string // "post", "reply", "quote", "processed"
	Content   string
	RoomID    string
	CreatedAt time.Time
}

// ActionOutcome keeps decided and executed actions apart, since execution
// can partially fail.
type ActionOutcome struct {
	ItemID    string
	AgentID   string
	Decided   []string
	Executed  []string
	CreatedAt time.Time
}

// AdminLog is a structured entry for operators.
type AdminLog struct {
	ID        int64
	AgentID   string
	Level     string
	Event     string
	Message   string
	Payload   string
	CreatedAt time.Time
}
