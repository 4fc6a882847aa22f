package models

import "github.com/ThreeDotsLabs/watermill"

// NewID generates a ULID-style identifier. All aggregates (definitions,
// instances, tasks, delegations, timers, history entries) use these.
func NewID() string {
	return watermill.NewULID()
}
