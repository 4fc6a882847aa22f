package models

import "time"

// Delegation is a time-bounded reassignment of one user's pending work to
// another user. Chains are resolved by the delegation resolver with a hard
// depth cap; the model itself carries no chain information.
type Delegation struct {
	ID          string    `json:"id"`
	DelegatorID string    `json:"delegator_id" validate:"required"`
	DelegateeID string    `json:"delegatee_id" validate:"required"`
	StartsAt    time.Time `json:"starts_at"    validate:"required"`
	EndsAt      time.Time `json:"ends_at"      validate:"required"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsActiveAt reports whether the delegation window covers the given time.
func (d *Delegation) IsActiveAt(t time.Time) bool {
	return !t.Before(d.StartsAt) && !t.After(d.EndsAt)
}
