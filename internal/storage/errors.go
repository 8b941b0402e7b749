package storage

import "errors"

var (
	// ErrKeyNotFound is returned when a virtual key is not found
	ErrKeyNotFound = errors.New("virtual key not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrTeamNotFound is returned when a team is not found
	ErrTeamNotFound = errors.New("team not found")

	// ErrMembershipNotFound is returned when a team membership is not found
	ErrMembershipNotFound = errors.New("team membership not found")

	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrEndUserNotFound is returned when an end user is not found
	ErrEndUserNotFound = errors.New("end user not found")

	// ErrBudgetNotFound is returned when a budget record is not found
	ErrBudgetNotFound = errors.New("budget not found")
)
