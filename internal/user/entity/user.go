package entity

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"

	TypeMember = "member"
	TypeAdmin  = "admin"
)

// User represents an account row in the `users` table.
// Timestamps are unix seconds; the deletion pair is 0 while no cancellation is pending.
type User struct {
	ID                  string  `db:"id"`
	Username            *string `db:"username"`
	Email               *string `db:"email"`
	PasswordHash        *string `db:"password_hash"`
	PasswordAlgo        *string `db:"password_algo"`
	Status              string  `db:"status"` // active / disabled
	UserType            string  `db:"user_type"`
	DeletionRequestedAt int64   `db:"deletion_requested_at"`
	PendingDeletionAt   int64   `db:"pending_deletion_at"`
	CreatedAt           int64   `db:"created_at"`
	UpdatedAt           int64   `db:"updated_at"`
}

// PendingDeletion reports whether a cancellation has been scheduled.
func (u *User) PendingDeletion() bool { return u.PendingDeletionAt > 0 }

func (u *User) Active() bool { return u.Status == StatusActive }

func (u *User) IsAdmin() bool { return u.UserType == TypeAdmin }

// DisplayName prefers the username and falls back to the email, then the id.
func (u *User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	return u.ID
}

// MinimalAuthView is the minimal projection required for token claim hydration.
type MinimalAuthView struct {
	ID       string  `db:"id" json:"id"`
	UserType string  `db:"user_type" json:"user_type"`
	Email    *string `db:"email" json:"email,omitempty"`
}
