package identity

import "time"

// SystemAccountID is reserved for the bootstrap "System" account. Members of
// this account hold system-level privilege, including impersonation.
const SystemAccountID int64 = 1

// Account is a tenant-like grouping of users.
type Account struct {
	ID           int64
	Name         string
	IsActive     bool
	CreatedAt    time.Time
	LastActivity time.Time
}

// User is a login identity owned by exactly one account. The ID is the login
// name and is globally unique. AccountID never changes after creation.
type User struct {
	ID             string
	AccountID      int64
	Email          string
	FriendlyName   string
	PasswordHash   string
	IsPrimary      bool
	IsActive       bool
	ActivationCode string // non-empty only while activation is pending
	CreatedAt      time.Time
	LastActivity   time.Time
	LastModified   time.Time
}

// LandscapeURL stores a per-deployment service endpoint under a composite
// (scope, key) identifier.
type LandscapeURL struct {
	Scope string
	Key   string
	Value string
}

// NewAccountInput carries everything needed to register a tenant together
// with its primary user.
type NewAccountInput struct {
	AccountName  string
	UserID       string
	Email        string
	FriendlyName string
	Password     string
}

// UpdateUserInput describes a profile update. Nil fields are left unchanged.
type UpdateUserInput struct {
	Email        *string
	FriendlyName *string
	OldPassword  *string
	NewPassword  *string
}
