package identity

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Users(ctx context.Context) UserStore
	LandscapeURLs(ctx context.Context) LandscapeURLStore
}

// AccountStore manages tenant accounts.
type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id int64) (*Account, error)
	FindByName(ctx context.Context, name string) (*Account, error)
	SetActive(ctx context.Context, id int64, active bool) error
	TouchActivity(ctx context.Context, id int64, at time.Time) error
}

// UserStore manages login identities.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindPrimary(ctx context.Context, accountID int64) (*User, error)
	UpdateProfile(ctx context.Context, id string, email, friendlyName *string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	TouchActivity(ctx context.Context, id string, at time.Time) error
}

// LandscapeURLStore manages per-deployment endpoint configuration.
type LandscapeURLStore interface {
	Get(ctx context.Context, scope, key string) (*LandscapeURL, error)
	Upsert(ctx context.Context, entry *LandscapeURL) error
	ListScope(ctx context.Context, scope string) ([]LandscapeURL, error)
}
