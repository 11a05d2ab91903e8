package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultFailureDelay is the deliberate latency added to every failed login
// before the generic error is returned. It throttles credential stuffing and
// account enumeration.
const DefaultFailureDelay = 10 * time.Second

// Service orchestrates credential checks, account/user state validation and
// token creation. It holds no per-request state and is safe for concurrent
// use.
type Service struct {
	store        Store
	signer       *Signer
	now          func() time.Time
	failureDelay time.Duration
	log          logrus.FieldLogger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithFailureDelay sets the failed-login throttle. Zero disables it, which is
// intended for tests only.
func WithFailureDelay(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.failureDelay = d
		}
	}
}

// WithLogger overrides the operator log destination.
func WithLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service over the given store and token signer.
func NewService(store Store, signer *Signer, opts ...ServiceOption) *Service {
	svc := &Service{
		store:        store,
		signer:       signer,
		now:          time.Now,
		failureDelay: DefaultFailureDelay,
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Signer exposes the token signer, for surfaces that only need validation or
// the public key.
func (s *Service) Signer() *Signer { return s.signer }

// IssueUserToken authenticates a password login and mints a signed token.
//
// Both the account and the user are looked up unconditionally so the timing
// of "no such account" and "no such user" stays uniform. Every rejection is
// logged with its specific reason but returned as one of the sentinel errors
// that the boundary collapses into a single generic message, after the
// configured failure delay has elapsed.
func (s *Service) IssueUserToken(ctx context.Context, accountID, userID, password string) (string, error) {
	id := parseAccountID(accountID)

	account, accErr := s.store.Accounts(ctx).Find(ctx, id)
	user, userErr := s.store.Users(ctx).Find(ctx, userID)

	if accErr != nil && !errors.Is(accErr, ErrNotFound) {
		return "", fmt.Errorf("load account: %w", accErr)
	}
	if userErr != nil && !errors.Is(userErr, ErrNotFound) {
		return "", fmt.Errorf("load user: %w", userErr)
	}

	reason, authErr := loginFailure(account, accErr, user, userErr, id, password)
	if authErr != nil {
		if !IsAuthenticationFailure(authErr) {
			// Malformed stored hash or similar configuration fault.
			return "", authErr
		}
		s.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"user_id":    userID,
			"reason":     reason,
		}).Warn("login rejected")
		if err := s.delayFailure(ctx); err != nil {
			return "", err
		}
		return "", authErr
	}

	now := s.now().UTC()
	if err := s.store.Users(ctx).TouchActivity(ctx, user.ID, now); err != nil {
		return "", fmt.Errorf("record login activity: %w", err)
	}

	token, _, err := s.signer.Issue(Claims{
		AccountID:    strconv.FormatInt(account.ID, 10),
		UserID:       user.ID,
		FriendlyName: user.FriendlyName,
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"user_id":    user.ID,
	}).Info("user token issued")
	return token, nil
}

// loginFailure evaluates the ordered login checks and returns the first
// failing condition together with an operator-readable reason.
func loginFailure(account *Account, accErr error, user *User, userErr error, accountID int64, password string) (string, error) {
	switch {
	case errors.Is(accErr, ErrNotFound):
		return "account does not exist", ErrAccountNotFound
	case !account.IsActive:
		return "account is not active", ErrAccountInactive
	case errors.Is(userErr, ErrNotFound):
		return "user does not exist", ErrUserNotFound
	case !user.IsActive:
		return "user is not active", ErrUserInactive
	case user.AccountID != accountID:
		return "user does not belong to account", ErrUserNotFound
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return "password did not match", ErrInvalidPassword
		}
		return "", err
	}
	return "", nil
}

// Impersonate validates the caller's token, enforces the impersonation
// privilege rule and mints a token naming the target user with provenance
// claims.
//
// The privilege check runs before any target lookup so a rejected caller
// learns nothing about whether the target exists. All target-state failures
// share sentinel errors that the boundary collapses into one generic message.
func (s *Service) Impersonate(ctx context.Context, callerToken, targetAccountID, targetUserID string) (string, error) {
	caller, err := s.signer.Validate(callerToken)
	if err != nil {
		return "", err
	}
	callerAccount := parseAccountID(caller.AccountID)
	targetAccount := parseAccountID(targetAccountID)

	if callerAccount != SystemAccountID && callerAccount != targetAccount {
		s.log.WithFields(logrus.Fields{
			"caller_account": caller.AccountID,
			"caller_user":    caller.UserID,
			"target_account": targetAccountID,
		}).Warn("impersonation denied: insufficient privilege")
		return "", ErrInsufficientPrivilege
	}

	account, err := s.store.Accounts(ctx).Find(ctx, targetAccount)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("load target account: %w", err)
	}
	if !account.IsActive {
		return "", ErrAccountInactive
	}

	var user *User
	if strings.TrimSpace(targetUserID) != "" {
		user, err = s.store.Users(ctx).Find(ctx, targetUserID)
	} else {
		user, err = s.store.Users(ctx).FindPrimary(ctx, targetAccount)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("load target user: %w", err)
	}
	if user.AccountID != account.ID {
		return "", ErrUserNotFound
	}
	if !user.IsActive {
		return "", ErrUserInactive
	}

	token, _, err := s.signer.Issue(Claims{
		AccountID:         strconv.FormatInt(account.ID, 10),
		UserID:            user.ID,
		FriendlyName:      user.FriendlyName,
		ImpersonatedBy:    caller.UserID,
		ImpersonatingFrom: caller.AccountID,
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{
		"caller_account": caller.AccountID,
		"caller_user":    caller.UserID,
		"target_account": account.ID,
		"target_user":    user.ID,
	}).Info("impersonation token issued")
	return token, nil
}

// Authenticate validates a bearer token and re-derives the caller's roles
// from current account/user state. The token is a capability hint only:
// identity claims are trusted, everything else is looked up fresh.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (Principal, error) {
	claims, err := s.signer.Validate(tokenString)
	if err != nil {
		return Principal{}, err
	}
	return s.ResolvePrincipal(ctx, claims)
}

// ResolvePrincipal computes the request principal for already-validated
// claims. The user's true owning account must match the claimed accountId;
// a stale or forged token that survives signature validation dies here.
func (s *Service) ResolvePrincipal(ctx context.Context, claims *Claims) (Principal, error) {
	user, err := s.store.Users(ctx).Find(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUserNotFound
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}

	account, err := s.store.Accounts(ctx).Find(ctx, user.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrAccountNotFound
		}
		return Principal{}, fmt.Errorf("load account: %w", err)
	}

	if strconv.FormatInt(user.AccountID, 10) != claims.AccountID {
		s.log.WithFields(logrus.Fields{
			"claimed_account": claims.AccountID,
			"actual_account":  user.AccountID,
			"user_id":         user.ID,
		}).Warn("requested user does not belong to requested account")
		return Principal{}, ErrInvalidToken
	}
	if !user.IsActive {
		return Principal{}, ErrUserInactive
	}
	if !account.IsActive {
		return Principal{}, ErrAccountInactive
	}

	principal := Principal{
		AccountID:         account.ID,
		UserID:            user.ID,
		FriendlyName:      user.FriendlyName,
		Roles:             deriveRoles(account, user),
		ImpersonatedBy:    claims.ImpersonatedBy,
		ImpersonatingFrom: claims.ImpersonatingFrom,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

func deriveRoles(account *Account, user *User) map[Role]struct{} {
	roles := map[Role]struct{}{RoleUser: {}}
	if user.IsPrimary {
		roles[RolePrimaryUser] = struct{}{}
	}
	if account.ID == SystemAccountID {
		roles[RoleSystemAccount] = struct{}{}
		roles[RoleImpersonator] = struct{}{}
	}
	return roles
}

// RegisterAccount creates a tenant account together with its single primary
// user. The user starts active with a pending activation code.
func (s *Service) RegisterAccount(ctx context.Context, input NewAccountInput) (*Account, *User, error) {
	if strings.TrimSpace(input.AccountName) == "" ||
		strings.TrimSpace(input.UserID) == "" ||
		strings.TrimSpace(input.Password) == "" {
		return nil, nil, ErrInvalidInput
	}

	if _, err := s.store.Accounts(ctx).FindByName(ctx, input.AccountName); err == nil {
		return nil, nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("check account name: %w", err)
	}
	if _, err := s.store.Users(ctx).Find(ctx, input.UserID); err == nil {
		return nil, nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("check user id: %w", err)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	account := &Account{
		Name:      input.AccountName,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := s.store.Accounts(ctx).Create(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	user := &User{
		ID:             input.UserID,
		AccountID:      account.ID,
		Email:          input.Email,
		FriendlyName:   input.FriendlyName,
		PasswordHash:   hash,
		IsPrimary:      true,
		IsActive:       true,
		ActivationCode: uuid.NewString(),
		CreatedAt:      now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create primary user: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"account_id": account.ID,
		"user_id":    user.ID,
	}).Info("account registered")
	return account, user, nil
}

// UpdateUser applies a profile update for the given user. Password changes
// require the old password to verify first.
func (s *Service) UpdateUser(ctx context.Context, userID string, input UpdateUserInput) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	now := s.now().UTC()
	if input.NewPassword != nil {
		old := ""
		if input.OldPassword != nil {
			old = *input.OldPassword
		}
		if err := VerifyPassword(user.PasswordHash, old); err != nil {
			return err
		}
		hash, err := HashPassword(*input.NewPassword)
		if err != nil {
			return err
		}
		if err := s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
	}
	if input.Email != nil || input.FriendlyName != nil {
		if err := s.store.Users(ctx).UpdateProfile(ctx, user.ID, input.Email, input.FriendlyName, now); err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
	}
	return nil
}

// LandscapeURL returns one configured endpoint value.
func (s *Service) LandscapeURL(ctx context.Context, scope, key string) (string, error) {
	entry, err := s.store.LandscapeURLs(ctx).Get(ctx, scope, key)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// SetLandscapeURL creates or replaces one configured endpoint value.
func (s *Service) SetLandscapeURL(ctx context.Context, scope, key, value string) error {
	if strings.TrimSpace(scope) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.store.LandscapeURLs(ctx).Upsert(ctx, &LandscapeURL{Scope: scope, Key: key, Value: value})
}

// LandscapeScope lists every configured endpoint within one scope.
func (s *Service) LandscapeScope(ctx context.Context, scope string) ([]LandscapeURL, error) {
	return s.store.LandscapeURLs(ctx).ListScope(ctx, scope)
}

// delayFailure sleeps for the configured failure delay but honors request
// cancellation so a disconnected client does not pin a goroutine.
func (s *Service) delayFailure(ctx context.Context) error {
	if s.failureDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(s.failureDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseAccountID converts the wire account id to its numeric form. Anything
// unparsable maps to id 0, which is guaranteed not to exist.
func parseAccountID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
