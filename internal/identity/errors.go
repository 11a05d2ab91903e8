package identity

import "errors"

// Internal error taxonomy. The HTTP boundary collapses the authentication and
// impersonation groups into two generic client messages; the specific values
// exist for operator logs and tests only.
var (
	ErrNotFound      = errors.New("identity: not found")
	ErrAlreadyExists = errors.New("identity: already exists")
	ErrInvalidInput  = errors.New("identity: invalid input")

	ErrAccountNotFound = errors.New("identity: account does not exist")
	ErrAccountInactive = errors.New("identity: account is not active")
	ErrUserNotFound    = errors.New("identity: user does not exist")
	ErrUserInactive    = errors.New("identity: user is not active")
	ErrInvalidPassword = errors.New("identity: password did not match")

	ErrInsufficientPrivilege = errors.New("identity: insufficient privilege to impersonate")

	// ErrInvalidToken covers every token validation failure: bad signature,
	// expired, wrong issuer or audience, malformed input. Callers never learn
	// which one.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// IsAuthenticationFailure reports whether err belongs to the group of login
// failures that must be indistinguishable to clients.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrUserInactive) ||
		errors.Is(err, ErrInvalidPassword)
}

// IsImpersonationFailure reports whether err belongs to the group of
// impersonation failures that share one generic client message.
func IsImpersonationFailure(err error) bool {
	return errors.Is(err, ErrInsufficientPrivilege) || IsAuthenticationFailure(err)
}
