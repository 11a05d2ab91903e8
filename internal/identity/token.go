package identity

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer doubles as the default audience when none is configured.
	DefaultIssuer = "mdsCloud"

	// DefaultTokenLifespan applies when the configured lifespan is missing
	// or unparsable.
	DefaultTokenLifespan = 60 * time.Minute

	// validationLeeway is the clock-skew tolerance applied to exp/nbf/iat.
	validationLeeway = time.Minute

	bearerPrefix = "bearer "
)

// Claims carries the identity embedded in a signed token. Claim names are
// part of the wire contract; downstream services decode them independently.
type Claims struct {
	AccountID         string `json:"accountId"`
	UserID            string `json:"userId"`
	FriendlyName      string `json:"friendlyName,omitempty"`
	ImpersonatedBy    string `json:"impersonatedBy,omitempty"`
	ImpersonatingFrom string `json:"impersonatingFrom,omitempty"`
	jwt.RegisteredClaims
}

// IsImpersonation reports whether the token was minted through the
// impersonation flow.
func (c *Claims) IsImpersonation() bool {
	return c.ImpersonatedBy != ""
}

// Signer mints and validates RSA-SHA256 bearer tokens. The private key is
// re-read and re-parsed from disk on every Issue call so keys can be rotated
// without a restart; the public key is likewise re-read per Validate. The
// struct itself holds no key material and is safe for concurrent use.
type Signer struct {
	privateKeyPath string
	passphrase     string
	publicKeyPath  string
	issuer         string
	audience       string
	lifespan       time.Duration
	now            func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerIssuer overrides the iss claim written and required.
func WithSignerIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithSignerAudience overrides the aud claim written and required.
func WithSignerAudience(audience string) SignerOption {
	return func(s *Signer) {
		if strings.TrimSpace(audience) != "" {
			s.audience = audience
		}
	}
}

// WithSignerLifespan sets the token lifetime. Non-positive values keep the
// default.
func WithSignerLifespan(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.lifespan = d
		}
	}
}

// WithSignerClock overrides the time source, for tests.
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner constructs a Signer over the given key files.
func NewSigner(privateKeyPath, passphrase, publicKeyPath string, opts ...SignerOption) *Signer {
	s := &Signer{
		privateKeyPath: privateKeyPath,
		passphrase:     passphrase,
		publicKeyPath:  publicKeyPath,
		issuer:         DefaultIssuer,
		audience:       DefaultIssuer,
		lifespan:       DefaultTokenLifespan,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs claims into a compact token string and returns it together with
// the expiry it carries. Identity fields on the input are preserved; the
// registered claims are always overwritten.
func (s *Signer) Issue(claims Claims) (string, time.Time, error) {
	key, err := loadPrivateKey(s.privateKeyPath, s.passphrase)
	if err != nil {
		return "", time.Time{}, err
	}

	now := s.now().UTC()
	exp := now.Add(s.lifespan)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(exp),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate checks the signature, expiry, issuer and audience of a presented
// token and returns its claims. The optional "bearer " prefix is stripped
// case-insensitively before parsing. Every failure collapses to
// ErrInvalidToken so callers cannot distinguish an expired token from a
// forged one.
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	tokenString = StripBearerPrefix(tokenString)
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}

	key, err := loadPublicKey(s.publicKeyPath)
	if err != nil {
		// Key files are a shared operational resource; surface the real
		// error so the request fails 500 rather than 401.
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(validationLeeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	// The leeway above tolerates issuer clock skew on nbf/iat; expiry itself
	// is strict. A token one second past its exp is dead.
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(s.now()) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.AccountID) == "" || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PublicSignature returns the PEM-encoded public key so other services can
// validate tokens without calling back into this one.
func (s *Signer) PublicSignature() (string, error) {
	raw, err := os.ReadFile(s.publicKeyPath)
	if err != nil {
		return "", fmt.Errorf("read public key %s: %w", s.publicKeyPath, err)
	}
	if _, err := parseRSAPublicKey(raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// StripBearerPrefix removes one leading case-insensitive "bearer " from a
// header value. Exactly the literal prefix with a single space is stripped.
func StripBearerPrefix(v string) string {
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return v[len(bearerPrefix):]
	}
	return v
}
