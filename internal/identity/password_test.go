package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if strings.Contains(hash, "correct horse") {
		t.Fatal("hash leaks plaintext")
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
}

func TestPasswordMismatch(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "secret124"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("want ErrInvalidPassword, got %v", err)
	}
	if err := VerifyPassword(hash, ""); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("want ErrInvalidPassword for empty input, got %v", err)
	}
}

// A malformed stored hash is an operational fault, not a credential failure.
// It must not collapse into the generic login rejection.
func TestMalformedHashIsNotCredentialFailure(t *testing.T) {
	for _, hash := range []string{"", "plaintext", "$2a$corrupt"} {
		err := VerifyPassword(hash, "anything")
		if err == nil {
			t.Fatalf("hash %q accepted", hash)
		}
		if errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("hash %q: fault reported as credential mismatch", hash)
		}
	}
}
