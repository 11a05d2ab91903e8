package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mdscloud.org/identity/internal/identity"
)

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if rr.Header().Get("X-Request-Id") != seen {
		t.Fatalf("header %q != context %q", rr.Header().Get("X-Request-Id"), seen)
	}

	// A caller-supplied id is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "caller-chosen")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "caller-chosen" {
		t.Fatalf("supplied id not propagated: %q", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options: %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options: %q", got)
	}
}

func TestRateLimitBurst(t *testing.T) {
	h := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), 2, 1)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		statuses = append(statuses, rr.Code)
		if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") != "1" {
			t.Fatalf("missing Retry-After, got %q", rr.Header().Get("Retry-After"))
		}
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests rejected: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request not limited: %v", statuses)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.11:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("independent client limited: %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("remote addr: %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded for: %q", got)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(identity.RoleImpersonator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("status %d", rr.Code)
		}
	})

	t.Run("authenticated without role", func(t *testing.T) {
		principal := identity.Principal{
			AccountID: 2002, UserID: "bob",
			Roles: map[identity.Role]struct{}{identity.RoleUser: {}},
		}
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(identity.ContextWithPrincipal(req.Context(), principal))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status %d", rr.Code)
		}
	})

	t.Run("authenticated with role", func(t *testing.T) {
		principal := identity.Principal{
			AccountID: 1, UserID: "root",
			Roles: map[identity.Role]struct{}{
				identity.RoleUser:         {},
				identity.RoleImpersonator: {},
			},
		}
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(identity.ContextWithPrincipal(req.Context(), principal))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status %d", rr.Code)
		}
	})
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}{"b":2}`))
	rr := httptest.NewRecorder()
	var dst map[string]int
	if err := decodeJSON(rr, req, &dst); err == nil {
		t.Fatal("trailing data accepted")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := decodeJSON(rr, req, &dst); err == nil {
		t.Fatal("empty body accepted")
	}
}
