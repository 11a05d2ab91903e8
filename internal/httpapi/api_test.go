package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"mdscloud.org/identity/internal/identity"
)

func writeTestKeys(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()

	privPath = filepath.Join(dir, "signing.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPath = filepath.Join(dir, "signing.pub.pem")
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privPath, pubPath
}

type testAPI struct {
	api     *API
	handler http.Handler
	svc     *identity.Service
	mock    sqlmock.Sqlmock
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	priv, pub := writeTestKeys(t)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	svc := identity.NewService(
		identity.NewPGStore(db),
		identity.NewSigner(priv, "", pub),
		identity.WithFailureDelay(0),
		identity.WithLogger(quiet),
	)
	if opts.RateLimitBurst == 0 {
		opts.RateLimitBurst = 1000
	}
	if opts.RateLimitPerSecond == 0 {
		opts.RateLimitPerSecond = 1000
	}
	api := New(svc, ReadyProbe{}, "test", opts)
	return &testAPI{
		api:     api,
		handler: api.Handler(),
		svc:     svc,
		mock:    mock,
	}
}

func (ta *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, req)
	return rr
}

func accountRows(id int64, name string, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "name", "is_active", "created_at", "last_activity"}).
		AddRow(id, name, active, now, now)
}

func userRows(id string, accountID int64, hash string, primary, active bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "account_id", "email", "friendly_name", "password_hash",
		"is_primary", "is_active", "activation_code", "created_at", "last_activity", "last_modified",
	}).AddRow(id, accountID, id+"@example.com", "Friendly "+id, hash, primary, active, "", now, now, now)
}

// expectPrincipal queues the store lookups the auth middleware performs when
// resolving a bearer token.
func (ta *testAPI) expectPrincipal(userID string, accountID int64, primary bool) {
	ta.mock.ExpectQuery(`from users where id=`).WithArgs(userID).
		WillReturnRows(userRows(userID, accountID, "x", primary, true))
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(accountID).
		WillReturnRows(accountRows(accountID, "acct", true))
}

func (ta *testAPI) mintToken(t *testing.T, accountID, userID string) string {
	t.Helper()
	token, _, err := ta.svc.Signer().Issue(identity.Claims{AccountID: accountID, UserID: userID})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthAndReadiness(t *testing.T) {
	ta := newTestAPI(t, Options{})

	rr := ta.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "mds-identity") {
		t.Fatalf("healthz body: %s", rr.Body.String())
	}

	rr = ta.do(http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz without DB probe: %d", rr.Code)
	}
}

func TestAuthenticateEndpoint(t *testing.T) {
	ta := newTestAPI(t, Options{})

	hash, err := identity.HashPassword("secret123")
	if err != nil {
		t.Fatal(err)
	}
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(int64(1001)).
		WillReturnRows(accountRows(1001, "acme", true))
	ta.mock.ExpectQuery(`from users where id=`).WithArgs("alice").
		WillReturnRows(userRows("alice", 1001, hash, true, true))
	ta.mock.ExpectExec(`update users set last_activity=`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := ta.do(http.MethodPost, "/v1/authenticate", "", map[string]string{
		"accountId": "1001", "userId": "alice", "password": "secret123",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := ta.svc.Signer().Validate(resp.Token)
	if err != nil {
		t.Fatalf("returned token invalid: %v", err)
	}
	if claims.AccountID != "1001" || claims.UserID != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

// Different failure causes must be indistinguishable on the wire: same status,
// byte-identical body, no request id or other correlating field in the body.
func TestAuthenticateFailureBodiesAreIdentical(t *testing.T) {
	ta := newTestAPI(t, Options{})

	hash, err := identity.HashPassword("secret123")
	if err != nil {
		t.Fatal(err)
	}

	// Unknown account.
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(int64(9999)).
		WillReturnError(sql.ErrNoRows)
	ta.mock.ExpectQuery(`from users where id=`).WithArgs("alice").
		WillReturnRows(userRows("alice", 1001, hash, true, true))
	unknownAccount := ta.do(http.MethodPost, "/v1/authenticate", "", map[string]string{
		"accountId": "9999", "userId": "alice", "password": "secret123",
	})

	// Wrong password.
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(int64(1001)).
		WillReturnRows(accountRows(1001, "acme", true))
	ta.mock.ExpectQuery(`from users where id=`).WithArgs("alice").
		WillReturnRows(userRows("alice", 1001, hash, true, true))
	wrongPassword := ta.do(http.MethodPost, "/v1/authenticate", "", map[string]string{
		"accountId": "1001", "userId": "alice", "password": "nope",
	})

	if unknownAccount.Code != http.StatusBadRequest || wrongPassword.Code != http.StatusBadRequest {
		t.Fatalf("statuses: %d, %d", unknownAccount.Code, wrongPassword.Code)
	}
	if !bytes.Equal(unknownAccount.Body.Bytes(), wrongPassword.Body.Bytes()) {
		t.Fatalf("bodies differ:\n%s\n%s", unknownAccount.Body.String(), wrongPassword.Body.String())
	}
	if strings.Contains(unknownAccount.Body.String(), "request_id") {
		t.Fatal("generic body must not carry a request id")
	}

	var resp struct {
		Message []string `json:"Message"`
	}
	if err := json.Unmarshal(unknownAccount.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Message) != 1 || resp.Message[0] != "Could not find account, user, or passwords did not match" {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
}

func TestAuthenticateRejectsWrongMethod(t *testing.T) {
	ta := newTestAPI(t, Options{})
	rr := ta.do(http.MethodGet, "/v1/authenticate", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header: %q", rr.Header().Get("Allow"))
	}
}

func TestPublicSignatureEndpoint(t *testing.T) {
	ta := newTestAPI(t, Options{})
	rr := ta.do(http.MethodGet, "/v1/publicSignature", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.Signature, "BEGIN PUBLIC KEY") {
		t.Fatalf("unexpected signature payload: %q", resp.Signature)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	ta := newTestAPI(t, Options{})

	ta.mock.ExpectQuery(`from accounts where name=`).WithArgs("acme").
		WillReturnError(sql.ErrNoRows)
	ta.mock.ExpectQuery(`from users where id=`).WithArgs("alice").
		WillReturnError(sql.ErrNoRows)
	ta.mock.ExpectQuery(`insert into accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	ta.mock.ExpectExec(`insert into users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := ta.do(http.MethodPost, "/v1/register", "", map[string]string{
		"accountName": "acme", "userId": "alice", "password": "secret123",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["accountId"] != "42" || resp["userId"] != "alice" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestImpersonateEndpoint(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "1", "root")

	// Auth middleware resolves the caller, then the service validates the
	// caller token again and loads the target.
	ta.expectPrincipal("root", identity.SystemAccountID, true)
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(int64(1001)).
		WillReturnRows(accountRows(1001, "acme", true))
	ta.mock.ExpectQuery(`from users where account_id=`).WithArgs(int64(1001)).
		WillReturnRows(userRows("alice", 1001, "x", true, true))

	rr := ta.do(http.MethodPost, "/v1/impersonate", token, map[string]string{
		"accountId": "1001",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := ta.svc.Signer().Validate(resp.Token)
	if err != nil {
		t.Fatalf("impersonation token invalid: %v", err)
	}
	if claims.ImpersonatedBy != "root" || claims.ImpersonatingFrom != "1" {
		t.Fatalf("provenance claims missing: %+v", claims)
	}
}

func TestImpersonateRequiresToken(t *testing.T) {
	ta := newTestAPI(t, Options{})
	rr := ta.do(http.MethodPost, "/v1/impersonate", "", map[string]string{"accountId": "1001"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("WWW-Authenticate: %q", rr.Header().Get("WWW-Authenticate"))
	}
}

func TestImpersonateForbiddenWithoutRole(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "2002", "bob")
	ta.expectPrincipal("bob", 2002, true)

	rr := ta.do(http.MethodPost, "/v1/impersonate", token, map[string]string{"accountId": "1001"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("target must not be looked up: %v", err)
	}
}

func TestImpersonateGenericFailureBody(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "1", "root")

	ta.expectPrincipal("root", identity.SystemAccountID, true)
	ta.mock.ExpectQuery(`from accounts where id=`).WithArgs(int64(1001)).
		WillReturnError(sql.ErrNoRows)

	rr := ta.do(http.MethodPost, "/v1/impersonate", token, map[string]string{"accountId": "1001"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Message []string `json:"Message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Message) != 1 || resp.Message[0] != "Could not find account, user, or insufficient privilege to impersonate" {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
}

func TestConfigurationRequiresSystemAccount(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "2002", "bob")
	ta.expectPrincipal("bob", 2002, true)

	rr := ta.do(http.MethodGet, "/v1/configuration?scope=global", token, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestConfigurationListAndUpsert(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "1", "root")

	ta.expectPrincipal("root", identity.SystemAccountID, true)
	ta.mock.ExpectQuery(`from landscape_urls where scope=`).WithArgs("global").
		WillReturnRows(sqlmock.NewRows([]string{"scope", "key", "value"}).
			AddRow("global", "notificationUrl", "https://notify.internal"))

	rr := ta.do(http.MethodGet, "/v1/configuration?scope=global", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status %d body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "notificationUrl") {
		t.Fatalf("list body: %s", rr.Body.String())
	}

	ta.expectPrincipal("root", identity.SystemAccountID, true)
	ta.mock.ExpectExec(`insert into landscape_urls`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr = ta.do(http.MethodPost, "/v1/configuration", token, map[string]string{
		"scope": "global", "key": "queueUrl", "value": "https://queue.internal",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateUserEndpoint(t *testing.T) {
	ta := newTestAPI(t, Options{})
	token := ta.mintToken(t, "1001", "alice")

	ta.expectPrincipal("alice", 1001, true)
	ta.mock.ExpectQuery(`from users where id=`).WithArgs("alice").
		WillReturnRows(userRows("alice", 1001, "x", true, true))
	ta.mock.ExpectExec(`update users set email=`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := ta.do(http.MethodPost, "/v1/updateUser", token, map[string]string{
		"email": "new@example.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	ta := newTestAPI(t, Options{})
	rr := ta.do(http.MethodGet, "/v1/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}
