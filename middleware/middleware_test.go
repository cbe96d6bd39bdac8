package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/internal/audit"
	"github.com/yyupcompany/kyyupgame-sub117/rbac"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func do(h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, _ := Identity(r)
	WriteJSON(w, http.StatusOK, map[string]any{"success": true, "id": id.UserID})
})

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{schoolauth.ErrUnauthenticated, 401, "UNAUTHENTICATED"},
		{schoolauth.ErrTokenRevoked, 401, "TOKEN_REVOKED"},
		{schoolauth.ErrTokenInvalid, 401, "INVALID_TOKEN"},
		{fmt.Errorf("%w: dial tcp", schoolauth.ErrSessionUnavailable), 401, "AUTH_DEPENDENCY_UNAVAILABLE"},
		{schoolauth.ErrInvalidCredentials, 401, "INVALID_CREDENTIALS"},
		{schoolauth.ErrRefreshReuse, 401, "INVALID_REFRESH_TOKEN"},
		{schoolauth.ErrAccountDisabled, 403, "ACCOUNT_DISABLED"},
		{schoolauth.ErrPermissionDenied, 403, "FORBIDDEN"},
		{&schoolauth.DeniedError{Decision: schoolauth.Decision{Reason: "nope"}}, 403, "RBAC_DENIED"},
		{ErrChildAccessDenied, 403, "PARENT_STUDENT_ACCESS_DENIED"},
		{ErrInvalidStudentID, 400, "INVALID_STUDENT_ID"},
		{fmt.Errorf("%w: unexpected EOF", ErrInvalidRequest), 400, "INVALID_REQUEST"},
		{schoolauth.ErrMissingRequiredFields, 400, "MISSING_REQUIRED_FIELDS"},
		{schoolauth.ErrInvalidUsername, 400, "INVALID_USERNAME"},
		{schoolauth.ErrPasswordTooShort, 400, "PASSWORD_TOO_SHORT"},
		{schoolauth.ErrLoginRateLimited, 429, "RATE_LIMITED"},
		{fmt.Errorf("%w: timeout", schoolauth.ErrIdentityUnavailable), 503, "SERVICE_UNAVAILABLE"},
		{schoolauth.ErrPermissionUnavailable, 503, "SERVICE_UNAVAILABLE"},
		{errors.New("pq: relation does not exist"), 500, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, body := StatusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, body.Code, tt.err.Error())
		assert.False(t, body.Success)
		assert.NotContains(t, body.Message, "pq:")
	}
}

func TestBearerToken(t *testing.T) {
	for in, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer abc ":  "abc",
		"Basic abc":    "",
		"Bearer ":      "",
		"":             "",
		"BEARER x.y.z": "x.y.z",
	} {
		got, ok := bearerToken(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want != "", ok, in)
	}
}

func TestGuard(t *testing.T) {
	h := newHarness(t)
	guarded := Guard(h.engine)(okHandler)

	rr := do(guarded, http.MethodGet, "/api/students", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeError(t, rr).Code)

	rr = do(guarded, http.MethodGet, "/api/students", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeError(t, rr).Code)

	tok := h.token(t, "teacher")
	rr = do(guarded, http.MethodGet, "/api/students", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"2"`)
}

func TestGuardIgnoresBypassHeaders(t *testing.T) {
	h := newHarness(t)
	guarded := Guard(h.engine)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	req.Header.Set("X-Internal-Service", "true")
	req.Header.Set("X-User-ID", "1")
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGuardFailsClosed(t *testing.T) {
	h := newHarness(t)
	guarded := Guard(h.engine)(okHandler)
	tok := h.token(t, "teacher")
	h.engine.Wait()

	h.mr.SetError("LOADING")
	rr := do(guarded, http.MethodGet, "/api/students", tok, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "AUTH_DEPENDENCY_UNAVAILABLE", decodeError(t, rr).Code)
	h.mr.SetError("")

	h.store.SetFailure(errors.New("db down"))
	rr = do(guarded, http.MethodGet, "/api/students", tok, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rr).Code)
}

func TestAuthorizeFinancial(t *testing.T) {
	h := newHarness(t)
	chain := Guard(h.engine)(Authorize(h.engine, Static(rbac.TypeFinancialAccess, schoolauth.Target{}))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, ok := DecisionFromContext(r.Context())
			require.True(t, ok)
			WriteJSON(w, http.StatusOK, d)
		})))

	rr := do(chain, http.MethodGet, "/api/finance/summary", h.token(t, "admin"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"level":"full"`)

	rr = do(chain, http.MethodGet, "/api/finance/summary", h.token(t, "teacher"), "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "RBAC_DENIED", body.Code)
	assert.Contains(t, body.Message, "financial_access")
}

func TestRequirePermissionAndRole(t *testing.T) {
	h := newHarness(t)
	perm := Guard(h.engine)(RequirePermission(h.engine, "students.read")(okHandler))
	role := Guard(h.engine)(RequireRole("principal")(okHandler))

	teacher := h.token(t, "teacher")
	parent := h.token(t, "parent")
	admin := h.token(t, "admin")

	assert.Equal(t, http.StatusOK, do(perm, http.MethodGet, "/api/students", teacher, "").Code)
	assert.Equal(t, http.StatusOK, do(perm, http.MethodGet, "/api/students", admin, "").Code)
	rr := do(perm, http.MethodGet, "/api/students", parent, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rr).Code)

	assert.Equal(t, http.StatusForbidden, do(role, http.MethodGet, "/api/x", teacher, "").Code)
	assert.Equal(t, http.StatusOK, do(role, http.MethodGet, "/api/x", admin, "").Code)
}

func TestRequireChildAccess(t *testing.T) {
	h := newHarness(t)
	r := chi.NewRouter()
	r.Use(Guard(h.engine))
	r.With(RequireChildAccess(h.engine, "studentID")).Get("/api/students/{studentID}", okHandler)

	parent := h.token(t, "parent")
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/students/11", parent, "").Code)

	rr := do(r, http.MethodGet, "/api/students/12", parent, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "PARENT_STUDENT_ACCESS_DENIED", body.Code)
	assert.Contains(t, body.Message, "only access their own children")

	rr = do(r, http.MethodGet, "/api/students/"+strings.Repeat("9", 65), parent, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_STUDENT_ID", decodeError(t, rr).Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/students/12", h.token(t, "teacher"), "").Code)
}

func nextRecord(t *testing.T, h *harness) schoolauth.AuditRecord {
	t.Helper()
	select {
	case rec := <-h.sink.Records():
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no audit record")
	}
	return schoolauth.AuditRecord{}
}

func TestAuditRecordsEachRequestOnce(t *testing.T) {
	h := newHarness(t)
	handler := Audit(h.engine)(Guard(h.engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "s3cret-value", in["password"], "handler must see the original body")
		if r.Method == http.MethodDelete {
			WriteJSON(w, http.StatusConflict, ErrorBody{Message: "student has open invoices", Code: "CONFLICT"})
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
	})))
	tok := h.token(t, "admin")

	rr := do(handler, http.MethodPost, "/api/students?token=abc&grade=2", tok, `{"name":"Lily","password":"s3cret-value","profile":{"apiKey":"k"}}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rec := nextRecord(t, h)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "1", rec.UserID)
	assert.Equal(t, "students", rec.Module)
	assert.Equal(t, audit.OpCreate, rec.OperationType)
	assert.Equal(t, audit.ResultSuccess, rec.Result)
	assert.Equal(t, http.StatusCreated, rec.StatusCode)
	assert.Equal(t, audit.Redacted, rec.SanitizedParams["password"])
	assert.Equal(t, audit.Redacted, rec.SanitizedParams["token"])
	assert.Equal(t, "2", rec.SanitizedParams["grade"])
	assert.Equal(t, audit.Redacted, rec.SanitizedParams["profile"].(map[string]any)["apiKey"])

	rr = do(handler, http.MethodDelete, "/api/students/42", tok, `{"password":"s3cret-value"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "open invoices")

	rec = nextRecord(t, h)
	assert.Equal(t, audit.ResultFailed, rec.Result)
	assert.Equal(t, "student has open invoices", rec.ResultMessage)
	assert.Equal(t, "42", rec.ResourceID)
	assert.Equal(t, audit.OpDelete, rec.OperationType)

	select {
	case extra := <-h.sink.Records():
		t.Fatalf("unexpected extra record: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAuditRecordsRejectedRequests(t *testing.T) {
	h := newHarness(t)
	handler := Audit(h.engine)(Guard(h.engine)(okHandler))

	rr := do(handler, http.MethodGet, "/api/classes", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	rec := nextRecord(t, h)
	assert.Equal(t, http.StatusUnauthorized, rec.StatusCode)
	assert.Equal(t, audit.ResultFailed, rec.Result)
	assert.NotEmpty(t, rec.ResultMessage)
	assert.Empty(t, rec.UserID)

	rr = do(handler, http.MethodGet, "/api/classes", "not-a-jwt", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, nextRecord(t, h).StatusCode)

	rr = do(handler, http.MethodGet, "/api/classes", h.token(t, "teacher"), "")
	require.Equal(t, http.StatusOK, rr.Code)
	rec = nextRecord(t, h)
	assert.Equal(t, audit.ResultSuccess, rec.Result)
	assert.NotEmpty(t, rec.UserID, "identity resolved by Guard must reach the record")
}

func TestAuditRecordsPanics(t *testing.T) {
	h := newHarness(t)
	handler := Audit(h.engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() {
			assert.Equal(t, "boom", recover())
		}()
		do(handler, http.MethodGet, "/api/classes", "", "")
	}()

	rec := nextRecord(t, h)
	assert.Equal(t, http.StatusInternalServerError, rec.StatusCode)
	assert.Equal(t, audit.ResultFailed, rec.Result)
	assert.Empty(t, rec.UserID)
}

func TestResponseCaptureIsBounded(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &responseRecorder{ResponseWriter: rr, status: http.StatusOK}
	chunk := strings.Repeat("x", 40<<10)
	_, _ = rec.Write([]byte(chunk))
	_, _ = rec.Write([]byte(chunk))
	assert.Equal(t, MaxCapturedBody, rec.body.Len())
	assert.Equal(t, 80<<10, rr.Body.Len())
}
