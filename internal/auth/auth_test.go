package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, Secret: testSecret, Issuer: "orchestrator", Audience: "api"})
	require.NoError(t, err)
	return svc
}

func TestIssueAndVerifyToken(t *testing.T) {
	svc := newJWTService(t)
	token, expires, err := svc.IssueToken("ops-alice", []string{PermissionRunsApprove}, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	subject, err := svc.AuthenticateRequest(t.Context(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "ops-alice", subject.Name)
	assert.True(t, subject.HasPermission("RUNS:APPROVE"))
	assert.ErrorIs(t, subject.Authorize(PermissionRunsWrite), ErrPermissionDenied)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	svc := newJWTService(t)

	expired := svc
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.IssueToken("x", nil, time.Minute)
	require.NoError(t, err)
	expired.now = time.Now

	other, err := NewService(Config{Mode: ModeJWT, Secret: "ffffffffffffffffffffffffffffffff", Issuer: "orchestrator", Audience: "api"})
	require.NoError(t, err)
	forged, _, err := other.IssueToken("x", []string{PermissionRunsWrite}, time.Minute)
	require.NoError(t, err)

	wrongAudience, err := NewService(Config{Mode: ModeJWT, Secret: testSecret, Issuer: "orchestrator", Audience: "elsewhere"})
	require.NoError(t, err)
	foreign, _, err := wrongAudience.IssueToken("x", nil, time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":  old,
		"forged":   forged,
		"audience": foreign,
		"none":     unsigned,
		"garbage":  "not.a.token",
	} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	_, err = svc.AuthenticateRequest(t.Context(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = svc.AuthenticateRequest(t.Context(), "Basic abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(Config{Mode: ModeJWT, Secret: "short"})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: "oauth"})
	assert.Error(t, err)

	svc, err := NewService(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, svc.Mode())
	_, _, err = svc.IssueToken("x", nil, 0)
	assert.Error(t, err)
}

func TestRequireMiddleware(t *testing.T) {
	svc := newJWTService(t)
	writer, _, err := svc.IssueToken("bot", []string{PermissionRunsWrite}, time.Minute)
	require.NoError(t, err)

	var seen *Subject
	handler := svc.Require(PermissionRunsApprove)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/resume", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/resume", nil)
	req.Header.Set("Authorization", "Bearer "+writer)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	approver, _, err := svc.IssueToken("alice", []string{PermissionRunsApprove}, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/resume", nil)
	req.Header.Set("Authorization", "bearer "+approver)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Name)
}

func TestDisabledModeAllowsEverything(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	require.NoError(t, err)
	handler := svc.Require(PermissionRunsWrite, PermissionRunsApprove)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParsePermissions(t *testing.T) {
	assert.Equal(t, []string{"runs:write", "runs:approve"}, ParsePermissions(" runs:write, ,runs:approve"))
}
