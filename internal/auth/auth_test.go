package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIssueAndValidate(t *testing.T) {
	j := NewJWTManager("secret", "interflow", time.Hour)
	tok, err := j.IssueToken("alice", nil)
	require.NoError(t, err)

	p, err := j.ValidateAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.True(t, p.HasScope(ScopeWorkflowsWrite))
	assert.NotEmpty(t, p.TokenID)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	j := NewJWTManager("secret", "interflow", time.Hour)

	other, err := NewJWTManager("other-secret", "interflow", time.Hour).IssueToken("alice", nil)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(other)
	assert.Error(t, err, "wrong key")

	wrongIssuer, err := NewJWTManager("secret", "someone-else", time.Hour).IssueToken("alice", nil)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(wrongIssuer)
	assert.Error(t, err, "wrong issuer")

	expired := NewJWTManager("secret", "interflow", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.IssueToken("alice", nil)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(old)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "alice", Issuer: "interflow"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(unsigned)
	assert.Error(t, err, "alg none")
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = ExtractBearerToken("Basic abc")
	assert.Error(t, err)
	_, err = ExtractBearerToken("Bearer ")
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	j := NewJWTManager("secret", "interflow", time.Hour)
	mw := NewMiddleware(j, false, zaptest.NewLogger(t))
	var seen string
	h := mw.HTTPMiddleware(RequireScope(ScopeAgentsExecute, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		seen = p.Subject
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/agents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := j.IssueToken("bob", nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", seen)

	readOnly, err := j.IssueToken("carol", []string{ScopeWorkflowsRead})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTPMiddlewareStreamQueryToken(t *testing.T) {
	j := NewJWTManager("secret", "", time.Hour)
	mw := NewMiddleware(j, false, nil)
	h := mw.HTTPMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	tok, err := j.IssueToken("dave", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workflows/wf/stream?access_token="+tok, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workflows/wf?access_token="+tok, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query tokens only on stream routes")
}

func TestSkipAuthInjectsDevPrincipal(t *testing.T) {
	mw := NewMiddleware(nil, true, nil)
	var ok bool
	h := mw.HTTPMiddleware(RequireScope(ScopeWorkflowsWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = PrincipalFrom(r.Context())
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orchestrate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ok)
}
