package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"qooqz/internal/models"
	"qooqz/internal/repositories"
	"qooqz/internal/services"
	"qooqz/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier struct {
	lastInput services.VerifyInput
	res       *services.VerifyResult
	err       error
}

func (s *stubVerifier) Verify(_ context.Context, in services.VerifyInput) (*services.VerifyResult, error) {
	s.lastInput = in
	return s.res, s.err
}

type stubTokenLister struct {
	tokens []*models.VerificationToken
}

func (s *stubTokenLister) ListByUser(_ context.Context, _ int, _, _ int) ([]*models.VerificationToken, error) {
	return s.tokens, nil
}

func (s *stubTokenLister) Insert(context.Context, *models.VerificationToken) (int64, error) {
	panic("not used")
}
func (s *stubTokenLister) FindByJTI(context.Context, string) (*models.VerificationToken, error) {
	panic("not used")
}
func (s *stubTokenLister) FindActiveByUser(context.Context, int, string) ([]*models.VerificationToken, error) {
	panic("not used")
}
func (s *stubTokenLister) SupersedeUnused(context.Context, int, string) (int64, error) {
	panic("not used")
}
func (s *stubTokenLister) MarkUsedIfUnused(context.Context, repositories.Querier, int64, string, string) (int64, error) {
	panic("not used")
}
func (s *stubTokenLister) IncrementAttemptsAndMaybeBlock(context.Context, int64, int) (int, bool, error) {
	panic("not used")
}
func (s *stubTokenLister) CountRecentIssues(context.Context, int, string, time.Time) (int, error) {
	panic("not used")
}

var testSecret = []byte("handler-test-secret")

func newVerifyRouter(v services.Verifier) (*gin.Engine, *VerifyHandler) {
	h := NewVerifyHandler(v, nil, testSecret)
	r := gin.New()
	r.POST("/verification/confirm", h.Confirm)
	r.POST("/verify/link", h.VerifyLink)
	r.GET("/verify/link/:token", h.PrefillLink)
	return r, h
}

func postJSON(t *testing.T, r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestConfirmValidation(t *testing.T) {
	r, _ := newVerifyRouter(&stubVerifier{})

	w := postJSON(t, r, "/verification/confirm", gin.H{"user_id": 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	if decodeBody(t, w)["message"] != "code_required" {
		t.Fatalf("body %s", w.Body.String())
	}

	w = postJSON(t, r, "/verification/confirm", gin.H{"code": "123456"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	if decodeBody(t, w)["message"] != "user_id_or_jti_required" {
		t.Fatalf("body %s", w.Body.String())
	}
}

func TestConfirmSuccess(t *testing.T) {
	stub := &stubVerifier{res: &services.VerifyResult{UserID: 7, TokenID: 1, JTI: "j"}}
	r, _ := newVerifyRouter(stub)

	w := postJSON(t, r, "/verification/confirm", gin.H{"user_id": 7, "code": "123456"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["message"] != "verified" || body["user_id"] != float64(7) {
		t.Fatalf("body %s", w.Body.String())
	}
	if stub.lastInput.Code != "123456" || stub.lastInput.UserID != 7 {
		t.Fatalf("input not forwarded: %+v", stub.lastInput)
	}
}

func TestConfirmFallsBackToBearerSession(t *testing.T) {
	stub := &stubVerifier{res: &services.VerifyResult{UserID: 1}}
	r, _ := newVerifyRouter(stub)

	body, _ := json.Marshal(gin.H{"user_id": 1, "code": "123456"})
	req := httptest.NewRequest(http.MethodPost, "/verification/confirm", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer opaque-session")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if stub.lastInput.SessionToken != "opaque-session" {
		t.Fatalf("session token not taken from header: %+v", stub.lastInput)
	}
}

func TestConfirmErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{services.ErrTokenNotFound, http.StatusNotFound, "token_not_found"},
		{services.ErrNoActiveTokens, http.StatusNotFound, "no_active_tokens"},
		{services.ErrTokenAlreadyUsed, http.StatusBadRequest, "token_already_used"},
		{services.ErrTokenExpired, http.StatusBadRequest, "token_expired"},
		{services.ErrWrongSession, http.StatusForbidden, "wrong_session"},
		{services.ErrTooManyAttempts, http.StatusTooManyRequests, "too_many_attempts"},
		{&services.InvalidCodeError{Attempts: 2, MaxAttempts: 5}, http.StatusBadRequest, "invalid_code"},
	}

	for _, tc := range cases {
		r, _ := newVerifyRouter(&stubVerifier{err: tc.err})
		w := postJSON(t, r, "/verification/confirm", gin.H{"user_id": 1, "code": "000000"})
		if w.Code != tc.status {
			t.Fatalf("%v: status %d, want %d", tc.err, w.Code, tc.status)
		}
		body := decodeBody(t, w)
		if body["message"] != tc.message {
			t.Fatalf("%v: message %v, want %s", tc.err, body["message"], tc.message)
		}
	}
}

func TestConfirmReportsAttemptCounts(t *testing.T) {
	r, _ := newVerifyRouter(&stubVerifier{err: &services.InvalidCodeError{Attempts: 3, MaxAttempts: 5}})
	w := postJSON(t, r, "/verification/confirm", gin.H{"user_id": 1, "code": "000000"})
	if decodeBody(t, w)["attempts"] != float64(3) {
		t.Fatalf("body %s", w.Body.String())
	}

	r, _ = newVerifyRouter(&stubVerifier{err: services.ErrTooManyAttempts})
	w = postJSON(t, r, "/verification/confirm", gin.H{"user_id": 1, "code": "000000"})
	if decodeBody(t, w)["attempts"] != float64(services.MaxConfirmAttempts) {
		t.Fatalf("body %s", w.Body.String())
	}
}

func TestVerifyLinkDecodesAndForwards(t *testing.T) {
	stub := &stubVerifier{res: &services.VerifyResult{UserID: 4}}
	r, _ := newVerifyRouter(stub)

	now := time.Now().UTC()
	signed, err := utils.EncodeLinkToken(4, "jti-4", "654321", "link-session", now, now.Add(10*time.Minute), testSecret)
	if err != nil {
		t.Fatal(err)
	}

	w := postJSON(t, r, "/verify/link", gin.H{"token": signed})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if stub.lastInput.JTI != "jti-4" || stub.lastInput.Code != "654321" || stub.lastInput.SessionToken != "link-session" {
		t.Fatalf("claims not forwarded: %+v", stub.lastInput)
	}
}

func TestVerifyLinkGenericRejection(t *testing.T) {
	r, _ := newVerifyRouter(&stubVerifier{})

	now := time.Now().UTC()
	forged, _ := utils.EncodeLinkToken(4, "j", "654321", "", now, now.Add(time.Minute), []byte("other-secret"))

	// forged signature, expired payload and garbage all collapse into
	// the same generic answer
	for _, token := range []string{forged, "garbage"} {
		w := postJSON(t, r, "/verify/link", gin.H{"token": token})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status %d", w.Code)
		}
		if decodeBody(t, w)["message"] != "invalid_token" {
			t.Fatalf("body %s", w.Body.String())
		}
	}
}

func TestHistoryListsIssuanceTrail(t *testing.T) {
	now := time.Now().UTC()
	lister := &stubTokenLister{tokens: []*models.VerificationToken{
		{ID: 2, JTI: "j2", UserID: 9, Channel: models.ChannelCode, IssuedAt: now, ExpiresAt: now, Used: true, TokenHash: "secret-digest"},
		{ID: 1, JTI: "j1", UserID: 9, Channel: models.ChannelLink, IssuedAt: now.Add(-time.Hour), ExpiresAt: now, Used: true},
	}}
	h := NewVerifyHandler(&stubVerifier{}, lister, testSecret)
	r := gin.New()
	r.GET("/verification/tokens/:user_id", func(c *gin.Context) {
		c.Set("user_id", 9) // what AuthMiddleware would set
	}, h.History)

	req := httptest.NewRequest(http.MethodGet, "/verification/tokens/9", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var body struct {
		Tokens []map[string]any `json:"tokens"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tokens) != 2 {
		t.Fatalf("want 2 rows, got %d", len(body.Tokens))
	}
	// digests never serialize
	if _, ok := body.Tokens[0]["TokenHash"]; ok {
		t.Fatal("token hash leaked into the response")
	}
	if _, ok := body.Tokens[0]["token_hash"]; ok {
		t.Fatal("token hash leaked into the response")
	}
}

func TestHistoryOnlyServesOwnTrail(t *testing.T) {
	h := NewVerifyHandler(&stubVerifier{}, &stubTokenLister{}, testSecret)
	r := gin.New()
	r.GET("/verification/tokens/:user_id", func(c *gin.Context) {
		c.Set("user_id", 9)
	}, h.History)
	r.GET("/anon/tokens/:user_id", h.History)

	// another subject's trail
	req := httptest.NewRequest(http.MethodGet, "/verification/tokens/8", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign trail: status %d", w.Code)
	}

	// no authenticated identity at all
	req = httptest.NewRequest(http.MethodGet, "/anon/tokens/9", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing identity: status %d", w.Code)
	}
}

func TestPrefillLinkNeverConsumes(t *testing.T) {
	stub := &stubVerifier{}
	r, _ := newVerifyRouter(stub)

	now := time.Now().UTC()
	signed, _ := utils.EncodeLinkToken(4, "jti-4", "654321", "", now, now.Add(10*time.Minute), testSecret)

	req := httptest.NewRequest(http.MethodGet, "/verify/link/"+signed, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["jti"] != "jti-4" || body["code"] != "654321" {
		t.Fatalf("body %s", w.Body.String())
	}
	// decode-only: the verifier must never have been invoked
	if stub.lastInput.Code != "" {
		t.Fatal("prefill reached the verifier")
	}
}
