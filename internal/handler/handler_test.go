package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"pmbots/internal/apperr"
	"pmbots/internal/keywrap"
	"pmbots/internal/models"
	"pmbots/internal/service"
	"pmbots/internal/subscription"
)

var testAuth = Auth{Secret: []byte("test-secret"), Issuer: "pmbots-test"}

func init() {
	gin.SetMode(gin.TestMode)
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func token(t *testing.T, userID, role, jti string) string {
	t.Helper()
	tok, err := testAuth.Sign(Claims{UserID: userID, Role: role, RegisteredClaims: jwt.RegisteredClaims{ID: jti}}, time.Minute)
	if err != nil {
		t.Fatalf("sign err=%v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode err=%v body=%s", err, w.Body.String())
	}
	return out
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	engine := (&Router{Auth: testAuth, Keys: &KeysHandler{Sessions: keywrap.NewSessionKeys(keywrap.DefaultBits, time.Minute)}}).Engine()

	expired, _ := testAuth.Sign(Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, time.Minute)
	foreign, _ := Auth{Secret: testAuth.Secret, Issuer: "someone-else"}.Sign(Claims{UserID: "u1"}, time.Minute)
	hs384, _ := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    testAuth.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString(testAuth.Secret)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong issuer": foreign,
		"wrong alg":    hs384,
	}
	for name, tok := range cases {
		w := do(t, engine, http.MethodGet, "/api/keys/public", tok, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want=%d", name, w.Code, http.StatusUnauthorized)
		}
		if body := decodeError(t, w); body.Code != string(apperr.CodeUnauthorized) {
			t.Fatalf("%s: code=%s", name, body.Code)
		}
	}
}

func TestAuth_SubjectFallback(t *testing.T) {
	tok, err := testAuth.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"}}, time.Minute)
	if err != nil {
		t.Fatalf("sign err=%v", err)
	}
	claims, err := testAuth.Verify(tok)
	if err != nil || claims.UserID != "u9" {
		t.Fatalf("claims=%+v err=%v want user u9", claims, err)
	}
	if got := sessionHandle(Claims{UserID: "u9", RegisteredClaims: jwt.RegisteredClaims{ID: "j1"}}); got != "u9:j1" {
		t.Fatalf("session=%q want=u9:j1", got)
	}
}

func TestKeys_OneKeyPerSession(t *testing.T) {
	engine := (&Router{Auth: testAuth, Keys: &KeysHandler{Sessions: keywrap.NewSessionKeys(keywrap.DefaultBits, time.Minute)}}).Engine()

	read := func(tok string) publicKeyResponse {
		w := do(t, engine, http.MethodGet, "/api/keys/public", tok, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		var out publicKeyResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode err=%v", err)
		}
		return out
	}

	first := read(token(t, "u1", "", "login-1"))
	again := read(token(t, "u1", "", "login-1"))
	other := read(token(t, "u1", "", "login-2"))
	if first.PublicKey == "" || first.PublicKey != again.PublicKey {
		t.Fatalf("same session returned different keys")
	}
	if other.PublicKey == first.PublicKey {
		t.Fatalf("new login reused the previous session key")
	}
}

func TestAuth_DisabledReadsHeader(t *testing.T) {
	engine := (&Router{Auth: Auth{Disabled: true}, Keys: &KeysHandler{Sessions: keywrap.NewSessionKeys(keywrap.DefaultBits, time.Minute)}}).Engine()

	if w := do(t, engine, http.MethodGet, "/api/keys/public", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusUnauthorized)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/keys/public", nil)
	req.Header.Set("X-User-ID", "dev")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusOK)
	}
}

type countingPlans struct{ subs, wallets int }

func (p *countingPlans) GetSubscription(ctx context.Context, ownerID string) (*models.UserSubscription, error) {
	p.subs++
	return nil, nil
}

func (p *countingPlans) CountWalletsByOwner(ctx context.Context, ownerID string) (int64, error) {
	p.wallets++
	return 1, nil
}

func (p *countingPlans) CountStrategiesByOwner(ctx context.Context, ownerID string) (int64, error) {
	return 0, nil
}

func (p *countingPlans) CountBotsByOwner(ctx context.Context, ownerID string) (int64, error) {
	return 0, nil
}

func TestPlanContext_SharedPerRequest(t *testing.T) {
	src := &countingPlans{}
	engine := gin.New()
	engine.GET("/x", testAuth.Middleware(), PlanContext(src), func(c *gin.Context) {
		ctx := c.Request.Context()
		first := subscription.FromContext(ctx, nil, "u1", time.Now())
		for i := 0; i < 3; i++ {
			if err := subscription.FromContext(ctx, nil, "u1", time.Now()).CheckCount(ctx, subscription.KindWallets, 1); err != nil {
				t.Errorf("CheckCount err=%v", err)
			}
		}
		if subscription.FromContext(ctx, nil, "u1", time.Now()) != first {
			t.Errorf("context not shared within the request")
		}
		Ok(c, gin.H{})
	})

	for i := 0; i < 2; i++ {
		if w := do(t, engine, http.MethodGet, "/x", token(t, "u1", "", "j1"), ""); w.Code != http.StatusOK {
			t.Fatalf("status=%d want=%d", w.Code, http.StatusOK)
		}
	}
	if src.subs != 2 || src.wallets != 2 {
		t.Fatalf("lookups subs=%d wallets=%d want=2/2", src.subs, src.wallets)
	}
}

func TestSchemas_ValidationErrors(t *testing.T) {
	engine := (&Router{Auth: testAuth, Strategies: &StrategyHandler{}}).Engine()
	tok := token(t, "u1", "", "j")

	cases := []struct {
		body  string
		field string
		key   string
	}{
		{`{"interval":"5m"}`, "name", "required"},
		{`{"name":"x"}`, "interval", "required"},
		{`{"name":"` + strings.Repeat("n", 65) + `","interval":"5m"}`, "name", "max"},
		{`{"name":`, "body", "invalid_json"},
	}
	for _, c := range cases {
		w := do(t, engine, http.MethodPost, "/api/strategies", tok, c.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want=%d", c.body, w.Code, http.StatusBadRequest)
		}
		body := decodeError(t, w)
		if body.Code != string(apperr.CodeValidation) || body.Data["field"] != c.field || body.Data["key"] != c.key {
			t.Fatalf("%s: body=%+v want field=%s key=%s", c.body, body, c.field, c.key)
		}
	}
}

func TestSchemas_BodyAndIDParam(t *testing.T) {
	engine := (&Router{Auth: testAuth, Wallets: &WalletHandler{}, Bots: &BotHandler{}}).Engine()
	tok := token(t, "u1", "", "j")

	w := do(t, engine, http.MethodGet, "/api/wallets/abc", tok, "")
	body := decodeError(t, w)
	if w.Code != http.StatusBadRequest || body.Data["field"] != "id" || body.Data["key"] != "invalid_id" {
		t.Fatalf("status=%d body=%+v", w.Code, body)
	}

	w = do(t, engine, http.MethodPost, "/api/bots", tok, `{"walletId":1,"strategyId":2,"interval":"5m"}`)
	body = decodeError(t, w)
	if body.Data["field"] != "symbol" || body.Data["key"] != "required" {
		t.Fatalf("body=%+v want symbol/required", body)
	}

	w = do(t, engine, http.MethodGet, "/api/bots/1/history?action=PAUSE", tok, "")
	body = decodeError(t, w)
	if w.Code != http.StatusBadRequest || body.Data["field"] != "action" {
		t.Fatalf("status=%d body=%+v", w.Code, body)
	}
}

func TestAdmin_RequiresRole(t *testing.T) {
	engine := (&Router{Auth: testAuth, Admin: &AdminHandler{}}).Engine()

	w := do(t, engine, http.MethodPut, "/api/admin/settings/feature.bot_enable", token(t, "u1", "user", "j"), `{}`)
	if w.Code != http.StatusForbidden || decodeError(t, w).Code != string(apperr.CodeForbidden) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, engine, http.MethodPut, "/api/admin/settings/feature.bot_enable", token(t, "ops", RoleAdmin, "j"), `{}`)
	body := decodeError(t, w)
	if w.Code != http.StatusBadRequest || body.Data["field"] != "enabled" {
		t.Fatalf("status=%d body=%+v", w.Code, body)
	}
}

func TestWebhook_AlwaysOK(t *testing.T) {
	billing := &BillingHandler{Service: &service.BillingService{WebhookSecret: "whsec"}}
	engine := (&Router{Auth: testAuth, Billing: billing}).Engine()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(`{"id":"evt","type":"payment.confirmed"}`))
	req.Header.Set("X-Signature", "deadbeef")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusOK)
	}

	if w := do(t, engine, http.MethodGet, "/api/subscription", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("subscription status=%d want=%d", w.Code, http.StatusUnauthorized)
	}
}

func TestError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   apperr.Code
	}{
		{apperr.WithData(apperr.CodeSubscriptionBotLimit, "bot limit reached", apperr.QuotaData{Current: 3, Limit: 3, Plan: "FREE"}), http.StatusForbidden, apperr.CodeSubscriptionBotLimit},
		{apperr.New(apperr.CodeBotOperationInProgress, "busy"), http.StatusConflict, apperr.CodeBotOperationInProgress},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, apperr.CodeInternal},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		ctx, _ := gin.CreateTestContext(w)
		Error(ctx, c.err)
		if w.Code != c.status {
			t.Fatalf("%v: status=%d want=%d", c.err, w.Code, c.status)
		}
		body := decodeError(t, w)
		if body.Code != string(c.code) {
			t.Fatalf("%v: code=%s want=%s", c.err, body.Code, c.code)
		}
		if strings.Contains(body.Message, "connection refused") {
			t.Fatalf("cause leaked: %s", body.Message)
		}
	}

	w := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(w)
	Error(ctx, apperr.WithData(apperr.CodeSubscriptionBotLimit, "bot limit reached", apperr.QuotaData{Current: 3, Limit: 3, Plan: "FREE"}))
	if body := decodeError(t, w); body.Data["plan"] != "FREE" || body.Data["limit"] != float64(3) {
		t.Fatalf("data=%+v", body.Data)
	}
}

func TestHealth(t *testing.T) {
	engine := (&Router{Health: &HealthHandler{}}).Engine()
	if w := do(t, engine, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", w.Code)
	}
	if w := do(t, engine, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d want=%d", w.Code, http.StatusServiceUnavailable)
	}
	if w := do(t, engine, http.MethodGet, "/metrics", "", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", w.Code)
	}
}
