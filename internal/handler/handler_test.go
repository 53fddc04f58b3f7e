package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/latch/internal/license"
	"github.com/faucetdb/latch/internal/server/middleware"
	"github.com/faucetdb/latch/internal/service"
	"github.com/faucetdb/latch/internal/store"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
	testEmail     = "admin@example.com"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.Store
	authSvc *service.AuthService
	keySvc  *service.KeyService
	now     time.Time
	router  chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, the
// key and system handlers, and a Chi router. Admin routes use a stub
// principal instead of JWT auth so handlers can be tested directly.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.OpenAndMigrate(context.Background(), store.Config{})
	if err != nil {
		t.Fatalf("store.OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		store: st,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := license.New(license.NewGenerator("", 0), license.WithClock(func() time.Time { return env.now }))
	env.authSvc = service.NewAuthService(st, testJWTSecret)
	env.keySvc = service.NewKeyService(st, engine, logger)

	keys := NewKeyHandler(env.keySvc)
	sys := NewSystemHandler(env.authSvc, 0)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/redeem", keys.Redeem)
		r.Get("/checkkey", keys.CheckKey)

		r.Post("/system/admin/session", sys.Login)
		r.Delete("/system/admin/session", sys.Logout)

		r.Group(func(r chi.Router) {
			r.Use(asAdmin(testEmail))
			r.Post("/createkey", keys.CreateKey)
			r.Get("/keys", keys.ListKeys)
			r.Post("/ban", keys.Ban)
			r.Post("/unban", keys.Unban)
			r.Post("/deletekey", keys.DeleteKey)
		})
	})
	env.router = r
	return env
}

func asAdmin(email string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.AuthPrincipalKey,
				&middleware.Principal{Email: email, IsAdmin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// seedAdmin creates the default admin account.
func (e *testEnv) seedAdmin(t *testing.T) {
	t.Helper()
	if _, err := e.authSvc.CreateAdmin(context.Background(), testEmail, "Test Admin", testPassword); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
}

// seedKey issues a key through the API and returns its key string.
func (e *testEnv) seedKey(t *testing.T, days int) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/createkey", toJSON(t, map[string]int{"days": days}))
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		Key string `json:"key"`
	}
	decodeJSON(t, rr, &resp)
	return resp.Key
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// errorBody is the decoded error envelope.
type errorBody struct {
	Error struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Context map[string]interface{} `json:"context"`
	} `json:"error"`
}
