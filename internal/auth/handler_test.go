package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestHandler(t *testing.T, store *fakeStore) (*Handler, *Service) {
	t.Helper()
	service := newTestService(t, store)
	return NewHandler(service), service
}

func postJSON(t *testing.T, handler http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler(recorder, request)
	return recorder
}

func TestHandlerLoginSuccess(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleStudent, true)
	handler, _ := newTestHandler(t, store)

	recorder := postJSON(t, handler.Login, "/auth/login", `{"national_id":"123456789","password":"pw123456"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var result LoginResult
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("expected tokens in the response body")
	}
	if result.Profile.Role != RoleStudent {
		t.Fatalf("unexpected profile %+v", result.Profile)
	}

	cookies := recorder.Result().Cookies()
	byName := map[string]*http.Cookie{}
	for _, cookie := range cookies {
		byName[cookie.Name] = cookie
	}
	for _, name := range []string{accessCookieName, refreshCookieName} {
		cookie, ok := byName[name]
		if !ok {
			t.Fatalf("missing %s cookie", name)
		}
		if !cookie.HttpOnly || !cookie.Secure {
			t.Fatalf("%s cookie must be HttpOnly and Secure", name)
		}
		if cookie.MaxAge <= 0 {
			t.Fatalf("%s cookie must carry an explicit expiry", name)
		}
	}
}

func TestHandlerLoginFailurePayloadsIndistinguishable(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleStudent, true)
	handler, _ := newTestHandler(t, store)

	wrongSecret := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"wrong"}`)
	unknown := postJSON(t, handler.Login, "/auth/login", `{"national_id":"9999999999","password":"wrong"}`)

	if wrongSecret.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongSecret.Code, unknown.Code)
	}
	if wrongSecret.Body.String() != unknown.Body.String() {
		t.Fatalf("failure payloads must be identical: %q vs %q", wrongSecret.Body.String(), unknown.Body.String())
	}
}

func TestHandlerLoginLocked(t *testing.T) {
	store := newFakeStore()
	cred := seedAccount(t, store, "0123456789", "pw123456", RoleStudent, true)
	until := time.Now().UTC().Add(10 * time.Minute)
	store.lockouts[cred.ID] = LockoutState{FailedAttempts: 5, LockedUntil: &until}
	handler, _ := newTestHandler(t, store)

	recorder := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"pw123456"}`)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestHandlerLoginDisabled(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleTeacher, false)
	handler, _ := newTestHandler(t, store)

	recorder := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"pw123456"}`)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
}

func TestHandlerLoginRejectsBadInput(t *testing.T) {
	store := newFakeStore()
	handler, _ := newTestHandler(t, store)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"national_id":`},
		{name: "unknown field", body: `{"national_id":"0123456789","password":"x","extra":true}`},
		{name: "non-numeric id", body: `{"national_id":"abc","password":"pw123456"}`},
		{name: "empty password", body: `{"national_id":"0123456789","password":""}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := postJSON(t, handler.Login, "/auth/login", test.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
		})
	}
}

func TestHandlerRefreshFromCookie(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleStudent, true)
	handler, _ := newTestHandler(t, store)

	login := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"pw123456"}`)
	if login.Code != http.StatusOK {
		t.Fatalf("login failed: %d", login.Code)
	}

	var refreshCookie *http.Cookie
	for _, cookie := range login.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			refreshCookie = cookie
		}
	}
	if refreshCookie == nil {
		t.Fatal("missing refresh cookie")
	}

	request := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	request.AddCookie(refreshCookie)
	recorder := httptest.NewRecorder()
	handler.Refresh(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var tokens Tokens
	if err := json.Unmarshal(recorder.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if tokens.RefreshToken == refreshCookie.Value {
		t.Fatal("rotation must replace the refresh token")
	}
}

func TestHandlerRefreshInvalidToken(t *testing.T) {
	store := newFakeStore()
	handler, _ := newTestHandler(t, store)

	recorder := postJSON(t, handler.Refresh, "/auth/refresh", `{"refresh_token":"never-issued"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestHandlerMe(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleAdmin, true)
	handler, service := newTestHandler(t, store)

	login := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"pw123456"}`)
	if login.Code != http.StatusOK {
		t.Fatalf("login failed: %d", login.Code)
	}

	var result LoginResult
	if err := json.Unmarshal(login.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	protected := Middleware(service.Issuer(), http.HandlerFunc(handler.Me))
	request := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	request.Header.Set("Authorization", "Bearer "+result.AccessToken)
	recorder := httptest.NewRecorder()
	protected.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if body["national_id"] != "0123456789" || body["role"] != RoleAdmin {
		t.Fatalf("unexpected claims payload %v", body)
	}
}

func TestMiddlewareRoleRestriction(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "0123456789", "pw123456", RoleStudent, true)
	handler, service := newTestHandler(t, store)

	login := postJSON(t, handler.Login, "/auth/login", `{"national_id":"0123456789","password":"pw123456"}`)
	var result LoginResult
	if err := json.Unmarshal(login.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	adminOnly := Middleware(service.Issuer(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), RoleAdmin)

	request := httptest.NewRequest(http.MethodGet, "/admin/news", nil)
	request.Header.Set("Authorization", "Bearer "+result.AccessToken)
	recorder := httptest.NewRecorder()
	adminOnly.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student on admin route, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/admin/news", nil)
	recorder = httptest.NewRecorder()
	adminOnly.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}
}
