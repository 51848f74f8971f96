package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"device-control-relay/internal/domain"
)

type stubAuthenticator struct {
	tokens map[string]domain.Identity
}

func (a stubAuthenticator) VerifyAdminToken(_ context.Context, token string) (domain.Identity, error) {
	identity, ok := a.tokens[token]
	if !ok {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}
	return identity, nil
}

func TestAuthMiddleware(t *testing.T) {
	auth := stubAuthenticator{tokens: map[string]domain.Identity{
		"good": domain.NewAdminIdentity("admin-1", "Ana", domain.RoleOrgAdmin, "org-1"),
	}}

	var seen domain.AdminIdentity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetAdmin(r)
		w.WriteHeader(http.StatusNoContent)
	})
	handler := AuthMiddleware(auth)(next)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid token", header: "Bearer good", wantStatus: http.StatusNoContent, wantUser: "admin-1"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "rejected token", header: "Bearer bad", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = domain.AdminIdentity{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/live", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if seen.UserID != tt.wantUser {
				t.Errorf("admin in context = %q, want %q", seen.UserID, tt.wantUser)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body map[string]interface{}
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("Failed to parse response: %v", err)
				}
				if body["success"] != false {
					t.Errorf("success = %v, want false", body["success"])
				}
			}
		})
	}
}

func TestGetUserID_WithoutAdmin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if got := GetUserID(req); got != "" {
		t.Errorf("GetUserID() = %q, want empty", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{name: "listed origin", allowed: "https://console.example, https://ops.example", origin: "https://ops.example", method: http.MethodGet, wantOrigin: "https://ops.example", wantStatus: http.StatusTeapot},
		{name: "unlisted origin", allowed: "https://console.example", origin: "https://evil.example", method: http.MethodGet, wantOrigin: "", wantStatus: http.StatusTeapot},
		{name: "wildcard echoes origin", allowed: "*", origin: "https://any.example", method: http.MethodGet, wantOrigin: "https://any.example", wantStatus: http.StatusTeapot},
		{name: "wildcard without origin", allowed: "*", method: http.MethodGet, wantOrigin: "*", wantStatus: http.StatusTeapot},
		{name: "preflight short circuits", allowed: "*", origin: "https://any.example", method: http.MethodOptions, wantOrigin: "https://any.example", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORSMiddleware(tt.allowed, "GET,POST", "Authorization")(next)
			req := httptest.NewRequest(tt.method, "/api/v1/permissions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
