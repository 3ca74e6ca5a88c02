package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsOperator(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "staff-1",
		Claims: map[string]any{
			"role":  []any{"Staff", "staff", ""},
			"email": "ops@example.com",
		},
	}}

	called := false
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleStaff, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "staff-1" || identity.Email != "ops@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 1 || !identity.IsOperator() {
			t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token to be forwarded, got %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_DefaultsToCustomer(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "user-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer token")
	authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("customer must not reach admin handler")
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer token")
	authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleUser) || identity.IsOperator() {
			t.Fatalf("expected plain user identity, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequireFirebaseAuth_RejectsMissingOrInvalidToken(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		err      error
		wantCode string
	}{
		{name: "missing", header: "", wantCode: "unauthenticated"},
		{name: "wrong scheme", header: "Basic abc", wantCode: "unauthenticated"},
		{name: "expired", header: "Bearer expired", err: ErrTokenExpired, wantCode: "token_expired"},
		{name: "invalid", header: "Bearer bad", err: errors.New("boom"), wantCode: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{err: tc.err})
			req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected error %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}
