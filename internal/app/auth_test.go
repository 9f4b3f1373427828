package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"fitlog/pkg/supabase"
)

// fakeProvider stands in for both the identity API and the table API,
// which share one endpoint in production.
func newAuthService(t *testing.T, handler http.HandlerFunc) *AuthService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	auth := supabase.NewAuthClient(server.URL, "pub-key")
	db := supabase.NewClient(server.URL, "secret-key")
	return NewAuthService(auth, db)
}

func TestSignUpInsertsProfileRow(t *testing.T) {
	var profile map[string]any
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/v1/signup":
			_, _ = w.Write([]byte(`{"id":"user-1","email":"a@b.c","user_metadata":{"username":"alice"}}`))
		case "/rest/v1/users":
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &profile)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id":"user-1","email":"a@b.c","username":"alice"}]`))
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	result, err := svc.SignUp(context.Background(), "a@b.c", "secret123", "alice")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if result.UserID != "user-1" || result.Email != "a@b.c" {
		t.Fatalf("unexpected result %+v", result)
	}
	if profile["id"] != "user-1" || profile["email"] != "a@b.c" || profile["username"] != "alice" {
		t.Fatalf("unexpected profile row %v", profile)
	}
}

func TestSignUpDuplicateEmailIsInvalidRequest(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"User already registered"}`))
	})

	_, err := svc.SignUp(context.Background(), "a@b.c", "secret123", "alice")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLoginFailureCollapsesToUnauthorized(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
	})

	_, err := svc.Login(context.Background(), "a@b.c", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLoginReturnsProviderSession(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","user":{"id":"user-1","email":"a@b.c"}}`))
	})

	session, err := svc.Login(context.Background(), "a@b.c", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.AccessToken != "at" || session.User.ID != "user-1" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestResendVerificationRateLimitFromProvider(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"msg":"email rate limit exceeded"}`))
	})

	err := svc.ResendVerification(context.Background(), "a@b.c")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestGetUserByTokenRejectsProviderFailure(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
	})

	_, err := svc.GetUserByToken(context.Background(), "stale-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetUserByTokenResolvesUsernameFromMetadata(t *testing.T) {
	svc := newAuthService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-1","email":"a@b.c","user_metadata":{"username":"alice"}}`))
	})

	user, err := svc.GetUserByToken(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ID != "user-1" || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
}
