package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fitlog/pkg/domain"
	"fitlog/pkg/supabase"
)

// AuthService wraps the external identity provider. No credentials or
// sessions are stored locally; the provider is the source of record.
type AuthService struct {
	auth *supabase.AuthClient
	db   *supabase.Client
}

// NewAuthService constructs the identity gateway.
// db must carry the elevated key: the profile row insert bypasses row security.
func NewAuthService(auth *supabase.AuthClient, db *supabase.Client) *AuthService {
	return &AuthService{auth: auth, db: db}
}

// SignUpResult is returned on successful registration.
type SignUpResult struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// SignUp registers a provider account tagged with the username, then
// inserts the profile row keyed by the provider-issued id.
func (s *AuthService) SignUp(ctx context.Context, email, password, username string) (SignUpResult, error) {
	user, err := s.auth.SignUp(ctx, email, password, map[string]any{"username": username})
	if err != nil {
		if isAlreadyRegistered(err) {
			return SignUpResult{}, fmt.Errorf("%w: email already registered", ErrInvalidRequest)
		}
		slog.Error("provider signup failed", "err", err)
		return SignUpResult{}, fmt.Errorf("%w: registration failed", ErrServiceFailure)
	}
	if user.ID == "" {
		return SignUpResult{}, fmt.Errorf("%w: registration failed", ErrServiceFailure)
	}

	profile := map[string]any{
		"id":       user.ID,
		"email":    email,
		"username": username,
	}
	var inserted []domain.User
	if err := s.db.From("users").Insert(ctx, profile, &inserted); err != nil {
		slog.Error("profile row insert failed", "user_id", user.ID, "err", err)
		return SignUpResult{}, fmt.Errorf("%w: registration failed", ErrServiceFailure)
	}
	return SignUpResult{UserID: user.ID, Email: user.Email}, nil
}

// Login exchanges credentials for the provider session token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (supabase.Session, error) {
	session, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return supabase.Session{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if session.AccessToken == "" || session.User.ID == "" {
		return supabase.Session{}, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	return session, nil
}

// ResendVerification asks the provider to re-send the signup message.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	if err := s.auth.Resend(ctx, "signup", email); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
			return fmt.Errorf("%w: verification email sent too frequently", ErrRateLimited)
		}
		return fmt.Errorf("%w: failed to resend verification email", ErrInvalidRequest)
	}
	return nil
}

// GetUserByToken validates an access token with the provider.
// Every provider failure collapses to ErrUnauthorized.
func (s *AuthService) GetUserByToken(ctx context.Context, accessToken string) (domain.User, error) {
	user, err := s.auth.GetUser(ctx, accessToken)
	if err != nil || user.ID == "" {
		return domain.User{}, fmt.Errorf("%w: invalid or expired token", ErrUnauthorized)
	}
	return domain.User{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username(),
	}, nil
}

// Logout revokes the provider session. Revocation failures are logged
// and swallowed: the caller's cookies are cleared either way.
func (s *AuthService) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.auth.SignOut(ctx, accessToken); err != nil {
		slog.Warn("provider sign-out failed", "err", err)
	}
}

func isAlreadyRegistered(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "already been registered")
}
