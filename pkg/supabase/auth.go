package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// AuthClient calls the identity provider's auth API.
// Credentials and session tokens are owned entirely by the provider.
type AuthClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// AuthError represents an identity provider error response.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthClient constructs an identity provider client.
func NewAuthClient(baseURL, apiKey string) *AuthClient {
	return &AuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthUser is the provider's view of an account.
type AuthUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// Username returns the username stored in provider metadata, if any.
func (u AuthUser) Username() string {
	if u.UserMetadata == nil {
		return ""
	}
	name, _ := u.UserMetadata["username"].(string)
	return name
}

// Session is the provider-issued token pair.
type Session struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	User         AuthUser `json:"user"`
}

// SignUp registers an account with optional metadata attached to it.
// Depending on provider settings the response is either a bare user
// object or a session wrapping one; both shapes are handled.
func (c *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (AuthUser, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}
	var resp struct {
		AuthUser
		User *AuthUser `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/signup", "", payload, &resp); err != nil {
		return AuthUser{}, err
	}
	if resp.User != nil {
		return *resp.User, nil
	}
	return resp.AuthUser, nil
}

// SignInWithPassword exchanges credentials for a session token pair.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	payload := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// GetUser validates an access token and returns the account it belongs to.
func (c *AuthClient) GetUser(ctx context.Context, accessToken string) (AuthUser, error) {
	var user AuthUser
	if err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return AuthUser{}, err
	}
	return user, nil
}

// Resend asks the provider to re-send a verification message.
func (c *AuthClient) Resend(ctx context.Context, verificationType, email string) error {
	payload := map[string]string{"type": verificationType, "email": email}
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/resend", "", payload, nil)
}

// SignOut revokes the session behind the given access token.
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

func (c *AuthClient) doJSON(ctx context.Context, method, path, userToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	token := c.apiKey
	if userToken != "" {
		token = userToken
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			ErrorDescription string `json:"error_description"`
			Msg              string `json:"msg"`
			Message          string `json:"message"`
			ErrorCode        string `json:"error_code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.ErrorDescription
		if msg == "" {
			msg = errResp.Msg
		}
		if msg == "" {
			msg = errResp.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return &AuthError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
