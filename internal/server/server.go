package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fitlog/internal/app"
	"fitlog/internal/ratelimit"
	"fitlog/internal/usertoken"
	"fitlog/internal/util"
	"fitlog/pkg/domain"
)

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
	accessTokenMaxAge  = 3600
	refreshTokenMaxAge = 30 * 24 * 3600
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Auth       *app.AuthService
	Sessions   *app.SessionService
	Activities *app.ActivityService
	Insight    *app.InsightService

	TokenVerifier  *usertoken.Verifier
	AllowedOrigins []string
	CookieSecure   bool
	TrustedProxies *util.TrustedProxies

	RedisAddr                string
	RedisPassword            string
	ChatRateLimitPerMinute   int
	ResendRateLimitPerMinute int
}

// Server exposes the workout-tracking HTTP endpoints.
type Server struct {
	auth       *app.AuthService
	sessions   *app.SessionService
	activities *app.ActivityService
	insight    *app.InsightService

	tokenVerifier  *usertoken.Verifier
	allowedOrigins []string
	cookieSecure   bool

	mux           *http.ServeMux
	chatLimiter   *ratelimit.FixedWindowLimiter
	resendLimiter *ratelimit.FixedWindowLimiter
	trustedProxy  *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	chatLimit := cfg.ChatRateLimitPerMinute
	if chatLimit <= 0 {
		chatLimit = 5
	}
	resendLimit := cfg.ResendRateLimitPerMinute
	if resendLimit <= 0 {
		resendLimit = 3
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "fitlog:api:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	chatLimiter, err := newLimiter("chat", chatLimit)
	if err != nil {
		return nil, err
	}
	resendLimiter, err := newLimiter("resend", resendLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		auth:           cfg.Auth,
		sessions:       cfg.Sessions,
		activities:     cfg.Activities,
		insight:        cfg.Insight,
		tokenVerifier:  cfg.TokenVerifier,
		allowedOrigins: cfg.AllowedOrigins,
		cookieSecure:   cfg.CookieSecure,
		mux:            http.NewServeMux(),
		chatLimiter:    chatLimiter,
		resendLimiter:  resendLimiter,
		trustedProxy:   cfg.TrustedProxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog("api", s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(s.allowedOrigins, handler)
	return util.WithSecurityHeaders(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/resend-verification", s.handleResendVerification)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// training data (auth required)
	s.mux.Handle("/api/training-sessions", s.authenticated(s.handleSessions))
	s.mux.Handle("/api/training-sessions/", s.authenticated(s.handleSessionByID))
	s.mux.Handle("/api/training-activities", s.authenticated(s.handleActivities))
	s.mux.Handle("/api/training-activities/", s.authenticated(s.handleActivityByID))

	// analysis
	s.mux.Handle("/api/analysis/ai/chat", s.authenticated(s.handleChat))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// access control filter
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := credentialFromRequest(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_credential")
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				s.audit(r, "api.authorize", "fail", "reason", "invalid_signature_or_claims")
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
		}
		user, err := s.auth.GetUserByToken(r.Context(), token)
		if err != nil {
			s.audit(r, "api.authorize", "fail", "reason", "provider_rejected_token")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r, user)
	})
}

// credentialFromRequest reads the access token from the auth cookie,
// falling back to an Authorization bearer header.
func credentialFromRequest(r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(accessTokenCookie); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token, true
		}
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	result, err := s.auth.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		s.audit(r, "api.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.signup", "success", "user_id", result.UserID)
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", "invalid_credentials")
		writeAppError(w, err)
		return
	}
	s.setAuthCookies(w, session.AccessToken, session.RefreshToken)
	s.audit(r, "api.login", "success", "user_id", session.User.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		User: domain.User{
			ID:       session.User.ID,
			Email:    session.User.Email,
			Username: session.User.Username(),
		},
	})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.resendLimiter, "too many resend attempts") {
		s.audit(r, "api.resend_verification", "rate_limited")
		return
	}
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.auth.ResendVerification(r.Context(), req.Email); err != nil {
		s.audit(r, "api.resend_verification", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.resend_verification", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "verification email sent"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if token, ok := credentialFromRequest(r); ok {
		s.auth.Logout(r.Context(), token)
	}
	s.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// /api/training-sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var req app.SessionCreate
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Date.IsZero() {
			writeError(w, http.StatusBadRequest, "date is required")
			return
		}
		created, err := s.sessions.Create(r.Context(), user.ID, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		startDate, err := dateQueryParam(r, "start_date")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		endDate, err := dateQueryParam(r, "end_date")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sessions, err := s.sessions.ListWithActivities(r.Context(), user.ID, startDate, endDate)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	default:
		methodNotAllowed(w)
	}
}

// /api/training-sessions/{id}
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/training-sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req app.SessionUpdate
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.sessions.Update(r.Context(), user.ID, id, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.sessions.Delete(r.Context(), user.ID, id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// /api/training-activities
func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.ActivityCreate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "session_id and name are required")
		return
	}
	for _, record := range req.Records {
		if record.SetNumber < 1 {
			writeError(w, http.StatusBadRequest, "set_number must be >= 1")
			return
		}
	}
	created, err := s.activities.CreateWithRecords(r.Context(), user.ID, req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// /api/training-activities/{id} or /api/training-activities/{id}/records
func (s *Server) handleActivityByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/training-activities/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 && parts[1] == "records" {
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		var records []app.RecordUpdate
		if err := decodeJSON(r, &records); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.activities.UpdateRecords(r.Context(), id, records); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.activities.Delete(r.Context(), user.ID, id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// /api/analysis/ai/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.chatLimiter, "too many chat requests") {
		s.audit(r, "api.chat", "rate_limited", "user_id", user.ID)
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	reply, err := s.insight.Chat(r.Context(), user.ID, req.Message, req.Range)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// request/response shapes
type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         domain.User `json:"user"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type chatRequest struct {
	Message string         `json:"message"`
	Range   *app.DateRange `json:"range"`
}

// cookie transport
func (s *Server) setAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   accessTokenMaxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   refreshTokenMaxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// helpers
func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func dateQueryParam(r *http.Request, name string) (*domain.Date, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	parsed, err := domain.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return &parsed, nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError translates service error kinds into HTTP statuses.
// Unrecognized errors get a generic 500 with no remote detail leaked.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal service error")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxy)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxy),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
