package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"fitlog/internal/app"
	"fitlog/internal/config"
	"fitlog/internal/server"
	"fitlog/internal/usertoken"
	"fitlog/internal/util"
	"fitlog/pkg/ai"
	"fitlog/pkg/supabase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	// Two clients against the same data service endpoint: identity calls
	// use the publishable key, table writes use the elevated secret key.
	authClient := supabase.NewAuthClient(cfg.SupabaseURL, cfg.SupabasePublishableKey)
	dbClient := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseSecretKey)

	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	generator := ai.NewGeminiGenerator(geminiClient, cfg.GeminiModel)

	var verifier *usertoken.Verifier
	if cfg.SupabaseJWTSecret != "" {
		verifier, err = usertoken.NewVerifier(cfg.SupabaseJWTSecret, 0)
		if err != nil {
			log.Fatalf("failed to init token verifier: %v", err)
		}
	}

	origins := []string{cfg.FrontendURL}
	if cfg.IsDevelopment() {
		origins = append(origins, util.DevelopmentOrigins...)
	}

	httpServer, err := server.New(server.Config{
		Auth:                     app.NewAuthService(authClient, dbClient),
		Sessions:                 app.NewSessionService(dbClient),
		Activities:               app.NewActivityService(dbClient),
		Insight:                  app.NewInsightService(dbClient, generator),
		TokenVerifier:            verifier,
		AllowedOrigins:           origins,
		CookieSecure:             !cfg.IsDevelopment(),
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		ChatRateLimitPerMinute:   cfg.ChatRateLimitPerMinute,
		ResendRateLimitPerMinute: cfg.ResendRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "environment", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
