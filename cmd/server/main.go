package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chatapi/internal/app"
	"chatapi/internal/config"
	"chatapi/internal/mailer"
	"chatapi/internal/ratelimit"
	"chatapi/internal/server"
	"chatapi/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		JWTSecret:     cfg.JWTSecret,
		SessionTTL:    sessionTTL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		FrontendURL:   cfg.FrontendURL,
		Environment:   cfg.Environment,
		Mailer: mailer.New(mailer.Config{
			ServiceID:  cfg.EmailJSServiceID,
			TemplateID: cfg.EmailJSTemplateID,
			PublicKey:  cfg.EmailJSPublicKey,
			PrivateKey: cfg.EmailJSPrivateKey,
		}),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:      appCore,
		Limiters: buildLimiters(cfg),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("chatapi server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

func buildLimiters(cfg config.FileConfig) server.Limiters {
	limiters := server.Limiters{}
	if cfg.RedisAddr == "" {
		return limiters
	}
	build := func(name string, limit int) *ratelimit.FixedWindowLimiter {
		if limit <= 0 {
			return nil
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "chatapi:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			log.Fatalf("failed to init %s rate limiter: %v", name, err)
		}
		return limiter
	}
	limiters.Signup = build("signup", cfg.SignupRateLimitPerMinute)
	limiters.Login = build("login", cfg.LoginRateLimitPerMinute)
	limiters.ForgotPassword = build("forgot", cfg.PasswordRateLimitPerMinute)
	limiters.ResetPassword = build("reset", cfg.PasswordRateLimitPerMinute)
	return limiters
}
