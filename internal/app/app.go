package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatapi/internal/mailer"
	"chatapi/internal/util"
	"chatapi/pkg/ai"
	"chatapi/pkg/auth"
	"chatapi/pkg/domain"
	"chatapi/pkg/store"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	resetTokenTTL     = time.Hour
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	SessionTTL    time.Duration
	GeminiAPIKey  string
	GeminiModel   string
	FrontendURL   string
	Environment   string
	Store         store.Store
	Sessions      store.SessionStore
	Responder     *ai.Responder
	Mailer        *mailer.Mailer
}

// App is the core application service wiring together storage, sessions,
// mail delivery, and the AI responder.
type App struct {
	store       store.Store
	sessions    store.SessionStore
	responder   *ai.Responder
	mailer      *mailer.Mailer
	frontendURL string
	development bool
}

// New constructs the application with database-backed storage.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		var revoker store.TokenRevoker
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		} else {
			revoker = store.NewMemoryTokenRevoker()
		}
		var err error
		sessionStore, err = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, store.JWTOptions{})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
	}

	responder := cfg.Responder
	if responder == nil {
		var client *ai.GeminiClient
		if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
			var err error
			client, err = ai.NewGeminiClient(cfg.GeminiAPIKey)
			if err != nil {
				return nil, fmt.Errorf("init gemini client: %w", err)
			}
		}
		responder = ai.NewResponder(client, cfg.GeminiModel)
	}

	resetMailer := cfg.Mailer
	if resetMailer == nil {
		resetMailer = mailer.New(mailer.Config{})
	}

	frontendURL := strings.TrimSpace(strings.TrimSuffix(cfg.FrontendURL, "/"))
	if frontendURL == "" {
		frontendURL = "http://localhost:5173"
	}

	return &App{
		store:       dataStore,
		sessions:    sessionStore,
		responder:   responder,
		mailer:      resetMailer,
		frontendURL: frontendURL,
		development: strings.TrimSpace(cfg.Environment) != "production",
	}, nil
}

// SignUp registers a new user and issues a session token.
func (a *App) SignUp(name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return domain.User{}, "", ErrMissingFields
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailTaken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", err
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrMissingFields
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout invalidates the session token, best effort.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// ForgotPassword starts a reset flow. The response is identical whether or
// not the email exists. In development the reset link is returned to the
// caller; delivery failures outside development surface as ErrDeliveryFailed.
func (a *App) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return "", nil
	}
	plaintext, hash, err := auth.NewResetToken()
	if err != nil {
		return "", err
	}
	reset := domain.PasswordReset{
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(resetTokenTTL),
	}
	if err := a.store.SetPasswordReset(user.ID, reset); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	resetLink := a.frontendURL + "/reset-password/" + plaintext

	if err := a.mailer.SendPasswordReset(ctx, user.Email, user.Name, resetLink); err != nil {
		util.LoggerFromContext(ctx).Warn("reset email not delivered", "err", err)
		if a.development {
			return resetLink, nil
		}
		return "", ErrDeliveryFailed
	}
	if a.development {
		return resetLink, nil
	}
	return "", nil
}

// ResetPassword completes a reset flow. The token must match the stored hash
// and its expiry must be strictly in the future; the password swap and the
// reset-state clear happen in one store write.
func (a *App) ResetPassword(token, password string) error {
	token = strings.TrimSpace(token)
	if token == "" || password == "" {
		return ErrResetFieldsRequired
	}
	user, ok, err := a.store.GetUserByResetTokenHash(auth.HashResetToken(token))
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok || user.Reset == nil || !user.Reset.ExpiresAt.After(time.Now().UTC()) {
		return ErrInvalidResetToken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := a.store.CompletePasswordReset(user.ID, passwordHash); err != nil {
		return fmt.Errorf("complete reset: %w", err)
	}
	return nil
}
