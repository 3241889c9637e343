package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatapi/internal/mailer"
	"chatapi/pkg/ai"
	"chatapi/pkg/auth"
	"chatapi/pkg/domain"
	"chatapi/pkg/store"
)

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	cfg := Config{
		Store:       mem,
		JWTSecret:   "test-secret",
		SessionTTL:  time.Hour,
		Responder:   ai.NewResponder(nil, "gemini-2.5-flash"),
		Environment: "development",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem
}

func TestSignUpAndLogin(t *testing.T) {
	a, _ := newTestApp(t, nil)

	user, token, err := a.SignUp("Ada", "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.ID == "" || token == "" {
		t.Fatalf("expected user id and token, got %+v / %q", user, token)
	}
	if user.PasswordHash == "hunter2" {
		t.Fatalf("password stored in plaintext")
	}

	got, ok := a.UserFromToken(token)
	if !ok || got.ID != user.ID {
		t.Fatalf("token does not resolve to user: ok=%v got=%+v", ok, got)
	}

	logged, loginToken, err := a.Login("ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID || loginToken == "" {
		t.Fatalf("unexpected login result: %+v / %q", logged, loginToken)
	}
}

func TestSignUpRejectsMissingFieldsAndDuplicates(t *testing.T) {
	a, _ := newTestApp(t, nil)

	if _, _, err := a.SignUp("", "ada@example.com", "pw"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("missing name: %v", err)
	}
	if _, _, err := a.SignUp("Ada", "", "pw"); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("missing email: %v", err)
	}
	if _, _, err := a.SignUp("Ada", "ada@example.com", ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("missing password: %v", err)
	}

	if _, _, err := a.SignUp("Ada", "ada@example.com", "pw"); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, _, err := a.SignUp("Other", "ada@example.com", "pw2"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate signup: %v", err)
	}

	user, _, err := a.Login("ada@example.com", "pw")
	if err != nil {
		t.Fatalf("login after duplicate attempt: %v", err)
	}
	if user.Name != "Ada" {
		t.Fatalf("original account was replaced: %+v", user)
	}
}

func TestLoginErrorsAreIndistinguishable(t *testing.T) {
	a, _ := newTestApp(t, nil)
	if _, _, err := a.SignUp("Ada", "ada@example.com", "hunter2"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	_, _, unknownErr := a.Login("nobody@example.com", "hunter2")
	_, _, badPassErr := a.Login("ada@example.com", "wrong")
	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(badPassErr, ErrInvalidCredentials) {
		t.Fatalf("expected identical credential errors, got %v / %v", unknownErr, badPassErr)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	a, _ := newTestApp(t, nil)
	_, token, err := a.SignUp("Ada", "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := a.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.UserFromToken(token); ok {
		t.Fatalf("token still valid after logout")
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	a, _ := newTestApp(t, nil)
	devLink, err := a.ForgotPassword(context.Background(), "nobody@example.com")
	if err != nil || devLink != "" {
		t.Fatalf("unknown email must look identical: link=%q err=%v", devLink, err)
	}
}

func TestForgotPasswordReturnsDevLinkInDevelopment(t *testing.T) {
	a, mem := newTestApp(t, nil)
	user, _, err := a.SignUp("Ada", "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	devLink, err := a.ForgotPassword(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if !strings.Contains(devLink, "/reset-password/") {
		t.Fatalf("unexpected dev link: %q", devLink)
	}

	token := devLink[strings.LastIndex(devLink, "/")+1:]
	stored, ok, err := mem.GetUserByResetTokenHash(auth.HashResetToken(token))
	if err != nil || !ok || stored.ID != user.ID {
		t.Fatalf("stored hash does not match issued token: ok=%v err=%v", ok, err)
	}
	if stored.Reset == nil || time.Until(stored.Reset.ExpiresAt) > time.Hour {
		t.Fatalf("unexpected reset expiry: %+v", stored.Reset)
	}
}

func TestForgotPasswordDeliveryFailureInProduction(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *Config) {
		cfg.Environment = "production"
	})
	if _, _, err := a.SignUp("Ada", "ada@example.com", "hunter2"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	// No mailer credentials: delivery fails, and production must not leak the
	// reset link to the caller.
	if _, err := a.ForgotPassword(context.Background(), "ada@example.com"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestForgotPasswordDeliversEmail(t *testing.T) {
	var delivered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, _ := newTestApp(t, func(cfg *Config) {
		cfg.Environment = "production"
		cfg.Mailer = mailer.New(mailer.Config{
			ServiceID:  "svc",
			TemplateID: "tpl",
			PublicKey:  "pub",
			BaseURL:    srv.URL,
		})
	})
	if _, _, err := a.SignUp("Ada", "ada@example.com", "hunter2"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	devLink, err := a.ForgotPassword(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	if !delivered {
		t.Fatalf("expected email delivery")
	}
	if devLink != "" {
		t.Fatalf("production response leaked dev link: %q", devLink)
	}
}

func TestResetPasswordRoundTrip(t *testing.T) {
	a, _ := newTestApp(t, nil)
	if _, _, err := a.SignUp("Ada", "ada@example.com", "hunter2"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	devLink, err := a.ForgotPassword(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("forgot password: %v", err)
	}
	token := devLink[strings.LastIndex(devLink, "/")+1:]

	if err := a.ResetPassword(token, "newpass"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, _, err := a.Login("ada@example.com", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still valid: %v", err)
	}
	if _, _, err := a.Login("ada@example.com", "newpass"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	// Single use: the same token cannot be replayed.
	if err := a.ResetPassword(token, "another"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected token replay to fail, got %v", err)
	}
}

func TestResetPasswordRejectsBadTokens(t *testing.T) {
	a, mem := newTestApp(t, nil)
	user, _, err := a.SignUp("Ada", "ada@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if err := a.ResetPassword("", "pw"); !errors.Is(err, ErrResetFieldsRequired) {
		t.Fatalf("empty token: %v", err)
	}
	if err := a.ResetPassword("sometoken", ""); !errors.Is(err, ErrResetFieldsRequired) {
		t.Fatalf("empty password: %v", err)
	}
	if err := a.ResetPassword("deadbeef", "pw"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("unknown token: %v", err)
	}

	// Expired token.
	plaintext, hash, err := auth.NewResetToken()
	if err != nil {
		t.Fatalf("new reset token: %v", err)
	}
	err = mem.SetPasswordReset(user.ID, domain.PasswordReset{
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("set reset: %v", err)
	}
	if err := a.ResetPassword(plaintext, "pw"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expired token: %v", err)
	}
}
