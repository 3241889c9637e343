package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultEmailJSURL = "https://api.emailjs.com/api/v1.0/email/send"

// ErrNotConfigured signals that no delivery credentials are present; callers
// may fall back to logging the reset link in development.
var ErrNotConfigured = errors.New("mailer not configured")

// Config holds EmailJS credentials.
type Config struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
	BaseURL    string
	HTTPClient *http.Client
}

// Mailer delivers password-reset emails through the EmailJS REST API.
type Mailer struct {
	serviceID  string
	templateID string
	publicKey  string
	privateKey string
	baseURL    string
	httpClient *http.Client
}

// New builds a mailer. Missing credentials are allowed; Send then returns
// ErrNotConfigured.
func New(cfg Config) *Mailer {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultEmailJSURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Mailer{
		serviceID:  strings.TrimSpace(cfg.ServiceID),
		templateID: strings.TrimSpace(cfg.TemplateID),
		publicKey:  strings.TrimSpace(cfg.PublicKey),
		privateKey: strings.TrimSpace(cfg.PrivateKey),
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Configured reports whether delivery credentials are present.
func (m *Mailer) Configured() bool {
	return m != nil && m.serviceID != "" && m.templateID != "" && m.publicKey != ""
}

type sendRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	AccessToken    string         `json:"accessToken,omitempty"`
	TemplateParams map[string]any `json:"template_params"`
}

// SendPasswordReset delivers the reset link to the user.
func (m *Mailer) SendPasswordReset(ctx context.Context, email, userName, resetLink string) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	if userName == "" {
		userName = email
	}
	payload := sendRequest{
		ServiceID:   m.serviceID,
		TemplateID:  m.templateID,
		UserID:      m.publicKey,
		AccessToken: m.privateKey,
		TemplateParams: map[string]any{
			"to_email":   email,
			"user_name":  userName,
			"reset_link": resetLink,
			"from_name":  "ChatAI",
			"reply_to":   email,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send reset email: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
