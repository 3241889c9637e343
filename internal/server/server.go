package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"chatapi/internal/app"
	"chatapi/internal/ratelimit"
	"chatapi/internal/util"
	"chatapi/pkg/domain"
)

// Limiters holds optional per-endpoint rate limiters for the auth surface.
// A nil limiter disables limiting for that endpoint.
type Limiters struct {
	Signup         *ratelimit.FixedWindowLimiter
	Login          *ratelimit.FixedWindowLimiter
	ForgotPassword *ratelimit.FixedWindowLimiter
	ResetPassword  *ratelimit.FixedWindowLimiter
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Limiters Limiters
}

// Server exposes the REST API.
type Server struct {
	app      *app.App
	limiters Limiters
	mux      *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:      cfg.App,
		limiters: cfg.Limiters,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	var handler http.Handler = s.mux
	handler = util.WithRequestLog(handler)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(handler)
	handler = util.WithSecurityHeaders(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.Handle("/auth/signup", s.limited(s.limiters.Signup, s.handleSignup))
	s.mux.Handle("/auth/login", s.limited(s.limiters.Login, s.handleLogin))
	s.mux.Handle("/auth/forgot-password", s.limited(s.limiters.ForgotPassword, s.handleForgotPassword))
	s.mux.Handle("/auth/reset-password", s.limited(s.limiters.ResetPassword, s.handleResetPassword))
	s.mux.HandleFunc("/auth/logout", s.handleLogout)

	// chats
	s.mux.Handle("/chat/create", s.withUser(s.handleChatCreate))
	s.mux.Handle("/chat/list", s.withUser(s.handleChatList))
	s.mux.Handle("/chat/", s.withUser(s.handleChatByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, next http.HandlerFunc) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(util.ClientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser requires a valid bearer session token. Any missing, malformed,
// expired, or tampered token yields the same 401.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
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
	user, token, err := s.app.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingFields), errors.Is(err, app.ErrEmailTaken):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User created successfully",
		User:    user,
		Token:   token,
	})
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
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingFields):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		User:    user,
		Token:   token,
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	devLink, err := s.app.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmailRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrDeliveryFailed):
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, forgotPasswordResponse{
		Message: "If that email exists, a reset link has been sent.",
		DevLink: devLink,
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ResetPassword(req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, app.ErrResetFieldsRequired), errors.Is(err, app.ErrInvalidResetToken):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successful"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chat handlers

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatCreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	chat, err := s.app.CreateChat(user.ID, req.Title)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chatResponse{Message: "Chat created", Chat: chat})
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	chats, err := s.app.ListChats(user.ID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatListResponse{Chats: chats})
}

func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/chat/"), "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleChat(w, r, user, parts[0])
	case len(parts) == 2 && parts[1] == "message":
		s.handleChatMessage(w, r, user, parts[0])
	case len(parts) == 3 && parts[1] == "regenerate":
		s.handleChatRegenerate(w, r, user, parts[0], parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	switch r.Method {
	case http.MethodGet:
		chat, err := s.app.GetChat(user.ID, chatID)
		if err != nil {
			chatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Chat: chat})
	case http.MethodDelete:
		chat, err := s.app.DeleteChat(user.ID, chatID)
		if err != nil {
			chatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Message: "Chat deleted", Chat: chat})
	case http.MethodPut:
		var req chatRenameRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		chat, err := s.app.RenameChat(user.ID, chatID, req.Title)
		if err != nil {
			chatError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Message: "Chat updated", Chat: chat})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request, user domain.User, chatID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	messages, err := s.app.SendMessage(r.Context(), user.ID, chatID, req.Content)
	if err != nil {
		if errors.Is(err, app.ErrContentRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Message: "Message sent", Messages: messages})
}

func (s *Server) handleChatRegenerate(w http.ResponseWriter, r *http.Request, user domain.User, chatID, messageID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	messages, err := s.app.Regenerate(r.Context(), user.ID, chatID, messageID)
	if err != nil {
		if errors.Is(err, app.ErrInvalidMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		chatError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Message: "Message regenerated", Messages: messages})
}

// helpers

func chatError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, app.ErrChatNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	serverError(w, r, err)
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "Server error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
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

// request/response bodies

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type chatCreateRequest struct {
	Title string `json:"title"`
}

type chatRenameRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type authResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
	Token   string      `json:"token"`
}

type forgotPasswordResponse struct {
	Message string `json:"message"`
	DevLink string `json:"devLink,omitempty"`
}

type chatResponse struct {
	Message string      `json:"message,omitempty"`
	Chat    domain.Chat `json:"chat"`
}

type chatListResponse struct {
	Chats []domain.ChatSummary `json:"chats"`
}

type messagesResponse struct {
	Message  string           `json:"message"`
	Messages []domain.Message `json:"messages"`
}
