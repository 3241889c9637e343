package store

import (
	"errors"

	"chatapi/pkg/domain"
)

// ErrInvalidMessage is returned by TruncateFrom when the target message does
// not exist in the chat or is the first message (nothing to regenerate from).
var ErrInvalidMessage = errors.New("invalid message")

// Store defines persistence operations for users and chats.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	SetPasswordReset(userID string, reset domain.PasswordReset) error
	GetUserByResetTokenHash(hash string) (domain.User, bool, error)
	// CompletePasswordReset replaces the password hash and clears the reset
	// state in a single write so no half-applied state is observable.
	CompletePasswordReset(userID, passwordHash string) error

	// chats. All chat lookups are scoped by owner: a chat owned by another
	// user is indistinguishable from a chat that does not exist.
	CreateChat(domain.Chat) error
	ListChatsByUser(userID string) ([]domain.ChatSummary, error)
	GetChat(chatID, userID string) (domain.Chat, bool, error)
	DeleteChat(chatID, userID string) (domain.Chat, bool, error)
	RenameChat(chatID, userID, title string) (domain.Chat, bool, error)
	AppendMessage(chatID, userID string, msg domain.Message) (domain.Chat, bool, error)
	TruncateFrom(chatID, userID, messageID string) (domain.Chat, bool, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

const titleLimit = 50

// TitleFromFirstMessage derives a chat title from its first message: the
// first 50 characters, with "..." appended when the content was longer.
func TitleFromFirstMessage(content string) string {
	runes := []rune(content)
	if len(runes) > titleLimit {
		return string(runes[:titleLimit]) + "..."
	}
	return content
}
