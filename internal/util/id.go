package util

import "github.com/google/uuid"

// NewID returns a new identifier for users, chats, and messages.
func NewID() string {
	return uuid.NewString()
}
