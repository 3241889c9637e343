package app

import "errors"

// These messages are shown to end users; the credential and reset errors are
// deliberately generic so they do not enable account enumeration.
var (
	ErrMissingFields      = errors.New("Missing required fields")
	ErrEmailTaken         = errors.New("Email already registered")
	ErrInvalidCredentials = errors.New("Invalid email or password")

	ErrEmailRequired       = errors.New("Email is required")
	ErrResetFieldsRequired = errors.New("Token and new password are required")
	ErrInvalidResetToken   = errors.New("Invalid or expired reset token")
	ErrDeliveryFailed      = errors.New("Failed to send reset email. Please try again.")

	ErrChatNotFound    = errors.New("Chat not found")
	ErrContentRequired = errors.New("Message content required")
	ErrInvalidMessage  = errors.New("Invalid message")
)
