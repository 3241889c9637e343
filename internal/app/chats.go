package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatapi/internal/util"
	"chatapi/pkg/domain"
	"chatapi/pkg/store"
)

// CreateChat starts an empty chat with a default title when none is given.
func (a *App) CreateChat(userID, title string) (domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultChatTitle
	}
	now := time.Now().UTC()
	chat := domain.Chat{
		ID:        util.NewID(),
		UserID:    userID,
		Title:     title,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// ListChats returns the user's chat summaries, most recently updated first.
func (a *App) ListChats(userID string) ([]domain.ChatSummary, error) {
	summaries, err := a.store.ListChatsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return summaries, nil
}

// GetChat loads an owned chat with its messages.
func (a *App) GetChat(userID, chatID string) (domain.Chat, error) {
	chat, ok, err := a.store.GetChat(chatID, userID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

// DeleteChat removes an owned chat and all its messages.
func (a *App) DeleteChat(userID, chatID string) (domain.Chat, error) {
	chat, ok, err := a.store.DeleteChat(chatID, userID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("delete chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

// RenameChat updates the chat title.
func (a *App) RenameChat(userID, chatID, title string) (domain.Chat, error) {
	chat, ok, err := a.store.RenameChat(chatID, userID, title)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("rename chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

// SendMessage appends the user message, obtains the assistant reply, and
// appends it. The responder absorbs its own failures, so once the user
// message lands an assistant turn always follows. When the first exchange
// completes the chat, the title is derived from the first message; no other
// flow derives titles.
func (a *App) SendMessage(ctx context.Context, userID, chatID, content string) ([]domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrContentRequired
	}
	now := time.Now().UTC()
	chat, ok, err := a.store.AppendMessage(chatID, userID, domain.Message{
		ID:        util.NewID(),
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	if !ok {
		return nil, ErrChatNotFound
	}

	reply := a.responder.Reply(ctx, chat.Messages)

	chat, ok, err = a.store.AppendMessage(chatID, userID, domain.Message{
		ID:        util.NewID(),
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	if !ok {
		return nil, ErrChatNotFound
	}
	if len(chat.Messages) == 2 {
		chat, ok, err = a.store.RenameChat(chatID, userID, store.TitleFromFirstMessage(chat.Messages[0].Content))
		if err != nil {
			return nil, fmt.Errorf("derive chat title: %w", err)
		}
		if !ok {
			return nil, ErrChatNotFound
		}
	}
	return chat.Messages, nil
}

// Regenerate drops the target message and everything after it, then obtains
// a fresh assistant reply for the remaining history. The first message is
// not a valid target.
func (a *App) Regenerate(ctx context.Context, userID, chatID, messageID string) ([]domain.Message, error) {
	chat, ok, err := a.store.TruncateFrom(chatID, userID, messageID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidMessage) {
			return nil, ErrInvalidMessage
		}
		return nil, fmt.Errorf("truncate chat: %w", err)
	}
	if !ok {
		return nil, ErrChatNotFound
	}

	reply := a.responder.Reply(ctx, chat.Messages)

	chat, ok, err = a.store.AppendMessage(chatID, userID, domain.Message{
		ID:        util.NewID(),
		Role:      domain.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	if !ok {
		return nil, ErrChatNotFound
	}
	return chat.Messages, nil
}
