package store

import (
	"sort"
	"sync"
	"time"

	"chatapi/pkg/domain"
)

// MemoryStore keeps users and chats in-process. Used by tests and local
// development without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]domain.User // key: user ID
	email map[string]string      // email -> user ID
	chats map[string]domain.Chat // key: chat ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		chats: make(map[string]domain.Chat),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SetPasswordReset records the hashed reset token and expiry.
func (m *MemoryStore) SetPasswordReset(userID string, reset domain.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.Reset = &domain.PasswordReset{TokenHash: reset.TokenHash, ExpiresAt: reset.ExpiresAt}
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// GetUserByResetTokenHash finds the user holding a reset token hash.
func (m *MemoryStore) GetUserByResetTokenHash(hash string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Reset != nil && u.Reset.TokenHash == hash {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// CompletePasswordReset swaps the password hash and clears reset state.
func (m *MemoryStore) CompletePasswordReset(userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.PasswordHash = passwordHash
	u.Reset = nil
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

// CreateChat stores a new chat.
func (m *MemoryStore) CreateChat(c domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = cloneChat(c)
	return nil
}

// ListChatsByUser returns summaries sorted by most recent update.
func (m *MemoryStore) ListChatsByUser(userID string) ([]domain.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatSummary, 0)
	for _, c := range m.chats {
		if c.UserID == userID {
			res = append(res, c.Summary())
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

// GetChat retrieves an owned chat.
func (m *MemoryStore) GetChat(chatID, userID string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.ownedChat(chatID, userID)
	if !ok {
		return domain.Chat{}, false, nil
	}
	return cloneChat(c), true, nil
}

// DeleteChat removes an owned chat and its messages.
func (m *MemoryStore) DeleteChat(chatID, userID string) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ownedChat(chatID, userID)
	if !ok {
		return domain.Chat{}, false, nil
	}
	delete(m.chats, chatID)
	return cloneChat(c), true, nil
}

// RenameChat updates an owned chat title.
func (m *MemoryStore) RenameChat(chatID, userID, title string) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ownedChat(chatID, userID)
	if !ok {
		return domain.Chat{}, false, nil
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	m.chats[chatID] = c
	return cloneChat(c), true, nil
}

// AppendMessage appends in append order. Titles are never touched here; the
// send flow derives them.
func (m *MemoryStore) AppendMessage(chatID, userID string, msg domain.Message) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ownedChat(chatID, userID)
	if !ok {
		return domain.Chat{}, false, nil
	}
	msg.ChatID = chatID
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now().UTC()
	m.chats[chatID] = c
	return cloneChat(c), true, nil
}

// TruncateFrom drops the target message and everything after it.
func (m *MemoryStore) TruncateFrom(chatID, userID, messageID string) (domain.Chat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ownedChat(chatID, userID)
	if !ok {
		return domain.Chat{}, false, nil
	}
	idx := -1
	for i, msg := range c.Messages {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return domain.Chat{}, true, ErrInvalidMessage
	}
	c.Messages = c.Messages[:idx]
	c.UpdatedAt = time.Now().UTC()
	m.chats[chatID] = c
	return cloneChat(c), true, nil
}

func (m *MemoryStore) ownedChat(chatID, userID string) (domain.Chat, bool) {
	c, ok := m.chats[chatID]
	if !ok || c.UserID != userID {
		return domain.Chat{}, false
	}
	return c, true
}

func cloneChat(c domain.Chat) domain.Chat {
	out := c
	out.Messages = make([]domain.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
