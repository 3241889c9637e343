package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"chatapi/pkg/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ChatModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM chat_models c WHERE c.id = m.chat_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_chat_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_chat_id_fkey
					FOREIGN KEY (chat_id) REFERENCES chat_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure chat foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "reset_token_hash", "reset_expires_at", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetPasswordReset records the hashed reset token and its expiry.
func (s *GormStore) SetPasswordReset(userID string, reset domain.PasswordReset) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_token_hash": reset.TokenHash,
			"reset_expires_at": reset.ExpiresAt,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// GetUserByResetTokenHash finds the user holding a reset token hash.
func (s *GormStore) GetUserByResetTokenHash(hash string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("reset_token_hash = ?", hash).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CompletePasswordReset swaps the password hash and clears reset state in a
// single UPDATE.
func (s *GormStore) CompletePasswordReset(userID, passwordHash string) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password_hash":    passwordHash,
			"reset_token_hash": nil,
			"reset_expires_at": nil,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// CreateChat stores a new empty chat.
func (s *GormStore) CreateChat(c domain.Chat) error {
	model := chatToModel(c)
	return s.db.Create(&model).Error
}

// ListChatsByUser returns chat summaries sorted by most recent update.
func (s *GormStore) ListChatsByUser(userID string) ([]domain.ChatSummary, error) {
	var models []ChatModel
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatSummary, 0, len(models))
	for _, m := range models {
		res = append(res, domain.ChatSummary{
			ID:        m.ID,
			Title:     m.Title,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return res, nil
}

// GetChat loads a chat with its messages in append order.
func (s *GormStore) GetChat(chatID, userID string) (domain.Chat, bool, error) {
	return s.loadChat(s.db, chatID, userID)
}

// DeleteChat removes a chat and cascades its messages. The removed chat is
// returned.
func (s *GormStore) DeleteChat(chatID, userID string) (domain.Chat, bool, error) {
	var chat domain.Chat
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		chat, found, err = s.loadChat(tx, chatID, userID)
		if err != nil || !found {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", chatID).Delete(&ChatModel{}).Error
	})
	if err != nil {
		return domain.Chat{}, false, err
	}
	return chat, found, nil
}

// RenameChat updates the chat title.
func (s *GormStore) RenameChat(chatID, userID, title string) (domain.Chat, bool, error) {
	var chat domain.Chat
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ChatModel{}).
			Where("id = ? AND user_id = ?", chatID, userID).
			Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		var err error
		chat, found, err = s.loadChat(tx, chatID, userID)
		return err
	})
	if err != nil {
		return domain.Chat{}, false, err
	}
	return chat, found, nil
}

// AppendMessage appends in append order. Titles are never touched here; the
// send flow derives them.
func (s *GormStore) AppendMessage(chatID, userID string, msg domain.Message) (domain.Chat, bool, error) {
	var chat domain.Chat
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chatModel ChatModel
		if err := tx.Where("id = ? AND user_id = ?", chatID, userID).First(&chatModel).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		var count int64
		if err := tx.Model(&MessageModel{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
			return err
		}
		model := MessageModel{
			ID:        msg.ID,
			ChatID:    chatID,
			Position:  int(count),
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Model(&ChatModel{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		var err error
		chat, found, err = s.loadChat(tx, chatID, userID)
		return err
	})
	if err != nil {
		return domain.Chat{}, false, err
	}
	return chat, found, nil
}

// TruncateFrom drops the target message and everything after it. The first
// message is not a valid target.
func (s *GormStore) TruncateFrom(chatID, userID, messageID string) (domain.Chat, bool, error) {
	var chat domain.Chat
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var chatModel ChatModel
		if err := tx.Where("id = ? AND user_id = ?", chatID, userID).First(&chatModel).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		var target MessageModel
		if err := tx.Where("chat_id = ? AND id = ?", chatID, messageID).First(&target).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrInvalidMessage
			}
			return err
		}
		if target.Position == 0 {
			return ErrInvalidMessage
		}
		if err := tx.Where("chat_id = ? AND position >= ?", chatID, target.Position).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&ChatModel{}).Where("id = ?", chatID).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		var err error
		chat, found, err = s.loadChat(tx, chatID, userID)
		return err
	})
	if err != nil {
		return domain.Chat{}, found, err
	}
	return chat, found, nil
}

func (s *GormStore) loadChat(tx *gorm.DB, chatID, userID string) (domain.Chat, bool, error) {
	var chatModel ChatModel
	if err := tx.Where("id = ? AND user_id = ?", chatID, userID).First(&chatModel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	var messageModels []MessageModel
	if err := tx.Where("chat_id = ?", chatID).Order("position ASC").Find(&messageModels).Error; err != nil {
		return domain.Chat{}, false, err
	}
	chat := chatFromModel(chatModel)
	chat.Messages = make([]domain.Message, 0, len(messageModels))
	for _, m := range messageModels {
		chat.Messages = append(chat.Messages, domain.Message{
			ID:        m.ID,
			ChatID:    m.ChatID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return chat, true, nil
}

func userToModel(u domain.User) UserModel {
	model := UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.Reset != nil {
		hash := u.Reset.TokenHash
		expiry := u.Reset.ExpiresAt
		model.ResetTokenHash = &hash
		model.ResetExpiresAt = &expiry
	}
	return model
}

func userFromModel(m UserModel) domain.User {
	u := domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.ResetTokenHash != nil && m.ResetExpiresAt != nil {
		u.Reset = &domain.PasswordReset{
			TokenHash: *m.ResetTokenHash,
			ExpiresAt: *m.ResetExpiresAt,
		}
	}
	return u
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
