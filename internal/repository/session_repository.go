package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
)

// ErrSessionNotFound is returned by writes that target a session row that no longer exists.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists chat sessions and their message logs.
// Every mutation runs in a single transaction so readers never see a
// truncated log without its summary, or a question without its reply.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *model.Session, messages []model.Message) error {
	if session.DocumentIDs == nil {
		session.DocumentIDs = []string{}
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		return createMessages(tx, session.ID, messages)
	})
	if err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

// Load reads the session row and its ordered messages from one snapshot.
func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*model.Session, []model.Message, error) {
	var (
		session  model.Session
		messages []model.Message
		found    = true
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
				return nil
			}
			return err
		}
		return tx.Where("session_id = ?", sessionID).Order("id ASC").Find(&messages).Error
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load session failed: %w", err)
	}
	if !found {
		return nil, nil, nil
	}
	return &session, messages, nil
}

func (r *SessionRepository) ListByOwnerID(ctx context.Context, ownerID uint) ([]model.Session, error) {
	sessions := []model.Session{}
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// ReplaceSummary stores the new summary and drops every message older than keep.
// keep must be the tail of the log as returned by Load.
func (r *SessionRepository) ReplaceSummary(ctx context.Context, sessionID, summary string, keep []model.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sessionExists(tx, sessionID); err != nil {
			return err
		}
		if err := tx.Model(&model.Session{}).Where("id = ?", sessionID).Update("summary", summary).Error; err != nil {
			return err
		}
		del := tx.Where("session_id = ?", sessionID)
		if len(keep) > 0 {
			del = del.Where("id < ?", keep[0].ID)
		}
		return del.Delete(&model.Message{}).Error
	})
	if err != nil {
		return fmt.Errorf("replace session summary failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) AppendMessages(ctx context.Context, sessionID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sessionExists(tx, sessionID); err != nil {
			return err
		}
		return createMessages(tx, sessionID, messages)
	})
	if err != nil {
		return fmt.Errorf("append session messages failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sessionID).Delete(&model.Session{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}

// sessionExists counts the row; MySQL reports 0 affected rows for an unchanged UPDATE.
func sessionExists(tx *gorm.DB, sessionID string) error {
	var count int64
	if err := tx.Model(&model.Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func createMessages(tx *gorm.DB, sessionID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]model.Message, len(messages))
	for i, m := range messages {
		rows[i] = model.Message{
			SessionID: sessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return tx.Create(&rows).Error
}
