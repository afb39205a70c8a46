package model

import "time"

// Session is a conversation anchored to a fixed set of notes.
// Summary is empty until the first compaction.
type Session struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"session_id"`
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`
	DocumentIDs []string  `gorm:"type:json;serializer:json" json:"note_ids"`
	Summary     string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Session) TableName() string {
	return "chat_sessions"
}

func (s *Session) HasSummary() bool {
	return s.Summary != ""
}

// SessionHistory is the owner-facing read view of a session.
type SessionHistory struct {
	SessionID   string    `json:"session_id"`
	DocumentIDs []string  `json:"note_ids"`
	CreatedAt   time.Time `json:"created_at"`
	Messages    []Message `json:"messages"`
}
