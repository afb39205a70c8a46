package model

import "time"

type Note struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OwnerID   uint      `gorm:"not null;index" json:"-"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Tags      []string  `gorm:"type:json;serializer:json" json:"tags"`
	CreatedAt time.Time `gorm:"index" json:"time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteFilter narrows a note listing. Zero values mean "no constraint".
type NoteFilter struct {
	Tag    string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
