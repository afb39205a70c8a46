package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
)

type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

func (r *NoteRepository) Create(ctx context.Context, note *model.Note) error {
	if note.Tags == nil {
		note.Tags = []string{}
	}
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return fmt.Errorf("create note failed: %w", err)
	}
	return nil
}

func (r *NoteRepository) GetByID(ctx context.Context, id uint) (*model.Note, error) {
	var note model.Note
	if err := r.db.WithContext(ctx).First(&note, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get note failed: %w", err)
	}
	return &note, nil
}

func (r *NoteRepository) GetByIDAndOwnerID(ctx context.Context, id, ownerID uint) (*model.Note, error) {
	var note model.Note
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get note failed: %w", err)
	}
	return &note, nil
}

func (r *NoteRepository) ListByOwnerID(ctx context.Context, ownerID uint, filter model.NoteFilter) ([]model.Note, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if filter.Tag != "" {
		query = query.Where("JSON_CONTAINS(tags, JSON_QUOTE(?))", filter.Tag)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	notes := []model.Note{}
	if err := query.Order("created_at DESC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("list notes failed: %w", err)
	}
	return notes, nil
}

// ListTags returns the tag list of every note the owner has.
func (r *NoteRepository) ListTags(ctx context.Context, ownerID uint) ([][]string, error) {
	var notes []model.Note
	if err := r.db.WithContext(ctx).Select("id", "tags").Where("owner_id = ?", ownerID).Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("list note tags failed: %w", err)
	}
	tags := make([][]string, 0, len(notes))
	for _, n := range notes {
		tags = append(tags, n.Tags)
	}
	return tags, nil
}

func (r *NoteRepository) UpdateContent(ctx context.Context, id, ownerID uint, title, content string) error {
	res := r.db.WithContext(ctx).Model(&model.Note{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]interface{}{"title": title, "content": content})
	if res.Error != nil {
		return fmt.Errorf("update note failed: %w", res.Error)
	}
	return nil
}

func (r *NoteRepository) UpdateTags(ctx context.Context, id uint, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	note := model.Note{ID: id}
	if err := r.db.WithContext(ctx).Model(&note).Select("tags").Updates(model.Note{Tags: tags}).Error; err != nil {
		return fmt.Errorf("update note tags failed: %w", err)
	}
	return nil
}

func (r *NoteRepository) DeleteByIDAndOwnerID(ctx context.Context, id, ownerID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Note{})
	if res.Error != nil {
		return false, fmt.Errorf("delete note failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FetchContents returns the bodies of the owner's notes in the order of ids.
// Ids that do not exist or belong to someone else are skipped.
func (r *NoteRepository) FetchContents(ctx context.Context, ownerID uint, ids []uint) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	var notes []model.Note
	if err := r.db.WithContext(ctx).Select("id", "content").
		Where("owner_id = ? AND id IN ?", ownerID, ids).Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("fetch note contents failed: %w", err)
	}
	byID := make(map[uint]string, len(notes))
	for _, n := range notes {
		byID[n.ID] = n.Content
	}
	contents := make([]string, 0, len(notes))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			contents = append(contents, c)
			delete(byID, id)
		}
	}
	return contents, nil
}
