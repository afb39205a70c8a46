package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/piyushsharma8821/scribbly-ai/internal/model"
)

var ErrNoteNotFound = errors.New("note not found")

const (
	maxNoteTitle  = 256
	maxPageSize   = 100
	defaultTopTag = 10
)

type NoteStore interface {
	Create(ctx context.Context, note *model.Note) error
	GetByIDAndOwnerID(ctx context.Context, id, ownerID uint) (*model.Note, error)
	ListByOwnerID(ctx context.Context, ownerID uint, filter model.NoteFilter) ([]model.Note, error)
	ListTags(ctx context.Context, ownerID uint) ([][]string, error)
	UpdateContent(ctx context.Context, id, ownerID uint, title, content string) error
	DeleteByIDAndOwnerID(ctx context.Context, id, ownerID uint) (bool, error)
}

// TagJobPublisher queues a note for asynchronous key-phrase tagging.
type TagJobPublisher interface {
	PublishTagJob(ctx context.Context, noteID uint) error
}

type NoteService struct {
	notes     NoteStore
	publisher TagJobPublisher
}

type NoteInput struct {
	Owner   Identity
	Title   string
	Content string
}

func NewNoteService(notes NoteStore, publisher TagJobPublisher) *NoteService {
	return &NoteService{notes: notes, publisher: publisher}
}

func (s *NoteService) Create(ctx context.Context, input NoteInput) (*model.Note, error) {
	title, content, err := validateNote(input)
	if err != nil {
		return nil, err
	}
	note := &model.Note{
		OwnerID: input.Owner.UserID,
		Title:   title,
		Content: content,
		Tags:    []string{},
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, err
	}
	s.requestTags(ctx, note.ID)
	return note, nil
}

// List returns the owner's notes newest first.
func (s *NoteService) List(ctx context.Context, owner Identity, filter model.NoteFilter) ([]model.Note, error) {
	if owner.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if filter.Limit < 0 || filter.Offset < 0 || filter.Limit > maxPageSize {
		return nil, fmt.Errorf("%w: limit must be in [0, %d] and offset >= 0", ErrInvalidInput, maxPageSize)
	}
	if filter.Offset > 0 && filter.Limit == 0 {
		filter.Limit = maxPageSize
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}
	filter.Tag = strings.TrimSpace(filter.Tag)
	return s.notes.ListByOwnerID(ctx, owner.UserID, filter)
}

// TopTags counts tags across the owner's notes, most used first and ties by name.
func (s *NoteService) TopTags(ctx context.Context, owner Identity, limit int) ([]model.TagCount, error) {
	if owner.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultTopTag
	}
	perNote, err := s.notes.ListTags(ctx, owner.UserID)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, tags := range perNote {
		for _, tag := range tags {
			counts[tag]++
		}
	}
	out := make([]model.TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, model.TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get hides notes of other owners behind ErrNoteNotFound.
func (s *NoteService) Get(ctx context.Context, owner Identity, noteID uint) (*model.Note, error) {
	if owner.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if noteID == 0 {
		return nil, ErrInvalidInput
	}
	note, err := s.notes.GetByIDAndOwnerID(ctx, noteID, owner.UserID)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, ErrNoteNotFound
	}
	return note, nil
}

func (s *NoteService) Update(ctx context.Context, noteID uint, input NoteInput) (*model.Note, error) {
	title, content, err := validateNote(input)
	if err != nil {
		return nil, err
	}
	note, err := s.Get(ctx, input.Owner, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.notes.UpdateContent(ctx, noteID, input.Owner.UserID, title, content); err != nil {
		return nil, err
	}
	note.Title = title
	note.Content = content
	s.requestTags(ctx, noteID)
	return note, nil
}

func (s *NoteService) Delete(ctx context.Context, owner Identity, noteID uint) error {
	if owner.UserID == 0 {
		return ErrUnauthenticated
	}
	if noteID == 0 {
		return ErrInvalidInput
	}
	deleted, err := s.notes.DeleteByIDAndOwnerID(ctx, noteID, owner.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNoteNotFound
	}
	return nil
}

// requestTags is best effort: a note without tags is still a valid note.
func (s *NoteService) requestTags(ctx context.Context, noteID uint) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTagJob(ctx, noteID); err != nil {
		log.Printf("notes: enqueue tag job for note %d failed: %v", noteID, err)
	}
}

func validateNote(input NoteInput) (string, string, error) {
	if input.Owner.UserID == 0 {
		return "", "", ErrUnauthenticated
	}
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" || len(title) > maxNoteTitle {
		return "", "", ErrInvalidInput
	}
	return title, content, nil
}
