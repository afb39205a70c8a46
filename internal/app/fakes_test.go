package app_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/repository"
)

// memSessionStore is an in-memory SessionStore with the same atomicity as the gorm one.
type memSessionStore struct {
	mu        sync.Mutex
	sessions  map[string]model.Session
	messages  map[string][]model.Message
	nextID    uint
	appendErr error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]model.Session),
		messages: make(map[string][]model.Message),
	}
}

func (s *memSessionStore) Create(_ context.Context, session *model.Session, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("duplicate session %s", session.ID)
	}
	stored := *session
	stored.DocumentIDs = append([]string{}, session.DocumentIDs...)
	s.sessions[session.ID] = stored
	s.messages[session.ID] = s.assign(session.ID, messages)
	return nil
}

func (s *memSessionStore) GetByID(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *memSessionStore) Load(_ context.Context, sessionID string) (*model.Session, []model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return &session, append([]model.Message(nil), s.messages[sessionID]...), nil
}

func (s *memSessionStore) ListByOwnerID(_ context.Context, ownerID uint) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memSessionStore) ReplaceSummary(_ context.Context, sessionID, summary string, keep []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("replace session summary failed: %w", repository.ErrSessionNotFound)
	}
	session.Summary = summary
	s.sessions[sessionID] = session

	var kept []model.Message
	for _, m := range s.messages[sessionID] {
		if len(keep) > 0 && m.ID >= keep[0].ID {
			kept = append(kept, m)
		}
	}
	s.messages[sessionID] = kept
	return nil
}

func (s *memSessionStore) AppendMessages(_ context.Context, sessionID string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("append session messages failed: %w", repository.ErrSessionNotFound)
	}
	s.messages[sessionID] = append(s.messages[sessionID], s.assign(sessionID, messages)...)
	return nil
}

func (s *memSessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *memSessionStore) snapshot(sessionID string) (model.Session, []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID], append([]model.Message(nil), s.messages[sessionID]...)
}

func (s *memSessionStore) assign(sessionID string, messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		s.nextID++
		m.ID = s.nextID
		m.SessionID = sessionID
		out[i] = m
	}
	return out
}

type fakeNote struct {
	owner   uint
	content string
}

type fakeDocuments map[uint]fakeNote

func (d fakeDocuments) FetchContents(_ context.Context, ownerID uint, ids []uint) ([]string, error) {
	out := []string{}
	for _, id := range ids {
		if n, ok := d[id]; ok && n.owner == ownerID {
			out = append(out, n.content)
		}
	}
	return out, nil
}

const (
	replyTokens   = 800
	summaryTokens = 300
)

type completerCall struct {
	messages []ai.ChatMessage
	sampling ai.Sampling
	ctxErr   error
}

// scriptedCompleter answers summaries with "summary-N" and replies with "reply-N".
type scriptedCompleter struct {
	mu          sync.Mutex
	calls       []completerCall
	summaries   int
	replies     int
	failReply   bool
	failSummary bool
}

func (c *scriptedCompleter) Complete(ctx context.Context, _ ai.ChatConfig, messages []ai.ChatMessage, sampling ai.Sampling) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, completerCall{
		messages: append([]ai.ChatMessage(nil), messages...),
		sampling: sampling,
		ctxErr:   ctx.Err(),
	})
	if sampling.MaxTokens == summaryTokens {
		if c.failSummary {
			return "", fmt.Errorf("%w: engine down", ai.ErrCompletionUnavailable)
		}
		c.summaries++
		return fmt.Sprintf("summary-%d", c.summaries), nil
	}
	if c.failReply {
		return "", fmt.Errorf("%w: engine down", ai.ErrCompletionUnavailable)
	}
	c.replies++
	return fmt.Sprintf("  reply-%d  ", c.replies), nil
}

func (c *scriptedCompleter) lastCall() completerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func (c *scriptedCompleter) summaryCalls() []completerCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []completerCall
	for _, call := range c.calls {
		if call.sampling.MaxTokens == summaryTokens {
			out = append(out, call)
		}
	}
	return out
}

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	locked   []string
	released int
	onLock   func(sessionID string)
}

func (l *fakeLocker) Lock(_ context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, sessionID)
	if l.onLock != nil {
		l.onLock(sessionID)
	}
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}
