package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	"github.com/piyushsharma8821/scribbly-ai/internal/cache"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/repository"
)

const (
	journalingPrompt = "You are a reflective journaling assistant."
	emptyReply       = "The model returned an empty response."
)

var (
	ErrSessionNotFound = repository.ErrSessionNotFound
	ErrQuestionEmpty   = fmt.Errorf("%w: question is empty", ErrInvalidInput)
	ErrSessionBusy     = errors.New("session is busy with another request")

	ErrCompletionUnavailable = ai.ErrCompletionUnavailable
)

// SessionStore is the durable home of chat sessions. Each mutating call is atomic.
type SessionStore interface {
	Create(ctx context.Context, session *model.Session, messages []model.Message) error
	GetByID(ctx context.Context, sessionID string) (*model.Session, error)
	Load(ctx context.Context, sessionID string) (*model.Session, []model.Message, error)
	ListByOwnerID(ctx context.Context, ownerID uint) ([]model.Session, error)
	// ReplaceSummary and AppendMessages fail with ErrSessionNotFound once the session is gone.
	ReplaceSummary(ctx context.Context, sessionID, summary string, keep []model.Message) error
	AppendMessages(ctx context.Context, sessionID string, messages []model.Message) error
	Delete(ctx context.Context, sessionID string) error
}

// DocumentStore resolves anchored notes. Missing ids are omitted, not errors.
type DocumentStore interface {
	FetchContents(ctx context.Context, ownerID uint, ids []uint) ([]string, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) (*model.SessionHistory, bool, error)
	SetHistory(ctx context.Context, history *model.SessionHistory) error
	Invalidate(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type SessionLocker interface {
	Lock(ctx context.Context, sessionID string) (func(), error)
}

// ConversationConfig is built once from the process configuration.
type ConversationConfig struct {
	LLM            ai.ChatConfig
	MaxMessages    int
	KeepLast       int
	Reply          ai.Sampling
	RequestTimeout time.Duration
}

type ConversationManager struct {
	sessions     SessionStore
	documents    DocumentStore
	compactor    *Compactor
	completer    Completer
	guard        *AccessGuard
	historyCache HistoryCache
	locker       SessionLocker
	cfg          ConversationConfig
	now          func() time.Time
}

type ConversationOption func(*ConversationManager)

func WithHistoryCache(c HistoryCache) ConversationOption {
	return func(m *ConversationManager) { m.historyCache = c }
}

func WithSessionLocker(l SessionLocker) ConversationOption {
	return func(m *ConversationManager) { m.locker = l }
}

func WithClock(now func() time.Time) ConversationOption {
	return func(m *ConversationManager) { m.now = now }
}

func NewConversationManager(
	sessions SessionStore,
	documents DocumentStore,
	compactor *Compactor,
	completer Completer,
	guard *AccessGuard,
	cfg ConversationConfig,
	opts ...ConversationOption,
) *ConversationManager {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.KeepLast <= 0 || cfg.KeepLast >= cfg.MaxMessages {
		cfg.KeepLast = cfg.MaxMessages / 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	m := &ConversationManager{
		sessions:  sessions,
		documents: documents,
		compactor: compactor,
		completer: completer,
		guard:     guard,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type StartSessionInput struct {
	Owner       Identity
	DocumentIDs []string
	Question    string
}

type StartSessionResult struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type ContinueInput struct {
	SessionID string
	Requester Identity
	Question  string
}

func (m *ConversationManager) StartSession(ctx context.Context, input StartSessionInput) (*StartSessionResult, error) {
	if input.Owner.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrQuestionEmpty
	}
	noteIDs, normalized, err := parseNoteIDs(input.DocumentIDs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := m.detach(ctx)
	defer cancel()

	var contents []string
	if len(noteIDs) > 0 {
		contents, err = m.documents.FetchContents(ctx, input.Owner.UserID, noteIDs)
		if err != nil {
			return nil, err
		}
		if len(contents) < len(noteIDs) {
			log.Printf("chat: %d of %d anchored notes resolved for user %d", len(contents), len(noteIDs), input.Owner.UserID)
		}
	}

	reply, err := m.reply(ctx, buildOpeningPrompt(contents, question))
	if err != nil {
		return nil, err
	}

	now := m.now()
	session := &model.Session{
		ID:          uuid.Must(uuid.NewV7()).String(),
		OwnerID:     input.Owner.UserID,
		DocumentIDs: normalized,
		CreatedAt:   now,
	}
	if err := m.sessions.Create(ctx, session, newTurn(question, reply, now)); err != nil {
		return nil, err
	}
	return &StartSessionResult{SessionID: session.ID, Reply: reply}, nil
}

// Continue answers a follow-up. When the stored log has grown past MaxMessages
// the older part is compacted and persisted before the question is answered,
// so a failure afterwards never loses the compaction.
func (m *ConversationManager) Continue(ctx context.Context, input ContinueInput) (string, error) {
	if input.Requester.UserID == 0 {
		return "", ErrUnauthenticated
	}
	if strings.TrimSpace(input.SessionID) == "" {
		return "", ErrInvalidInput
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return "", ErrQuestionEmpty
	}

	ctx, cancel := m.detach(ctx)
	defer cancel()

	// Ownership is checked before the lease so other users cannot hold it.
	if err := m.authorizeSession(ctx, input.SessionID, input.Requester); err != nil {
		return "", err
	}
	release, err := m.lock(ctx, input.SessionID)
	if err != nil {
		return "", err
	}
	defer release()

	session, messages, err := m.sessions.Load(ctx, input.SessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrSessionNotFound
	}

	if len(messages) > m.cfg.MaxMessages {
		split := len(messages) - m.cfg.KeepLast
		old, keep := messages[:split], messages[split:]

		summary, err := m.summarize(ctx, session.Summary, old)
		if err != nil {
			return "", err
		}
		m.invalidate(ctx, session.ID)
		if err := m.sessions.ReplaceSummary(ctx, session.ID, summary, keep); err != nil {
			return "", err
		}
		session.Summary = summary
		messages = keep
	}

	reply, err := m.reply(ctx, buildFollowUpPrompt(session.Summary, messages, question))
	if err != nil {
		return "", err
	}

	m.invalidate(ctx, session.ID)
	if err := m.sessions.AppendMessages(ctx, session.ID, newTurn(question, reply, m.now())); err != nil {
		return "", err
	}
	return reply, nil
}

func (m *ConversationManager) GetHistory(ctx context.Context, sessionID string, requester Identity) (*model.SessionHistory, error) {
	if requester.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if err := m.guard.Authorize(session, requester); err != nil {
		return nil, err
	}

	if m.historyCache != nil {
		dirty, err := m.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := m.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	session, messages, err := m.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if messages == nil {
		messages = []model.Message{}
	}
	history := &model.SessionHistory{
		SessionID:   session.ID,
		DocumentIDs: session.DocumentIDs,
		CreatedAt:   session.CreatedAt,
		Messages:    messages,
	}

	if m.historyCache != nil {
		if dirty, dirtyErr := m.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = m.historyCache.SetHistory(ctx, history)
		}
	}
	return history, nil
}

func (m *ConversationManager) ListSessions(ctx context.Context, requester Identity) ([]model.Session, error) {
	if requester.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	return m.sessions.ListByOwnerID(ctx, requester.UserID)
}

// DeleteSession is an owner-initiated administrative removal.
func (m *ConversationManager) DeleteSession(ctx context.Context, sessionID string, requester Identity) error {
	if requester.UserID == 0 {
		return ErrUnauthenticated
	}
	if err := m.authorizeSession(ctx, sessionID, requester); err != nil {
		return err
	}
	// Waits for an in-flight Continue so its turn is not appended after the delete.
	release, err := m.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	m.invalidate(ctx, sessionID)
	return m.sessions.Delete(ctx, sessionID)
}

func (m *ConversationManager) authorizeSession(ctx context.Context, sessionID string, requester Identity) error {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	return m.guard.Authorize(session, requester)
}

// lock takes the per-session lease. Without a locker it is a no-op.
func (m *ConversationManager) lock(ctx context.Context, sessionID string) (func(), error) {
	if m.locker == nil {
		return func() {}, nil
	}
	release, err := m.locker.Lock(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotAcquired) {
			return nil, ErrSessionBusy
		}
		return nil, fmt.Errorf("acquire session lock failed: %w", err)
	}
	return release, nil
}

// detach keeps in-flight gateway calls and store writes running when the
// caller goes away; the request timeout still bounds them.
func (m *ConversationManager) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RequestTimeout)
}

func (m *ConversationManager) summarize(ctx context.Context, prior string, old []model.Message) (string, error) {
	fresh, err := m.compactor.Compact(ctx, old)
	if err != nil {
		return "", err
	}
	if prior == "" {
		return fresh, nil
	}
	return m.compactor.Merge(ctx, prior, fresh)
}

func (m *ConversationManager) reply(ctx context.Context, prompt []ai.ChatMessage) (string, error) {
	reply, err := m.completer.Complete(ctx, m.cfg.LLM, prompt, m.cfg.Reply)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = emptyReply
	}
	return reply, nil
}

func (m *ConversationManager) invalidate(ctx context.Context, sessionID string) {
	if m.historyCache == nil {
		return
	}
	if err := m.historyCache.Invalidate(ctx, sessionID); err != nil {
		log.Printf("chat: invalidate history cache for %s failed: %v", sessionID, err)
	}
}

func buildOpeningPrompt(notes []string, question string) []ai.ChatMessage {
	prompt := []ai.ChatMessage{{Role: string(model.RoleSystem), Content: journalingPrompt}}
	if len(notes) == 0 {
		return append(prompt, ai.ChatMessage{
			Role:    string(model.RoleUser),
			Content: "I don't have any notes, but here's my question:\n" + question,
		})
	}
	lines := make([]string, len(notes))
	for i, n := range notes {
		lines[i] = "- " + n
	}
	return append(prompt,
		ai.ChatMessage{Role: string(model.RoleUser), Content: "Here are my notes: \n" + strings.Join(lines, "\n")},
		ai.ChatMessage{Role: string(model.RoleUser), Content: question},
	)
}

func buildFollowUpPrompt(summary string, history []model.Message, question string) []ai.ChatMessage {
	prompt := make([]ai.ChatMessage, 0, len(history)+2)
	if summary != "" {
		prompt = append(prompt, ai.ChatMessage{
			Role:    string(model.RoleUser),
			Content: "Here's a summary of our earlier conversation:\n" + summary,
		})
	}
	for _, m := range history {
		prompt = append(prompt, toChatMessage(m))
	}
	return append(prompt, ai.ChatMessage{Role: string(model.RoleUser), Content: question})
}

func toChatMessage(m model.Message) ai.ChatMessage {
	switch m.Role {
	case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		return ai.ChatMessage{Role: string(m.Role), Content: m.Content}
	default:
		return ai.ChatMessage{Role: string(model.RoleUser), Content: m.Content}
	}
}

func newTurn(question, reply string, at time.Time) []model.Message {
	return []model.Message{
		{Role: model.RoleUser, Content: question, CreatedAt: at},
		{Role: model.RoleAssistant, Content: reply, CreatedAt: at},
	}
}

// parseNoteIDs validates decimal note ids and drops duplicates, keeping order.
func parseNoteIDs(raw []string) ([]uint, []string, error) {
	ids := make([]uint, 0, len(raw))
	normalized := make([]string, 0, len(raw))
	seen := make(map[uint64]struct{}, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseUint(strings.TrimSpace(r), 10, 64)
		if err != nil || id == 0 {
			return nil, nil, fmt.Errorf("%w: malformed note id %q", ErrInvalidInput, r)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, uint(id))
		normalized = append(normalized, strconv.FormatUint(id, 10))
	}
	return ids, normalized, nil
}
