package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piyushsharma8821/scribbly-ai/internal/ai"
	"github.com/piyushsharma8821/scribbly-ai/internal/app"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/pkg/jwtutil"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/middleware"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/response"
)

const testSecret = "handler-test-secret"

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	messages map[string][]model.Message
	nextID   uint
}

func (s *sessionStore) Create(_ context.Context, session *model.Session, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	s.messages[session.ID] = s.number(messages)
	return nil
}

func (s *sessionStore) GetByID(_ context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *sessionStore) Load(ctx context.Context, id string) (*model.Session, []model.Message, error) {
	session, _ := s.GetByID(ctx, id)
	if session == nil {
		return nil, nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return session, append([]model.Message(nil), s.messages[id]...), nil
}

func (s *sessionStore) ListByOwnerID(_ context.Context, ownerID uint) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Session{}
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *sessionStore) ReplaceSummary(_ context.Context, id, summary string, keep []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[id]
	session.Summary = summary
	s.sessions[id] = session
	s.messages[id] = append([]model.Message(nil), keep...)
	return nil
}

func (s *sessionStore) AppendMessages(_ context.Context, id string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[id] = append(s.messages[id], s.number(messages)...)
	return nil
}

func (s *sessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *sessionStore) number(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		s.nextID++
		m.ID = s.nextID
		out[i] = m
	}
	return out
}

type noteStore struct {
	mu         sync.Mutex
	notes      map[uint]model.Note
	nextID     uint
	lastFilter model.NoteFilter
}

func (s *noteStore) Create(_ context.Context, note *model.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	note.ID = s.nextID
	s.notes[note.ID] = *note
	return nil
}

func (s *noteStore) GetByIDAndOwnerID(_ context.Context, id, ownerID uint) (*model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || n.OwnerID != ownerID {
		return nil, nil
	}
	return &n, nil
}

func (s *noteStore) ListByOwnerID(_ context.Context, ownerID uint, filter model.NoteFilter) ([]model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	out := []model.Note{}
	for _, n := range s.notes {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *noteStore) ListTags(_ context.Context, ownerID uint) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := [][]string{}
	for _, n := range s.notes {
		if n.OwnerID == ownerID {
			out = append(out, n.Tags)
		}
	}
	return out, nil
}

func (s *noteStore) UpdateContent(_ context.Context, id, ownerID uint, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[id]; ok && n.OwnerID == ownerID {
		n.Title, n.Content = title, content
		s.notes[id] = n
	}
	return nil
}

func (s *noteStore) DeleteByIDAndOwnerID(_ context.Context, id, ownerID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[id]; ok && n.OwnerID == ownerID {
		delete(s.notes, id)
		return true, nil
	}
	return false, nil
}

func (s *noteStore) FetchContents(_ context.Context, ownerID uint, ids []uint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, id := range ids {
		if n, ok := s.notes[id]; ok && n.OwnerID == ownerID {
			out = append(out, n.Content)
		}
	}
	return out, nil
}

type echoCompleter struct {
	fail bool
}

func (c *echoCompleter) Complete(_ context.Context, _ ai.ChatConfig, messages []ai.ChatMessage, _ ai.Sampling) (string, error) {
	if c.fail {
		return "", fmt.Errorf("%w: boom", ai.ErrCompletionUnavailable)
	}
	return "echo: " + messages[len(messages)-1].Content, nil
}

type userStore struct {
	mu    sync.Mutex
	users map[uint]model.User
}

func (s *userStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = uint(len(s.users) + 1)
	user.CreatedAt = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.users[user.ID] = *user
	return nil
}

func (s *userStore) FindByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *userStore) FindByID(_ context.Context, id uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *userStore) TouchLastLogin(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.LastLoginAt = &at
	s.users[id] = u
	return nil
}

type testServer struct {
	router    *gin.Engine
	notes     *noteStore
	users     *userStore
	completer *echoCompleter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	notes := &noteStore{notes: make(map[uint]model.Note)}
	sessions := &sessionStore{sessions: make(map[string]model.Session), messages: make(map[string][]model.Message)}
	completer := &echoCompleter{}
	guard := app.NewAccessGuard(testSecret)
	conversations := app.NewConversationManager(
		sessions,
		notes,
		app.NewCompactor(completer, ai.ChatConfig{}, ai.Sampling{MaxTokens: 300}),
		completer,
		guard,
		app.ConversationConfig{MaxMessages: 4, KeepLast: 2, Reply: ai.Sampling{MaxTokens: 800}},
	)

	chat := NewChatHandler(conversations)
	noteHandler := NewNoteHandler(app.NewNoteService(notes, nil))
	users := &userStore{users: make(map[uint]model.User)}
	auth := NewAuthHandler(app.NewAuthService(users, testSecret, time.Hour))

	router := gin.New()
	router.POST("/api/v1/auth/register", auth.Register)
	router.POST("/api/v1/auth/login", auth.Login)
	router.GET("/api/v1/auth/me", middleware.AuthJWT(guard), auth.Me)
	api := router.Group("/api/v1", middleware.AuthJWT(guard))
	api.POST("/chat/sessions", chat.StartSession)
	api.GET("/chat/sessions", chat.ListSessions)
	api.GET("/chat/sessions/:id", chat.GetHistory)
	api.POST("/chat/sessions/:id/messages", chat.Continue)
	api.DELETE("/chat/sessions/:id", chat.DeleteSession)
	api.POST("/notes", noteHandler.Create)
	api.GET("/notes", noteHandler.List)
	api.GET("/tags/top", noteHandler.TopTags)
	api.GET("/notes/:id", noteHandler.Get)
	api.POST("/notes/import", noteHandler.Import)

	return &testServer{router: router, notes: notes, users: users, completer: completer}
}

func bearer(t *testing.T, userID uint, username string) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, username)
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(t *testing.T, method, path, auth string, body any) (int, response.APIResponse, json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var envelope struct {
		response.APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec.Code, envelope.APIResponse, envelope.Data
}

func TestAuthMiddleware_RejectsMissingOrBadToken(t *testing.T) {
	s := newTestServer(t)

	code, resp, _ := s.do(t, http.MethodGet, "/api/v1/chat/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodeUnauthorized, resp.Code)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/chat/sessions", "Token abc", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/chat/sessions", "Bearer not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestChatHandler_ConversationFlow(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")

	code, _, data := s.do(t, http.MethodPost, "/api/v1/notes", alice, NoteRequest{Title: "Mon", Content: "Felt tired."})
	require.Equal(t, http.StatusOK, code)
	var note model.Note
	require.NoError(t, json.Unmarshal(data, &note))

	code, _, data = s.do(t, http.MethodPost, "/api/v1/chat/sessions", alice, StartSessionRequest{
		NoteIDs:  []string{fmt.Sprint(note.ID)},
		Question: "Why am I tired?",
	})
	require.Equal(t, http.StatusOK, code)
	var started ReplyResponse
	require.NoError(t, json.Unmarshal(data, &started))
	assert.NotEmpty(t, started.SessionID)
	assert.Contains(t, started.Reply, "Why am I tired?")

	code, _, data = s.do(t, http.MethodPost, "/api/v1/chat/sessions/"+started.SessionID+"/messages", alice, ContinueRequest{Question: "And now?"})
	require.Equal(t, http.StatusOK, code)
	var continued ReplyResponse
	require.NoError(t, json.Unmarshal(data, &continued))
	assert.Equal(t, started.SessionID, continued.SessionID)
	assert.Equal(t, "echo: And now?", continued.Reply)

	code, _, data = s.do(t, http.MethodGet, "/api/v1/chat/sessions/"+started.SessionID, alice, nil)
	require.Equal(t, http.StatusOK, code)
	var history model.SessionHistory
	require.NoError(t, json.Unmarshal(data, &history))
	assert.Len(t, history.Messages, 4)
	assert.Equal(t, []string{fmt.Sprint(note.ID)}, history.DocumentIDs)

	code, _, _ = s.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+started.SessionID, alice, nil)
	assert.Equal(t, http.StatusOK, code)
	code, resp, _ := s.do(t, http.MethodGet, "/api/v1/chat/sessions/"+started.SessionID, alice, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeSessionNotFound, resp.Code)
}

func TestChatHandler_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")
	bob := bearer(t, 2, "bob")

	code, _, data := s.do(t, http.MethodPost, "/api/v1/chat/sessions", alice, StartSessionRequest{Question: "hi"})
	require.Equal(t, http.StatusOK, code)
	var started ReplyResponse
	require.NoError(t, json.Unmarshal(data, &started))

	code, resp, _ := s.do(t, http.MethodPost, "/api/v1/chat/sessions/"+started.SessionID+"/messages", bob, ContinueRequest{Question: "peek"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.CodeForbidden, resp.Code)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/chat/sessions/"+started.SessionID, bob, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _, _ = s.do(t, http.MethodPost, "/api/v1/chat/sessions/missing/messages", alice, ContinueRequest{Question: "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _, _ = s.do(t, http.MethodPost, "/api/v1/chat/sessions/"+started.SessionID+"/messages", alice, ContinueRequest{Question: "   "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = s.do(t, http.MethodPost, "/api/v1/chat/sessions", alice, StartSessionRequest{NoteIDs: []string{"abc"}, Question: "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	s.completer.fail = true
	code, resp, _ = s.do(t, http.MethodPost, "/api/v1/chat/sessions/"+started.SessionID+"/messages", alice, ContinueRequest{Question: "again"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, response.CodeUpstreamFailure, resp.Code)
}

func TestChatHandler_ListSessionsIsOwnerScoped(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")
	bob := bearer(t, 2, "bob")

	for i := 0; i < 2; i++ {
		code, _, _ := s.do(t, http.MethodPost, "/api/v1/chat/sessions", alice, StartSessionRequest{Question: "q"})
		require.Equal(t, http.StatusOK, code)
	}

	_, _, data := s.do(t, http.MethodGet, "/api/v1/chat/sessions", alice, nil)
	var sessions []model.Session
	require.NoError(t, json.Unmarshal(data, &sessions))
	assert.Len(t, sessions, 2)

	_, _, data = s.do(t, http.MethodGet, "/api/v1/chat/sessions", bob, nil)
	sessions = nil
	require.NoError(t, json.Unmarshal(data, &sessions))
	assert.Empty(t, sessions)
}

func TestNoteHandler_ForeignNoteIsNotFound(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")

	code, _, data := s.do(t, http.MethodPost, "/api/v1/notes", alice, NoteRequest{Title: "t", Content: "c"})
	require.Equal(t, http.StatusOK, code)
	var note model.Note
	require.NoError(t, json.Unmarshal(data, &note))

	code, resp, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/notes/%d", note.ID), bearer(t, 2, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.CodeNoteNotFound, resp.Code)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/notes/zero", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNoteHandler_ImportRejectsNonPDF(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "diary.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notes/import", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, 1, "alice"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.notes.notes)
}

func TestNoteHandler_ListQuery(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")

	code, _, _ := s.do(t, http.MethodGet, "/api/v1/notes?tag=work&from=2024-01-01T00:00:00Z&to=2024-02-01T00:00:00Z&limit=5&offset=10", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.NoteFilter{
		Tag:    "work",
		From:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Limit:  5,
		Offset: 10,
	}, s.notes.lastFilter)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/notes?from=yesterday", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/notes?limit=1000", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestNoteHandler_TopTags(t *testing.T) {
	s := newTestServer(t)
	alice := bearer(t, 1, "alice")
	s.notes.notes[1] = model.Note{ID: 1, OwnerID: 1, Tags: []string{"sleep", "work"}}
	s.notes.notes[2] = model.Note{ID: 2, OwnerID: 1, Tags: []string{"work"}}

	code, _, data := s.do(t, http.MethodGet, "/api/v1/tags/top?limit=1", alice, nil)
	require.Equal(t, http.StatusOK, code)
	var top []model.TagCount
	require.NoError(t, json.Unmarshal(data, &top))
	assert.Equal(t, []model.TagCount{{Tag: "work", Count: 2}}, top)

	code, _, _ = s.do(t, http.MethodGet, "/api/v1/tags/top?limit=x", alice, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuthHandler_RegisterLoginMe(t *testing.T) {
	s := newTestServer(t)
	creds := map[string]string{"username": "Alice", "password": "correct horse"}

	code, _, data := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	require.Equal(t, http.StatusOK, code)
	var registered TokenResponse
	require.NoError(t, json.Unmarshal(data, &registered))
	assert.Equal(t, "alice", registered.User.Username)

	code, resp, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", creds)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.CodeUsernameExists, resp.Code)

	code, resp, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong horse"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodeInvalidCredentials, resp.Code)

	code, _, data = s.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, code)
	var loggedIn TokenResponse
	require.NoError(t, json.Unmarshal(data, &loggedIn))
	require.NotNil(t, loggedIn.User.LastLoginAt)

	code, _, data = s.do(t, http.MethodGet, "/api/v1/auth/me", "Bearer "+loggedIn.Token, nil)
	require.Equal(t, http.StatusOK, code)
	var me AccountResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, registered.User.ID, me.ID)
	assert.Equal(t, "alice", me.Username)
	assert.NotNil(t, me.LastLoginAt)
}

func TestAuthHandler_MeForDeletedAccount(t *testing.T) {
	s := newTestServer(t)

	code, resp, _ := s.do(t, http.MethodGet, "/api/v1/auth/me", bearer(t, 9, "ghost"), nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, response.CodeUnauthorized, resp.Code)
}

func TestNoteHandler_ImportRejectsPDFWithoutText(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_, err := w.CreateFormFile("file", "blank.pdf")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notes/import", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, 1, "alice"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PDF contains no extractable text", resp.Message)
	assert.Empty(t, s.notes.notes)
}
