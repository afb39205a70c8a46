package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/piyushsharma8821/scribbly-ai/internal/app"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/middleware"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/response"
)

type ChatHandler struct {
	conversations *app.ConversationManager
}

type StartSessionRequest struct {
	NoteIDs  []string `json:"note_ids" binding:"max=50"`
	Question string   `json:"question" binding:"required,max=8000"`
}

type ContinueRequest struct {
	Question string `json:"question" binding:"required,max=8000"`
}

type ReplyResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func NewChatHandler(conversations *app.ConversationManager) *ChatHandler {
	return &ChatHandler{conversations: conversations}
}

func (h *ChatHandler) StartSession(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.conversations.StartSession(c.Request.Context(), app.StartSessionInput{
		Owner:       identity,
		DocumentIDs: req.NoteIDs,
		Question:    req.Question,
	})
	if err != nil {
		writeChatError(c, err, "start session failed")
		return
	}

	response.OK(c, ReplyResponse{SessionID: result.SessionID, Reply: result.Reply})
}

func (h *ChatHandler) Continue(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	sessionID := c.Param("id")
	reply, err := h.conversations.Continue(c.Request.Context(), app.ContinueInput{
		SessionID: sessionID,
		Requester: identity,
		Question:  req.Question,
	})
	if err != nil {
		writeChatError(c, err, "continue session failed")
		return
	}

	response.OK(c, ReplyResponse{SessionID: sessionID, Reply: reply})
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	history, err := h.conversations.GetHistory(c.Request.Context(), c.Param("id"), identity)
	if err != nil {
		writeChatError(c, err, "get history failed")
		return
	}

	response.OK(c, history)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.conversations.ListSessions(c.Request.Context(), identity)
	if err != nil {
		writeChatError(c, err, "list sessions failed")
		return
	}

	response.OK(c, sessions)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID := c.Param("id")
	if err := h.conversations.DeleteSession(c.Request.Context(), sessionID, identity); err != nil {
		writeChatError(c, err, "delete session failed")
		return
	}

	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func writeChatError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionBusy):
		response.Error(c, http.StatusConflict, response.CodeSessionBusy, err.Error())
	case errors.Is(err, app.ErrCompletionUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamFailure, "completion engine unavailable")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
