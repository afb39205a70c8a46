package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piyushsharma8821/scribbly-ai/internal/app"
	"github.com/piyushsharma8821/scribbly-ai/internal/model"
	"github.com/piyushsharma8821/scribbly-ai/internal/pkg/pdfextract"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/middleware"
	"github.com/piyushsharma8821/scribbly-ai/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type NoteHandler struct {
	notes *app.NoteService
}

type NoteRequest struct {
	Title   string `json:"title" binding:"required,max=256"`
	Content string `json:"content" binding:"required"`
}

// ListNotesQuery times are RFC 3339; "to" is exclusive.
type ListNotesQuery struct {
	Tag    string `form:"tag"`
	From   string `form:"from"`
	To     string `form:"to"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func NewNoteHandler(notes *app.NoteService) *NoteHandler {
	return &NoteHandler{notes: notes}
}

func (h *NoteHandler) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	note, err := h.notes.Create(c.Request.Context(), app.NoteInput{
		Owner:   identity,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		writeNoteError(c, err, "create note failed")
		return
	}

	response.OK(c, note)
}

func (h *NoteHandler) List(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var query ListNotesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid query parameters")
		return
	}
	filter := model.NoteFilter{Tag: query.Tag, Limit: query.Limit, Offset: query.Offset}
	var err error
	if filter.From, err = parseTime(query.From); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid from time")
		return
	}
	if filter.To, err = parseTime(query.To); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid to time")
		return
	}

	notes, err := h.notes.List(c.Request.Context(), identity, filter)
	if err != nil {
		writeNoteError(c, err, "list notes failed")
		return
	}

	response.OK(c, notes)
}

func (h *NoteHandler) TopTags(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	tags, err := h.notes.TopTags(c.Request.Context(), identity, limit)
	if err != nil {
		writeNoteError(c, err, "top tags failed")
		return
	}

	response.OK(c, tags)
}

func (h *NoteHandler) Get(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}

	note, err := h.notes.Get(c.Request.Context(), identity, noteID)
	if err != nil {
		writeNoteError(c, err, "get note failed")
		return
	}

	response.OK(c, note)
}

func (h *NoteHandler) Update(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}

	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	note, err := h.notes.Update(c.Request.Context(), noteID, app.NoteInput{
		Owner:   identity,
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		writeNoteError(c, err, "update note failed")
		return
	}

	response.OK(c, note)
}

func (h *NoteHandler) Delete(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	noteID, ok := parseNoteID(c)
	if !ok {
		return
	}

	if err := h.notes.Delete(c.Request.Context(), identity, noteID); err != nil {
		writeNoteError(c, err, "delete note failed")
		return
	}

	response.OK(c, gin.H{"deleted_note_id": noteID})
}

// Import turns an uploaded PDF into a note. The title defaults to the file name.
func (h *NoteHandler) Import(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10 MB)")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are supported")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f, maxPDFSize)
	switch {
	case errors.Is(err, pdfextract.ErrTooLarge):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10 MB)")
		return
	case errors.Is(err, pdfextract.ErrNoText):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "PDF contains no extractable text")
		return
	case err != nil:
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF")
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
		if title == "" {
			title = "Untitled"
		}
	}

	note, err := h.notes.Create(c.Request.Context(), app.NoteInput{
		Owner:   identity,
		Title:   title,
		Content: text,
	})
	if err != nil {
		writeNoteError(c, err, "import note failed")
		return
	}

	response.OK(c, note)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseNoteID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid note id")
		return 0, false
	}
	return uint(id), true
}

func writeNoteError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNoteNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNoteNotFound, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
