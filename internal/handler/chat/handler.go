package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	chatService "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/pkg/utils"
)

// Handler exposes conversations and their branch operations over HTTP.
type Handler struct {
	chatSvc *chatService.Service
	chefs   chef.Store
}

// New creates a chat handler.
func New(chatSvc *chatService.Service, chefs chef.Store) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		chefs:   chefs,
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleDeleteSession)
			r.Get("/messages", h.handleActivePath)
			r.Post("/messages", h.handleSendMessage)
			r.Get("/transcript", h.handleTranscript)
			r.Put("/branch", h.handleSelectBranch)
			r.Post("/messages/{messageID}/edit", h.handleEditMessage)
			r.Delete("/messages/{messageID}", h.handleDeleteMessage)
		})
	})
}

type pathResponse struct {
	SessionID      string           `json:"sessionId"`
	ActiveBranchID string           `json:"activeBranchId"`
	Messages       []chat.PathEntry `json:"messages"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ChefID string `json:"chefId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ChefID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chefId is required")
		return
	}

	c, ok := h.chefs.FindByID(payload.ChefID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "chef not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), c.ID, c.OpeningLine)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleActivePath(w http.ResponseWriter, r *http.Request) {
	h.respondPath(w, r, chi.URLParam(r, "sessionID"), http.StatusOK)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role    chat.Role   `json:"role"`
		Parts   []chat.Part `json:"parts"`
		Content string      `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Role == "" {
		payload.Role = chat.RoleUser
	}

	msg, err := h.chatSvc.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), payload.Role, partsOf(payload.Parts, payload.Content))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Parts   []chat.Part `json:"parts"`
		Content string      `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.EditMessage(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"), partsOf(payload.Parts, payload.Content))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.chatSvc.DeleteMessage(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "messageID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleSelectBranch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BranchID string `json:"branchId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.SelectBranch(r.Context(), sessionID, payload.BranchID); err != nil {
		respondServiceError(w, err)
		return
	}
	h.respondPath(w, r, sessionID, http.StatusOK)
}

func (h *Handler) respondPath(w http.ResponseWriter, r *http.Request, sessionID string, status int) {
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	view, err := h.chatSvc.ActivePath(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if view == nil {
		view = []chat.PathEntry{}
	}
	utils.RespondJSON(w, status, pathResponse{
		SessionID:      sessionID,
		ActiveBranchID: session.ActiveBranchID,
		Messages:       view,
	})
}

// partsOf accepts either explicit parts or a plain content string.
func partsOf(parts []chat.Part, content string) []chat.Part {
	if len(parts) > 0 {
		return parts
	}
	if content == "" {
		return nil
	}
	return []chat.Part{chat.TextPart(content)}
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound),
		errors.Is(err, chatService.ErrMessageNotFound),
		errors.Is(err, chatService.ErrBranchNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrChefRequired),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrInvalidRole),
		errors.Is(err, chatService.ErrNotEditable),
		errors.Is(err, chatService.ErrNotRetryable),
		errors.Is(err, chatService.ErrNotAnswerable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondError(w, StatusFor(err), err.Error())
}
