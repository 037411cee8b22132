package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatHandler "github.com/zhouzirui/recipe-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
	"github.com/zhouzirui/recipe-chat/backend/pkg/utils"
)

// Handler relays assistant replies to the browser as Server-Sent Events.
type Handler struct {
	replies *reply.Service
	chatSvc *chatService.Service
	logger  *slog.Logger
}

// New creates a stream handler. A nil reply service makes every stream
// endpoint answer 503.
func New(replies *reply.Service, chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		replies: replies,
		chatSvc: chatSvc,
		logger:  logger.With("component", "stream"),
	}
}

// RegisterRoutes registers streaming routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/stream/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleSend)
		r.Post("/retry/{messageID}", h.handleRetry)
	})
}

// pathEvent carries the active path after a reply finished.
type pathEvent struct {
	Event          string           `json:"event"`
	SessionID      string           `json:"sessionId"`
	ActiveBranchID string           `json:"activeBranchId"`
	Messages       []chat.PathEntry `json:"messages"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	h.serve(w, r, sessionID, func(ctx context.Context, emit reply.Emitter) error {
		return h.replies.Send(ctx, sessionID, message, emit)
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messageID := chi.URLParam(r, "messageID")
	h.serve(w, r, sessionID, func(ctx context.Context, emit reply.Emitter) error {
		return h.replies.Retry(ctx, sessionID, messageID, emit)
	})
}

// serve runs one reply. Headers are committed on the first event, so
// errors raised before the model starts still get a JSON status code.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, sessionID string, run func(context.Context, reply.Emitter) error) {
	if h.replies == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	emit := func(e reply.Event) {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		utils.SendSSEChunk(w, flusher, e)
	}

	err := run(r.Context(), emit)
	if err != nil {
		h.logger.Error("reply failed", "session", sessionID, "error", err)
		if !started {
			utils.RespondError(w, StatusFor(err), err.Error())
			return
		}
		emit(reply.Event{Event: "error", SessionID: sessionID, Error: err.Error()})
		return
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		return
	}
	view, err := h.chatSvc.ActivePath(r.Context(), sessionID)
	if err != nil {
		return
	}
	utils.SendSSEEvent(w, flusher, "path", pathEvent{
		Event:          "path",
		SessionID:      sessionID,
		ActiveBranchID: session.ActiveBranchID,
		Messages:       view,
	})
}

// StatusFor maps reply errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, reply.ErrNothingToAnswer):
		return http.StatusBadRequest
	case errors.Is(err, reply.ErrChefNotFound):
		return http.StatusNotFound
	case errors.Is(err, reply.ErrEmptyReply):
		return http.StatusBadGateway
	default:
		return chatHandler.StatusFor(err)
	}
}
