// Package live serves a conversation over a websocket. One reply runs at a
// time per connection, in the background, so branch commands and cancel
// keep working while it streams.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

var (
	// ErrRepliesUnavailable is reported when no model is configured.
	ErrRepliesUnavailable = errors.New("ai replies unavailable")
	ErrReplyInProgress    = errors.New("a reply is already in progress")
	ErrNoReplyInProgress  = errors.New("no reply in progress")
)

// Handler upgrades /ws/{sessionID} requests.
type Handler struct {
	chatSvc  *chatservice.Service
	replies  *reply.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a live handler. replies may be nil, in which case user
// messages are stored but never answered.
func New(chatSvc *chatservice.Service, replies *reply.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		replies: replies,
		logger:  logger.With("component", "live"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type commandData struct {
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
	BranchID  string `json:"branchId"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type pathData struct {
	ActiveBranchID string           `json:"activeBranchId"`
	Messages       []chat.PathEntry `json:"messages"`
}

// conn serializes writes; gorilla allows one concurrent writer. It also
// tracks the reply running in the background.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex

	replyMu     sync.Mutex
	cancelReply context.CancelFunc
	replies     sync.WaitGroup
}

// beginReply reserves the reply slot and returns a context cancelled by
// cancel or by the connection closing.
func (c *conn) beginReply(parent context.Context) (context.Context, bool) {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	if c.cancelReply != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancelReply = cancel
	c.replies.Add(1)
	return ctx, true
}

// endReply frees the reply slot. The goroutine still calls replies.Done.
func (c *conn) endReply() {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	if c.cancelReply != nil {
		c.cancelReply()
		c.cancelReply = nil
	}
}

// cancel stops the running reply, if any.
func (c *conn) cancel() bool {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	if c.cancelReply == nil {
		return false
	}
	c.cancelReply()
	return true
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session", sessionID, "error", err)
		return
	}
	c := &conn{ws: ws}

	h.logger.Info("connection opened", "session", sessionID)

	// The request context is not cancelled once the connection is hijacked,
	// so the read loop owns cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		c.replies.Wait()
		ws.Close()
		h.logger.Info("connection closed", "session", sessionID)
	}()

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	go h.pingLoop(ctx, c)

	h.send(c, sessionID, "connected", nil)
	h.sendPath(ctx, c, sessionID)

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", "session", sessionID, "error", err)
			}
			return
		}
		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(c, sessionID, "session mismatch")
			continue
		}

		if err := h.handleMessage(ctx, c, sessionID, &msg); err != nil {
			h.sendError(c, sessionID, err.Error())
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, sessionID string, msg *inboundMessage) error {
	var data commandData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return errors.New("invalid message data")
		}
	}

	switch msg.Type {
	case "send":
		if h.replies == nil {
			if _, err := h.chatSvc.SendMessage(ctx, sessionID, chat.RoleUser, []chat.Part{chat.TextPart(data.Text)}); err != nil {
				return err
			}
			h.sendPath(ctx, c, sessionID)
			return ErrRepliesUnavailable
		}
		return h.startReply(ctx, c, sessionID, func(ctx context.Context, emit reply.Emitter) error {
			return h.replies.Send(ctx, sessionID, data.Text, emit)
		})
	case "edit":
		if _, err := h.chatSvc.EditMessage(ctx, sessionID, data.MessageID, []chat.Part{chat.TextPart(data.Text)}); err != nil {
			return err
		}
		if h.replies == nil {
			break
		}
		return h.startReply(ctx, c, sessionID, func(ctx context.Context, emit reply.Emitter) error {
			return h.replies.Send(ctx, sessionID, "", emit)
		})
	case "retry":
		if h.replies == nil {
			return ErrRepliesUnavailable
		}
		return h.startReply(ctx, c, sessionID, func(ctx context.Context, emit reply.Emitter) error {
			return h.replies.Retry(ctx, sessionID, data.MessageID, emit)
		})
	case "cancel":
		if !c.cancel() {
			return ErrNoReplyInProgress
		}
		return nil
	case "select":
		if err := h.chatSvc.SelectBranch(ctx, sessionID, data.BranchID); err != nil {
			return err
		}
	case "delete":
		outcome, err := h.chatSvc.DeleteMessage(ctx, sessionID, data.MessageID)
		if err != nil {
			return err
		}
		h.send(c, sessionID, "deleted", outcome)
	case "path":
	default:
		return errors.New("unsupported message type: " + msg.Type)
	}

	h.sendPath(ctx, c, sessionID)
	return nil
}

// startReply runs one reply in the background and finishes with a path
// event, preceded by an error event when the reply failed.
func (h *Handler) startReply(ctx context.Context, c *conn, sessionID string, run func(context.Context, reply.Emitter) error) error {
	replyCtx, ok := c.beginReply(ctx)
	if !ok {
		return ErrReplyInProgress
	}

	go func() {
		defer c.replies.Done()
		emit := func(e reply.Event) { h.send(c, sessionID, "reply", e) }
		err := run(replyCtx, emit)
		c.endReply()

		if err != nil {
			h.logger.Warn("reply failed", "session", sessionID, "error", err)
			h.sendError(c, sessionID, err.Error())
		}
		h.sendPath(ctx, c, sessionID)
	}()
	return nil
}

func (h *Handler) sendPath(ctx context.Context, c *conn, sessionID string) {
	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		h.sendError(c, sessionID, err.Error())
		return
	}
	view, err := h.chatSvc.ActivePath(ctx, sessionID)
	if err != nil {
		h.sendError(c, sessionID, err.Error())
		return
	}
	if view == nil {
		view = []chat.PathEntry{}
	}
	h.send(c, sessionID, "path", pathData{ActiveBranchID: session.ActiveBranchID, Messages: view})
}

func (h *Handler) send(c *conn, sessionID, kind string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.logger.Warn("write failed", "session", sessionID, "type", kind, "error", err)
	}
}

func (h *Handler) sendError(c *conn, sessionID, message string) {
	h.send(c, sessionID, "error", map[string]string{"message": message})
}

func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
