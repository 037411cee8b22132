package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	chatservice "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
)

type cannedResponder struct {
	text string
}

func (c *cannedResponder) StreamingEnabled() bool { return false }

func (c *cannedResponder) GenerateResponse(context.Context, *chef.Chef, []chat.Message) (*schema.Message, error) {
	return schema.AssistantMessage(c.text, nil), nil
}

func (c *cannedResponder) StreamResponse(context.Context, *chef.Chef, []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(c.text, nil)}), nil
}

// blockingResponder holds every reply open until its context ends.
type blockingResponder struct {
	started  chan struct{}
	canceled chan struct{}
}

func newBlockingResponder() *blockingResponder {
	return &blockingResponder{started: make(chan struct{}, 1), canceled: make(chan struct{})}
}

func (b *blockingResponder) StreamingEnabled() bool { return false }

func (b *blockingResponder) GenerateResponse(ctx context.Context, _ *chef.Chef, _ []chat.Message) (*schema.Message, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	close(b.canceled)
	return nil, ctx.Err()
}

func (b *blockingResponder) StreamResponse(context.Context, *chef.Chef, []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not used")
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type pathFrame struct {
	ActiveBranchID string           `json:"activeBranchId"`
	Messages       []chat.PathEntry `json:"messages"`
}

func dial(t *testing.T, responder reply.Responder) (*websocket.Conn, *chatservice.Service, chat.Session) {
	t.Helper()
	chatSvc := chatservice.NewService()
	session, err := chatSvc.CreateSession(context.Background(), "nonna-rosa", "Ciao!")
	require.NoError(t, err)

	var replies *reply.Service
	if responder != nil {
		replies = reply.New(responder, chatSvc, chef.NewMemoryStore(chef.Seed()), nil)
	}
	r := chi.NewRouter()
	New(chatSvc, replies, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Equal(t, "connected", read(t, ws).Type)
	require.Equal(t, "path", read(t, ws).Type)
	return ws, chatSvc, session
}

func read(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil collects frames up to and including the first of the given type.
func readUntil(t *testing.T, ws *websocket.Conn, kind string) []frame {
	t.Helper()
	var frames []frame
	for {
		f := read(t, ws)
		frames = append(frames, f)
		if f.Type == kind {
			return frames
		}
	}
}

func lastPath(t *testing.T, frames []frame) pathFrame {
	t.Helper()
	var p pathFrame
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &p))
	return p
}

func command(t *testing.T, ws *websocket.Conn, kind string, data map[string]string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"type": kind, "data": data}))
}

func TestSendStreamsReplyThenPath(t *testing.T) {
	ws, _, _ := dial(t, &cannedResponder{text: "Use more garlic."})

	command(t, ws, "send", map[string]string{"text": "Carbonara?"})
	frames := readUntil(t, ws, "path")

	var replies []reply.Event
	for _, f := range frames {
		if f.Type == "reply" {
			var e reply.Event
			require.NoError(t, json.Unmarshal(f.Data, &e))
			replies = append(replies, e)
		}
	}
	require.NotEmpty(t, replies)
	assert.Equal(t, "start", replies[0].Event)
	assert.Equal(t, "end", replies[len(replies)-1].Event)

	path := lastPath(t, frames)
	require.Len(t, path.Messages, 3)
	assert.Equal(t, "Use more garlic.", path.Messages[2].Message.Text())
}

func TestEditSelectAndDelete(t *testing.T) {
	ws, _, _ := dial(t, &cannedResponder{text: "Use more garlic."})

	command(t, ws, "send", map[string]string{"text": "Lasagne"})
	first := lastPath(t, readUntil(t, ws, "path"))
	userMsg := first.Messages[1].Message

	command(t, ws, "edit", map[string]string{"messageId": userMsg.ID, "text": "Cannelloni"})
	edited := lastPath(t, readUntil(t, ws, "path"))
	require.Len(t, edited.Messages, 3)
	assert.Equal(t, "Cannelloni", edited.Messages[1].Message.Text())
	assert.Equal(t, 2, edited.Messages[1].Siblings.Count)
	assert.NotEqual(t, first.ActiveBranchID, edited.ActiveBranchID)

	command(t, ws, "select", map[string]string{"branchId": first.ActiveBranchID})
	selected := lastPath(t, readUntil(t, ws, "path"))
	assert.Equal(t, "Lasagne", selected.Messages[1].Message.Text())

	command(t, ws, "delete", map[string]string{"messageId": userMsg.ID})
	frames := readUntil(t, ws, "path")
	assert.Equal(t, "deleted", frames[0].Type)
	after := lastPath(t, frames)
	assert.Equal(t, edited.ActiveBranchID, after.ActiveBranchID)
	assert.Equal(t, "Cannelloni", after.Messages[1].Message.Text())
}

func TestSendWithoutRepliesStoresMessage(t *testing.T) {
	ws, chatSvc, session := dial(t, nil)

	command(t, ws, "send", map[string]string{"text": "Pesto"})
	assert.Equal(t, "path", read(t, ws).Type)
	assert.Equal(t, "error", read(t, ws).Type)

	transcript, err := chatSvc.LoadTranscript(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)
}

func TestUnknownCommandAndMismatch(t *testing.T) {
	ws, _, _ := dial(t, nil)

	command(t, ws, "dance", nil)
	assert.Equal(t, "error", read(t, ws).Type)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "path", "sessionId": "other"}))
	assert.Equal(t, "error", read(t, ws).Type)
}

func TestUnknownSessionRejected(t *testing.T) {
	r := chi.NewRouter()
	New(chatservice.NewService(), nil, nil).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ws/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCancelStopsRunningReply(t *testing.T) {
	responder := newBlockingResponder()
	ws, chatSvc, session := dial(t, responder)

	command(t, ws, "send", map[string]string{"text": "Tiramisu"})
	<-responder.started

	command(t, ws, "send", map[string]string{"text": "Panna cotta"})
	frames := readUntil(t, ws, "error")
	assert.Contains(t, string(frames[len(frames)-1].Data), ErrReplyInProgress.Error())

	command(t, ws, "cancel", nil)
	frames = readUntil(t, ws, "path")
	assert.Equal(t, "error", frames[len(frames)-2].Type)

	path := lastPath(t, frames)
	require.Len(t, path.Messages, 2)
	assert.Equal(t, "Tiramisu", path.Messages[1].Message.Text())

	transcript, err := chatSvc.LoadTranscript(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, transcript, 2)

	command(t, ws, "cancel", nil)
	assert.Equal(t, "error", read(t, ws).Type)
}

func TestDisconnectCancelsReply(t *testing.T) {
	responder := newBlockingResponder()
	ws, _, _ := dial(t, responder)

	command(t, ws, "send", map[string]string{"text": "Focaccia"})
	<-responder.started
	require.NoError(t, ws.Close())

	select {
	case <-responder.canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("reply kept running after the client disconnected")
	}
}
