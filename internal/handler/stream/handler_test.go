package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	chatService "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
)

type fakeResponder struct {
	chunks []string
	err    error
}

func (f *fakeResponder) StreamingEnabled() bool { return true }

func (f *fakeResponder) GenerateResponse(context.Context, *chef.Chef, []chat.Message) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeResponder) StreamResponse(context.Context, *chef.Chef, []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func setupRouter(t *testing.T, responder reply.Responder) (*chi.Mux, *chatService.Service, chat.Session) {
	t.Helper()
	chatSvc := chatService.NewService()
	chefs := chef.NewMemoryStore(chef.Seed())
	session, err := chatSvc.CreateSession(context.Background(), "green-table", "Welcome")
	require.NoError(t, err)

	var replies *reply.Service
	if responder != nil {
		replies = reply.New(responder, chatSvc, chefs, nil)
	}
	r := chi.NewRouter()
	New(replies, chatSvc, nil).RegisterRoutes(r)
	return r, chatSvc, session
}

func readEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
	}
	return events
}

func eventNames(events []map[string]any) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e["event"].(string))
	}
	return names
}

func TestStreamSendRelaysReply(t *testing.T) {
	r, chatSvc, session := setupRouter(t, &fakeResponder{chunks: []string{"Roast ", "the squash."}})

	req := httptest.NewRequest(http.MethodGet, "/stream/"+session.ID+"?message=Autumn+dinner", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	events := readEvents(t, resp.Body.String())
	assert.Equal(t, []string{"start", "delta", "delta", "message", "end", "path"}, eventNames(events))
	assert.Equal(t, "Roast the squash.", events[3]["content"])

	view, err := chatSvc.ActivePath(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, view, 3)
	assert.Equal(t, "Autumn dinner", view[1].Message.Text())
}

func TestStreamRetryAddsSibling(t *testing.T) {
	responder := &fakeResponder{chunks: []string{"Soup."}}
	r, chatSvc, session := setupRouter(t, responder)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+session.ID+"?message=Lunch", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	view, err := chatSvc.ActivePath(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, view, 3)

	responder.chunks = []string{"Salad."}
	req = httptest.NewRequest(http.MethodPost, "/stream/"+session.ID+"/retry/"+view[2].Message.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	view, err = chatSvc.ActivePath(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Salad.", view[2].Message.Text())
	assert.Equal(t, 2, view[2].Siblings.Count)
}

func TestStreamUnavailableWithoutAI(t *testing.T) {
	r, _, session := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+session.ID+"?message=hi", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestStreamErrorsBeforeStart(t *testing.T) {
	r, _, session := setupRouter(t, &fakeResponder{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/missing?message=hi", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStreamModelFailureSendsErrorEvent(t *testing.T) {
	r, _, session := setupRouter(t, &fakeResponder{err: errors.New("model down")})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID+"?message=hi", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	events := readEvents(t, resp.Body.String())
	assert.Equal(t, []string{"start", "error"}, eventNames(events))
	assert.Equal(t, "model down", events[1]["error"])
}
