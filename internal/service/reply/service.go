// Package reply drives one assistant turn: it places the reply in the
// branch tree, feeds the conversation path to the model and relays the
// output to a transport through an Emitter.
package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	chatservice "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
)

var (
	ErrChefNotFound    = errors.New("chef not found")
	ErrNothingToAnswer = errors.New("no user message to answer")
	ErrEmptyReply      = errors.New("model returned an empty reply")
)

// Responder produces model output for a conversation ending with a user turn.
type Responder interface {
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, c *chef.Chef, conversation []chat.Message) (*schema.Message, error)
	StreamResponse(ctx context.Context, c *chef.Chef, conversation []chat.Message) (*schema.StreamReader[*schema.Message], error)
}

// Event is one step of a reply as seen by the client.
type Event struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	BranchID  string `json:"branchId,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Emitter delivers events to a transport.
type Emitter func(Event)

// Service coordinates the chat and model collaborators.
type Service struct {
	responder Responder
	chats     *chatservice.Service
	chefs     chef.Store
	logger    *slog.Logger
}

// New creates a reply service.
func New(responder Responder, chats *chatservice.Service, chefs chef.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		responder: responder,
		chats:     chats,
		chefs:     chefs,
		logger:    logger.With("component", "reply"),
	}
}

// Send appends text as a user message on the active branch and answers it.
// Empty text answers the trailing user message of the active path, which
// is how an edited message gets its reply.
func (s *Service) Send(ctx context.Context, sessionID, text string, emit Emitter) error {
	c, err := s.sessionChef(ctx, sessionID)
	if err != nil {
		return err
	}

	parentID := ""
	if strings.TrimSpace(text) != "" && !s.alreadySent(ctx, sessionID, text) {
		msg, err := s.chats.SendMessage(ctx, sessionID, chat.RoleUser, []chat.Part{chat.TextPart(text)})
		if err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		parentID = msg.ID
	}

	return s.answer(ctx, sessionID, c, emit, func() (chat.Message, error) {
		return s.chats.StartReply(ctx, sessionID, parentID)
	})
}

// Retry regenerates an assistant message as a sibling on a new branch.
func (s *Service) Retry(ctx context.Context, sessionID, messageID string, emit Emitter) error {
	c, err := s.sessionChef(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.answer(ctx, sessionID, c, emit, func() (chat.Message, error) {
		return s.chats.RetryReply(ctx, sessionID, messageID)
	})
}

// answer places the reply with start, then fills it from the model.
func (s *Service) answer(ctx context.Context, sessionID string, c *chef.Chef, emit Emitter, start func() (chat.Message, error)) error {
	msg, err := start()
	if errors.Is(err, chatservice.ErrNotAnswerable) {
		return ErrNothingToAnswer
	}
	if err != nil {
		return fmt.Errorf("start reply: %w", err)
	}

	emit(Event{
		Event:     "start",
		SessionID: sessionID,
		MessageID: msg.ID,
		BranchID:  msg.Metadata.BranchID,
		Content:   c.Name,
	})

	genErr := s.fill(ctx, sessionID, msg, c, emit)

	// The reply keeps whatever arrived before a failure or cancellation.
	final, err := s.chats.FinishReply(context.WithoutCancel(ctx), sessionID, msg.ID)
	if err != nil {
		s.logger.Error("failed to finish reply", "session", sessionID, "message", msg.ID, "error", err)
		if genErr == nil {
			genErr = err
		}
	}
	if genErr != nil {
		return genErr
	}
	if !final.Displayable() {
		s.logger.Warn("model returned no content, reply dropped", "session", sessionID, "message", msg.ID)
		return ErrEmptyReply
	}

	emit(Event{
		Event:     "message",
		SessionID: sessionID,
		MessageID: final.ID,
		BranchID:  final.Metadata.BranchID,
		Content:   final.Text(),
	})
	emit(Event{
		Event:     "end",
		SessionID: sessionID,
		MessageID: final.ID,
		Finished:  true,
	})
	s.logger.Info("reply completed", "session", sessionID, "chef", c.ID, "message", final.ID, "branch", final.Metadata.BranchID)
	return nil
}

func (s *Service) fill(ctx context.Context, sessionID string, msg chat.Message, c *chef.Chef, emit Emitter) error {
	conversation, err := s.chats.Conversation(ctx, sessionID, msg.Metadata.ParentMessageID)
	if err != nil {
		return err
	}
	return s.generate(ctx, sessionID, msg.ID, c, conversation, emit)
}

func (s *Service) generate(ctx context.Context, sessionID, messageID string, c *chef.Chef, conversation []chat.Message, emit Emitter) error {
	if !s.responder.StreamingEnabled() {
		response, err := s.responder.GenerateResponse(ctx, c, conversation)
		if err != nil {
			return err
		}
		return s.chats.AppendReply(ctx, sessionID, messageID, response.Content)
	}

	stream, err := s.responder.StreamResponse(ctx, c, conversation)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return recvErr
		}
		if chunk == nil {
			continue
		}
		if chunk.Content == "" {
			continue
		}
		if err := s.chats.AppendReply(ctx, sessionID, messageID, chunk.Content); err != nil {
			return err
		}
		emit(Event{
			Event:     "delta",
			SessionID: sessionID,
			MessageID: messageID,
			Content:   chunk.Content,
		})
	}
	return nil
}

func (s *Service) sessionChef(ctx context.Context, sessionID string) (*chef.Chef, error) {
	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	c, ok := s.chefs.FindByID(session.ChefID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChefNotFound, session.ChefID)
	}
	return &c, nil
}

// alreadySent reports whether the active path already ends with this user
// text, as happens when the client saved it over REST first.
func (s *Service) alreadySent(ctx context.Context, sessionID, text string) bool {
	view, err := s.chats.ActivePath(ctx, sessionID)
	if err != nil || len(view) == 0 {
		return false
	}
	last := view[len(view)-1].Message
	return last.Role == chat.RoleUser && last.Text() == text
}
