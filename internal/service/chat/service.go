package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/recipe-chat/backend/internal/branch"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/store"
)

var (
	ErrChefRequired    = errors.New("chef id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrEmptyMessage    = errors.New("message must contain at least one part")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrNotEditable     = errors.New("only user messages can be edited")
	ErrNotRetryable    = errors.New("only assistant messages can be retried")
	ErrNotAnswerable   = errors.New("a reply must follow a user message")
)

// Store persists conversation snapshots.
type Store interface {
	Save(ctx context.Context, snapshot chat.Snapshot) error
	Load(ctx context.Context, sessionID string) (chat.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]chat.Session, error)
}

// DeleteOutcome reports the effect of DeleteMessage.
type DeleteOutcome struct {
	ActiveBranchID string   `json:"activeBranchId"`
	Removed        []string `json:"removed"`
}

// Option customises a Service.
type Option func(*Service)

// WithStore sets the persistence backend. Defaults to an in-memory store.
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type conversation struct {
	session chat.Session
	tree    *branch.Resolver

	// saveMu is held from snapshot until Save returns so snapshots reach
	// the store in mutation order. Lock order: saveMu, then Service.mu.
	saveMu  sync.Mutex
	deleted bool
}

// Service encapsulates conversation state management. Each session owns a
// branch.Resolver; the service mutex serialises access to all of them.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*conversation
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewService bootstraps the chat service.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*conversation),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "chat")
	return s
}

// CreateSession provisions a session bound to a chef. A non-empty greeting
// becomes the assistant root message on a fresh branch.
func (s *Service) CreateSession(ctx context.Context, chefID, greeting string) (chat.Session, error) {
	if chefID == "" {
		return chat.Session{}, ErrChefRequired
	}

	now := s.now().UTC()
	conv := &conversation{
		session: chat.Session{
			ID:        uuid.NewString(),
			ChefID:    chefID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		tree: branch.NewResolver(nil, ""),
	}

	if greeting != "" {
		root := s.newMessage(chat.RoleAssistant, []chat.Part{chat.TextPart(greeting)}, branch.ForkPoint{
			BranchID: branch.NewBranchID(),
		})
		conv.tree.Upsert(root)
		conv.tree.SetActiveBranch(root.Metadata.BranchID)
		conv.session.ActiveBranchID = root.Metadata.BranchID
	}

	conv.saveMu.Lock()
	defer conv.saveMu.Unlock()

	s.mu.Lock()
	s.sessions[conv.session.ID] = conv
	snapshot := conv.snapshot()
	s.mu.Unlock()

	if err := s.persist(ctx, snapshot); err != nil {
		return chat.Session{}, err
	}
	s.logger.Info("session created", "session", conv.session.ID, "chef", chefID)
	return snapshot.Session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := s.read(ctx, sessionID, func(conv *conversation) error {
		session = conv.session
		return nil
	})
	return session, err
}

// ListSessions returns all known sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]chat.Session, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	byID := make(map[string]chat.Session, len(stored))
	for _, session := range stored {
		byID[session.ID] = session
	}
	s.mu.RLock()
	for id, conv := range s.sessions {
		byID[id] = conv.session
	}
	s.mu.RUnlock()

	sessions := make([]chat.Session, 0, len(byID))
	for _, session := range byID {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// DeleteSession drops a session and its stored snapshot. Writes still in
// flight on the session fail with ErrSessionNotFound afterwards.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	conv, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	conv.saveMu.Lock()
	defer conv.saveMu.Unlock()

	s.mu.Lock()
	if conv.deleted {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	conv.deleted = true
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// SendMessage appends a message to the tail of the active path. An empty
// conversation starts a fresh branch.
func (s *Service) SendMessage(ctx context.Context, sessionID string, role chat.Role, parts []chat.Part) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}
	if len(parts) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}

	var msg chat.Message
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		msg = s.newMessage(role, parts, conv.continuation())
		conv.tree.Upsert(msg)
		conv.tree.SetActiveBranch(msg.Metadata.BranchID)
		return nil
	})
	return msg, err
}

// EditMessage forks a replacement for a user message on a new branch and
// activates it. The original stays in place.
func (s *Service) EditMessage(ctx context.Context, sessionID, messageID string, parts []chat.Part) (chat.Message, error) {
	if len(parts) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}

	var msg chat.Message
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		edited, ok := conv.tree.Get(messageID)
		if !ok {
			return ErrMessageNotFound
		}
		if edited.Role != chat.RoleUser {
			return ErrNotEditable
		}
		msg = s.newMessage(chat.RoleUser, parts, branch.Fork(edited))
		conv.tree.Upsert(msg)
		conv.tree.SetActiveBranch(msg.Metadata.BranchID)
		return nil
	})
	return msg, err
}

// StartReply stores an empty assistant message answering parentID and
// activates its branch. An empty parentID answers the tail of the active
// path. The reply continues the parent's branch unless that branch already
// has a child of the parent, in which case it forks. Content arrives
// through AppendReply.
func (s *Service) StartReply(ctx context.Context, sessionID, parentID string) (chat.Message, error) {
	var msg chat.Message
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		var parent chat.Message
		if parentID == "" {
			path := conv.tree.Path()
			if len(path) == 0 {
				return ErrNotAnswerable
			}
			parent = path[len(path)-1]
		} else {
			var ok bool
			if parent, ok = conv.tree.Get(parentID); !ok {
				return ErrMessageNotFound
			}
		}

		branchID := parent.Metadata.BranchID
		if conv.tree.HasChildOn(parent.ID, branchID) {
			branchID = branch.NewBranchID()
		}
		var err error
		msg, err = s.startReply(conv, parent, branchID)
		return err
	})
	return msg, err
}

// RetryReply stores an empty assistant message as a sibling of messageID on
// a new branch and activates it.
func (s *Service) RetryReply(ctx context.Context, sessionID, messageID string) (chat.Message, error) {
	var msg chat.Message
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		retried, ok := conv.tree.Get(messageID)
		if !ok {
			return ErrMessageNotFound
		}
		if retried.Role != chat.RoleAssistant {
			return ErrNotRetryable
		}
		parent, ok := conv.tree.Get(retried.Metadata.ParentMessageID)
		if !ok {
			return ErrNotAnswerable
		}
		var err error
		msg, err = s.startReply(conv, parent, branch.Fork(retried).BranchID)
		return err
	})
	return msg, err
}

func (s *Service) startReply(conv *conversation, parent chat.Message, branchID string) (chat.Message, error) {
	if parent.Role != chat.RoleUser {
		return chat.Message{}, ErrNotAnswerable
	}
	msg := s.newMessage(chat.RoleAssistant, nil, branch.ForkPoint{
		BranchID:        branchID,
		ParentMessageID: parent.ID,
	})
	conv.tree.Upsert(msg)
	conv.tree.SetActiveBranch(branchID)
	return msg, nil
}

// Conversation returns the path from the root to messageID inclusive.
func (s *Service) Conversation(ctx context.Context, sessionID, messageID string) ([]chat.Message, error) {
	var path []chat.Message
	err := s.read(ctx, sessionID, func(conv *conversation) error {
		path = conv.tree.PathTo(messageID)
		return nil
	})
	return path, err
}

// AppendReply extends the in-progress reply. It is not persisted until
// FinishReply.
func (s *Service) AppendReply(ctx context.Context, sessionID, messageID, delta string) error {
	conv, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.deleted {
		return ErrSessionNotFound
	}
	if !conv.tree.AppendText(messageID, delta) {
		return ErrMessageNotFound
	}
	return nil
}

// FinishReply persists the reply in whatever state it reached. A reply
// that never received content is removed so the branch does not end in
// an empty message.
func (s *Service) FinishReply(ctx context.Context, sessionID, messageID string) (chat.Message, error) {
	var msg chat.Message
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		stored, ok := conv.tree.Get(messageID)
		if !ok {
			return ErrMessageNotFound
		}
		if !stored.Displayable() {
			conv.tree.Delete(messageID)
		}
		msg = stored
		return nil
	})
	return msg, err
}

// DeleteMessage removes a message with all of its descendants.
func (s *Service) DeleteMessage(ctx context.Context, sessionID, messageID string) (DeleteOutcome, error) {
	var outcome DeleteOutcome
	err := s.write(ctx, sessionID, func(conv *conversation) error {
		removed := conv.tree.Delete(messageID)
		if len(removed) == 0 {
			return ErrMessageNotFound
		}
		outcome = DeleteOutcome{ActiveBranchID: conv.tree.ActiveBranch(), Removed: removed}
		return nil
	})
	if err == nil {
		s.logger.Info("message subtree deleted", "session", sessionID, "message", messageID, "removed", len(outcome.Removed), "activeBranch", outcome.ActiveBranchID)
	}
	return outcome, err
}

// SelectBranch switches the active branch.
func (s *Service) SelectBranch(ctx context.Context, sessionID, branchID string) error {
	return s.write(ctx, sessionID, func(conv *conversation) error {
		if !conv.tree.SetActiveBranch(branchID) {
			return ErrBranchNotFound
		}
		return nil
	})
}

// ActivePath returns the messages on the active branch with sibling info.
func (s *Service) ActivePath(ctx context.Context, sessionID string) ([]chat.PathEntry, error) {
	var view []chat.PathEntry
	err := s.read(ctx, sessionID, func(conv *conversation) error {
		view = conv.tree.View()
		return nil
	})
	return view, err
}

// LoadTranscript returns every stored message of the session in arrival
// order, across all branches.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	err := s.read(ctx, sessionID, func(conv *conversation) error {
		messages = conv.tree.Messages()
		return nil
	})
	return messages, err
}

// load returns the in-memory conversation, hydrating it from the store on
// first access.
func (s *Service) load(ctx context.Context, sessionID string) (*conversation, error) {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return conv, nil
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	snapshot, err := s.store.Load(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	conv = &conversation{
		session: snapshot.Session,
		tree:    branch.NewResolver(snapshot.Messages, snapshot.Session.ActiveBranchID),
	}
	conv.session.ActiveBranchID = conv.tree.ActiveBranch()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	s.sessions[sessionID] = conv
	s.logger.Debug("session hydrated", "session", sessionID, "messages", conv.tree.Len())
	return conv, nil
}

func (s *Service) read(ctx context.Context, sessionID string, fn func(*conversation) error) error {
	conv, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(conv)
}

// write applies fn under the write lock and persists the result.
func (s *Service) write(ctx context.Context, sessionID string, fn func(*conversation) error) error {
	conv, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	conv.saveMu.Lock()
	defer conv.saveMu.Unlock()

	s.mu.Lock()
	if conv.deleted {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if err := fn(conv); err != nil {
		s.mu.Unlock()
		return err
	}
	conv.session.ActiveBranchID = conv.tree.ActiveBranch()
	conv.session.UpdatedAt = s.now().UTC()
	snapshot := conv.snapshot()
	s.mu.Unlock()

	return s.persist(ctx, snapshot)
}

func (s *Service) persist(ctx context.Context, snapshot chat.Snapshot) error {
	if err := s.store.Save(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist session", "session", snapshot.Session.ID, "error", err)
		return fmt.Errorf("persist session %s: %w", snapshot.Session.ID, err)
	}
	return nil
}

func (s *Service) newMessage(role chat.Role, parts []chat.Part, point branch.ForkPoint) chat.Message {
	return chat.Message{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: append([]chat.Part(nil), parts...),
		Metadata: chat.Metadata{
			BranchID:        point.BranchID,
			ParentMessageID: point.ParentMessageID,
			CreatedAt:       s.now().UnixMilli(),
		},
	}
}

// continuation is the fork point for a message following the active path.
func (c *conversation) continuation() branch.ForkPoint {
	path := c.tree.Path()
	if len(path) == 0 {
		return branch.ForkPoint{BranchID: branch.NewBranchID()}
	}
	return branch.ForkPoint{
		BranchID:        c.tree.ActiveBranch(),
		ParentMessageID: path[len(path)-1].ID,
	}
}

func (c *conversation) snapshot() chat.Snapshot {
	return chat.Snapshot{
		Session:  c.session,
		Messages: c.tree.Messages(),
	}
}
