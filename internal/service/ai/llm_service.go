package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/recipe-chat/backend/internal/config"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
)

const historyLimit = 10

// ErrNoUserTurn is returned when the conversation does not end with a user message.
var ErrNoUserTurn = errors.New("conversation must end with a user message")

// Service encapsulates AI-powered recipe chat
type Service struct {
	chatModel model.BaseChatModel
	prompts   *ChefPromptManager
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service backed by the configured Ark model
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel builds the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		prompts:   NewChefPromptManager(),
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether replies are streamed token by token.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// GenerateResponse produces a complete reply to the conversation's last user turn.
func (s *Service) GenerateResponse(ctx context.Context, c *chef.Chef, conversation []chat.Message) (*schema.Message, error) {
	input, err := s.buildChainInput(c, conversation)
	if err != nil {
		return nil, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	slog.Debug("generated response", "component", "ai", "chef", c.ID, "length", len(response.Content))
	return response, nil
}

// StreamResponse streams reply chunks for the conversation's last user turn.
func (s *Service) StreamResponse(ctx context.Context, c *chef.Chef, conversation []chat.Message) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input, err := s.buildChainInput(c, conversation)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(c *chef.Chef, conversation []chat.Message) (map[string]any, error) {
	if len(conversation) == 0 {
		return nil, ErrNoUserTurn
	}
	last := conversation[len(conversation)-1]
	if last.Role != chat.RoleUser {
		return nil, ErrNoUserTurn
	}

	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(c),
		"history": buildHistoryMessages(conversation[:len(conversation)-1]),
		"query":   last.Text(),
	}, nil
}

// buildHistoryMessages converts the tail of the path into model messages.
// Only text content is forwarded.
func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		content := msg.Text()
		if content == "" {
			continue
		}
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(content, nil))
		case chat.RoleSystem:
			history = append(history, schema.SystemMessage(content))
		}
	}
	return history
}
