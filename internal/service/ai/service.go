package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"catchup/internal/config"
)

const (
	systemPrompt = "You are CatchUp.AI, a helpful school AI that summarizes missed lessons " +
		"into fun revision notes using emojis that match the topic."
	userPromptPrefix = "Summarize this lesson for a student who was absent:\n\n"

	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-2.5-flash"
	defaultClaudeModel = "claude-3-5-haiku-latest"
)

// Summarizer turns lesson text into revision notes.
type Summarizer struct {
	chatModel model.BaseChatModel
	provider  string
	modelName string
	logger    *zap.Logger
}

// NewSummarizer builds the chat model for the configured provider.
func NewSummarizer(ctx context.Context, provider string, provCfg config.ProviderConfig, logger *zap.Logger) (*Summarizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key required", provider)
	}
	modelName := provCfg.Model

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		if modelName == "" {
			modelName = defaultOpenAIModel
		}
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		if modelName == "" {
			modelName = defaultGeminiModel
		}
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		if modelName == "" {
			modelName = defaultClaudeModel
		}
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return newSummarizer(chatModel, provider, modelName, logger), nil
}

func newSummarizer(chatModel model.BaseChatModel, provider, modelName string, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{chatModel: chatModel, provider: provider, modelName: modelName, logger: logger}
}

// Summarize sends one system and one user turn and returns the reply as is.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s == nil || s.chatModel == nil {
		return "", errors.New("summarizer unavailable")
	}
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPromptPrefix + text),
	}
	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate revision notes: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate revision notes: empty response")
	}
	s.logger.Debug("revision notes generated",
		zap.String("provider", s.provider),
		zap.String("model", s.modelName),
		zap.Int("input_chars", len(text)),
		zap.Int("output_chars", len(resp.Content)),
	)
	return resp.Content, nil
}
