package api

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"marketchat/internal/chat"
	"marketchat/internal/config"
)

// DirectClient 直连 OpenAI 兼容端点（如 Ollama 的 /v1）的聊天通道，
// 绕过后端代理；会话目录与报告接口在直连模式下不可用。
// DirectClient talks straight to an OpenAI-compatible endpoint (for
// example Ollama's /v1), bypassing the backend proxy. Only the chat
// channel is available in direct mode; the session directory and report
// endpoints still require the full backend.
type DirectClient struct {
	client *openai.Client
	model  string
}

func NewDirectClient(cfg config.DirectConfig) (*DirectClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("direct base_url is empty")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("direct model is empty")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	return &DirectClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Chat implements the same contract as Client.Chat. The session id has no
// server-side meaning here and is carried as the request user tag only.
func (d *DirectClient) Chat(ctx context.Context, messages []chat.Message, sessionID string) (string, error) {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: converted,
		User:     sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("direct chat request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the configured model name.
func (d *DirectClient) Model() string {
	return d.model
}
