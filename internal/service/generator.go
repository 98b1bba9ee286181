package service

import (
	"context"
	"line-smart-go/internal/intent"
	"line-smart-go/internal/model"
	"line-smart-go/internal/tools"
	"line-smart-go/pkg/llm"
)

// Generator 是对话编排使用的外部生成能力。失败时返回 *llm.GenerationError。
type Generator interface {
	// Generate 普通路径：系统提示词 + 历史 + 当前输入。
	Generate(ctx context.Context, systemPrompt string, history []model.ChatMessage, userText string) (string, error)
	// GenerateWithTools 工具路径：在普通路径的基础上开放 caps 对应的工具，最多推理 maxIterations 轮。
	GenerateWithTools(ctx context.Context, systemPrompt string, history []model.ChatMessage, userText string, caps intent.Set, maxIterations int) (string, error)
}

type llmGenerator struct {
	client   llm.Client
	registry *tools.Registry
}

// NewGenerator 基于 LLM 客户端与工具注册表创建 Generator。
func NewGenerator(client llm.Client, registry *tools.Registry) Generator {
	return &llmGenerator{client: client, registry: registry}
}

func (g *llmGenerator) Generate(ctx context.Context, systemPrompt string, history []model.ChatMessage, userText string) (string, error) {
	return g.client.Complete(ctx, composeMessages(systemPrompt, history, userText), nil)
}

func (g *llmGenerator) GenerateWithTools(ctx context.Context, systemPrompt string, history []model.ChatMessage, userText string, caps intent.Set, maxIterations int) (string, error) {
	var available []llm.Tool
	if g.registry != nil {
		available = g.registry.ForCapabilities(caps)
	}
	return g.client.CompleteWithTools(ctx, composeMessages(systemPrompt, history, userText), available, maxIterations, nil)
}

// composeMessages 组装 system + 历史 + 当前 user 消息；空的 systemPrompt 会被省略。
func composeMessages(systemPrompt string, history []model.ChatMessage, userText string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userText})
	return msgs
}
