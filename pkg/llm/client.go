// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"line-smart-go/internal/config"
	"line-smart-go/pkg/log"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// 生成路径名称，出现在 GenerationError 与日志中。
const (
	PathPlain = "plain"
	PathTools = "tools"
)

// ErrNotConfigured 表示未配置 API key，所有生成调用直接失败。
var ErrNotConfigured = errors.New("llm api key not configured")

// GenerationError 表示一次生成调用失败（超时、限流、格式错误等）。
type GenerationError struct {
	Path string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation[%s] failed: %v", e.Path, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Tool 是可由模型调用的工具，输入为一段自然语言文本。
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input string) (string, error)
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息调用聊天接口，返回完整回复。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// CompleteWithTools 允许模型在至多 maxIterations 轮内调用 tools，返回最终回复。
	CompleteWithTools(ctx context.Context, messages []Message, tools []Tool, maxIterations int, gen *GenerationParams) (string, error)
}

type openaiClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient 创建一个 OpenAI 兼容的客户端；BaseURL 为空时使用官方地址。
func NewClient(cfg config.LLMConfig) Client {
	return newClient(cfg, nil)
}

func newClient(cfg config.LLMConfig, httpClient *http.Client) *openaiClient {
	c := &openaiClient{cfg: cfg}
	if cfg.APIKey == "" {
		return c
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// 失败交给上层的降级链处理，这里不做重试
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)
	c.client = &client
	return c
}

func (c *openaiClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	if c.client == nil {
		return "", &GenerationError{Path: PathPlain, Err: ErrNotConfigured}
	}
	params := c.newParams(messages, gen, c.cfg.Generation)
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &GenerationError{Path: PathPlain, Err: fmt.Errorf("failed to call chat api: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return "", &GenerationError{Path: PathPlain, Err: errors.New("no response choices returned")}
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", &GenerationError{Path: PathPlain, Err: errors.New("empty response content")}
	}
	return content, nil
}

func (c *openaiClient) CompleteWithTools(ctx context.Context, messages []Message, tools []Tool, maxIterations int, gen *GenerationParams) (string, error) {
	if c.client == nil {
		return "", &GenerationError{Path: PathTools, Err: ErrNotConfigured}
	}
	if maxIterations <= 0 {
		maxIterations = 1
	}

	byName := make(map[string]Tool, len(tools))
	toolParams := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		toolParams = append(toolParams, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters: openai.FunctionParameters{
					"type": "object",
					"properties": map[string]interface{}{
						"input": map[string]string{
							"type":        "string",
							"description": "工具的輸入文字",
						},
					},
					"required": []string{"input"},
				},
			},
		})
	}

	params := c.newParams(messages, gen, c.cfg.Agent)
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	for i := 0; i < maxIterations; i++ {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", &GenerationError{Path: PathTools, Err: fmt.Errorf("failed to call chat api: %w", err)}
		}
		if len(completion.Choices) == 0 {
			return "", &GenerationError{Path: PathTools, Err: errors.New("no response choices returned")}
		}
		msg := completion.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				return "", &GenerationError{Path: PathTools, Err: errors.New("empty response content")}
			}
			return content, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			result := c.invokeTool(ctx, byName, call.Function.Name, call.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(result, call.ID))
		}
	}
	return "", &GenerationError{Path: PathTools, Err: fmt.Errorf("agent stopped after %d iterations", maxIterations)}
}

// invokeTool 执行一次工具调用。工具失败不会中断推理，错误文本会作为观察结果交还给模型。
func (c *openaiClient) invokeTool(ctx context.Context, byName map[string]Tool, name, arguments string) string {
	tool, ok := byName[name]
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}
	var args struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		// 部分模型会直接给出字符串而不是对象
		args.Input = strings.Trim(arguments, `"`)
	}
	out, err := tool.Call(ctx, args.Input)
	if err != nil {
		log.Warnw("tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("工具 %s 執行失敗：%v", name, err)
	}
	log.Infow("tool call succeeded", "tool", name)
	return out
}

func (c *openaiClient) newParams(messages []Message, gen *GenerationParams, defaults config.LLMGenerationConfig) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: convertMessages(messages),
	}
	// 传参优先，其次使用配置中的非零值
	if gen != nil {
		if gen.Temperature != nil {
			params.Temperature = openai.Float(*gen.Temperature)
		}
		if gen.TopP != nil {
			params.TopP = openai.Float(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			params.MaxTokens = openai.Int(int64(*gen.MaxTokens))
		}
		return params
	}
	if defaults.Temperature != 0 {
		params.Temperature = openai.Float(defaults.Temperature)
	}
	if defaults.TopP != 0 {
		params.TopP = openai.Float(defaults.TopP)
	}
	if defaults.MaxTokens != 0 {
		params.MaxTokens = openai.Int(int64(defaults.MaxTokens))
	}
	return params
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			continue
		}
	}
	return out
}
