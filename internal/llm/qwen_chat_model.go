package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resumind-go/internal/logger"
	"resumind-go/internal/tracing"
	"resumind-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	// DashScope 的 OpenAI 兼容接口
	openAICompatibleQwenAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName       = "qwen-plus"
)

// QwenOption 模型配置选项
type QwenOption func(*QwenChatModel)

// WithTemperature 采样温度
func WithTemperature(t float32) QwenOption {
	return func(q *QwenChatModel) { q.temperature = &t }
}

// WithMaxTokens 最大输出 token 数
func WithMaxTokens(n int) QwenOption {
	return func(q *QwenChatModel) {
		if n > 0 {
			q.maxTokens = n
		}
	}
}

// WithHTTPClient 自定义 HTTP 客户端
func WithHTTPClient(c *http.Client) QwenOption {
	return func(q *QwenChatModel) {
		if c != nil {
			q.httpClient = c
		}
	}
}

// QwenChatModel 通义千问 OpenAI 兼容接口的 ToolCallingChatModel 实现
type QwenChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	maxTokens   int
	httpClient  *http.Client
	tools       []openAITool
}

var _ model.ToolCallingChatModel = (*QwenChatModel)(nil)

// NewQwenChatModel 创建模型客户端，modelName 与 apiURL 为空时使用默认值
func NewQwenChatModel(apiKey, modelName, apiURL string, opts ...QwenOption) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = openAICompatibleQwenAPIURL
	}

	q := &QwenChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(q)
	}
	logger.Info().Str("api_url", apiURL).Str("model", modelName).Msg("通义千问客户端已创建")
	return q, nil
}

// ModelName 当前使用的模型名称
func (q *QwenChatModel) ModelName() string {
	return q.modelName
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequestMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []chatRequestMessage `json:"messages"`
	Tools       []openAITool         `json:"tools,omitempty"`
	Temperature *float32             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type toolCallData struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseMessage struct {
	Role      string               `json:"role"`
	Content   types.MessageContent `json:"content"`
	ToolCalls []toolCallData       `json:"tool_calls,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int             `json:"index"`
		Message      responseMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Generate 实现 model.BaseChatModel
func (q *QwenChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	payload := chatCompletionRequest{
		Model:       q.modelName,
		Messages:    make([]chatRequestMessage, 0, len(messages)),
		Tools:       q.tools,
		Temperature: q.temperature,
		MaxTokens:   q.maxTokens,
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		payload.Messages = append(payload.Messages, chatRequestMessage{
			Role:       string(m.Role),
			Content:    messageText(m),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, q.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug().
		Str("model", q.modelName).
		Int("messages", len(payload.Messages)).
		Str("prompt", tracing.SafePrompt(lastUserText(payload.Messages))).
		Msg("发送通义千问请求")

	start := time.Now()
	httpResp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, tracing.TruncateString(string(respBody), 500))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	event := logger.Debug().Str("model", completion.Model).Dur("elapsed", time.Since(start))
	if completion.Usage != nil {
		event = event.Int("total_tokens", completion.Usage.TotalTokens)
	}
	event.Msg("收到通义千问响应")

	return toSchemaMessage(completion.Choices[0].Message), nil
}

// Stream 兼容接口暂不支持流式输出
func (q *QwenChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("QwenChatModel 未实现 Stream")
}

// WithTools 返回绑定了工具的新实例，原实例不变
func (q *QwenChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]openAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		fn := openAIFunction{Name: info.Name, Description: info.Desc}
		if info.ParamsOneOf != nil {
			params, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数失败: %w", info.Name, err)
			}
			if params != nil {
				raw, err := json.Marshal(params)
				if err != nil {
					return nil, fmt.Errorf("序列化工具 %s 的参数失败: %w", info.Name, err)
				}
				fn.Parameters = raw
			}
		}
		bound = append(bound, openAITool{Type: "function", Function: fn})
	}

	clone := *q
	clone.tools = bound
	return &clone, nil
}

// 响应内容为数组时保留为 MultiContent，空数组也保留为非 nil 切片
func toSchemaMessage(m responseMessage) *schema.Message {
	role := schema.RoleType(m.Role)
	if role == "" {
		role = schema.Assistant
	}
	out := &schema.Message{Role: role}

	switch m.Content.Kind {
	case types.ContentBlocks:
		out.MultiContent = make([]schema.ChatMessagePart, 0, len(m.Content.Blocks))
		for _, b := range m.Content.Blocks {
			out.MultiContent = append(out.MultiContent, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: b.Text,
			})
		}
	default:
		out.Content = m.Content.Text
	}

	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func messageText(m *schema.Message) string {
	if m.Content != "" || len(m.MultiContent) == 0 {
		return m.Content
	}
	parts := make([]string, 0, len(m.MultiContent))
	for _, p := range m.MultiContent {
		if p.Type == schema.ChatMessagePartTypeText {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func lastUserText(msgs []chatRequestMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(schema.User) {
			return msgs[i].Content
		}
	}
	return ""
}
