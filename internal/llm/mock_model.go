package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"resumind-go/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse MockChatClient 的单次响应
type MockResponse struct {
	Content string
	// Parts 非 nil 时以 MultiContent 形式返回
	Parts []string
	Error error
}

// MockChatClient 用于测试和未配置 API Key 时的本地运行
type MockChatClient struct {
	mu        sync.Mutex
	responses []MockResponse
	index     int
	repeat    bool
	received  [][]*schema.Message
}

var _ model.ToolCallingChatModel = (*MockChatClient)(nil)

// NewMockChatClient 每次都返回相同的响应
func NewMockChatClient(content string, err error) *MockChatClient {
	return &MockChatClient{responses: []MockResponse{{Content: content, Error: err}}, repeat: true}
}

// NewMockChatClientSequential 按顺序返回不同响应，用完后返回错误
func NewMockChatClientSequential(responses ...MockResponse) *MockChatClient {
	if len(responses) == 0 {
		responses = []MockResponse{{Error: errors.New("mock client has no responses configured")}}
	}
	return &MockChatClient{responses: responses}
}

// NewMockChatClientParts 每次都以内容块形式返回
func NewMockChatClientParts(parts ...string) *MockChatClient {
	if parts == nil {
		parts = []string{}
	}
	return &MockChatClient{responses: []MockResponse{{Parts: parts}}, repeat: true}
}

// Generate 实现 model.BaseChatModel
func (m *MockChatClient) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, append([]*schema.Message(nil), input...))

	var resp MockResponse
	switch {
	case m.repeat:
		resp = m.responses[0]
	case m.index < len(m.responses):
		resp = m.responses[m.index]
		m.index++
	default:
		return nil, errors.New("mock client has run out of sequential responses")
	}
	logger.Debug().Int("messages", len(input)).Msg("[MockChatClient] Generate")

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Parts != nil {
		msg := &schema.Message{Role: schema.Assistant, MultiContent: make([]schema.ChatMessagePart, 0, len(resp.Parts))}
		for _, p := range resp.Parts {
			msg.MultiContent = append(msg.MultiContent, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: p})
		}
		return msg, nil
	}
	return schema.AssistantMessage(resp.Content, nil), nil
}

// Stream 不支持
func (m *MockChatClient) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not implemented in MockChatClient")
}

// WithTools 工具对 mock 没有影响
func (m *MockChatClient) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// Calls 返回每次调用收到的消息
func (m *MockChatClient) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.received...)
}
