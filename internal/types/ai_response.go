package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoContentBlocks 内容块序列为空，无法取第一个块
	ErrNoContentBlocks = errors.New("AI响应内容块为空")
	// ErrUnsupportedContent content 既不是字符串也不是内容块数组
	ErrUnsupportedContent = errors.New("不支持的AI响应内容格式")
)

// ContentKind 区分 AI 响应内容的两种形态
type ContentKind int

const (
	// ContentText 纯文本
	ContentText ContentKind = iota + 1
	// ContentBlocks 有序内容块
	ContentBlocks
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentBlocks:
		return "blocks"
	default:
		return "unknown"
	}
}

// ContentBlock 单个内容块
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// MessageContent AI 消息内容，Kind 决定 Text 与 Blocks 哪个有效
type MessageContent struct {
	Kind   ContentKind
	Text   string
	Blocks []ContentBlock
}

// TextContent 构造纯文本内容
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// BlockContent 构造内容块形式的内容
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Kind: ContentBlocks, Blocks: blocks}
}

// FeedbackText 提取反馈文本: 文本形态直接返回，块形态取第一个块的 text
func (c MessageContent) FeedbackText() (string, error) {
	switch c.Kind {
	case ContentText:
		return c.Text, nil
	case ContentBlocks:
		if len(c.Blocks) == 0 {
			return "", ErrNoContentBlocks
		}
		return c.Blocks[0].Text, nil
	default:
		return "", fmt.Errorf("%w: kind=%d", ErrUnsupportedContent, c.Kind)
	}
}

// UnmarshalJSON 在边界处一次性确定内容形态
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedContent, string(trimmed[:1]))
	}
}

// MarshalJSON 按原形态输出
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentBlocks {
		blocks := c.Blocks
		if blocks == nil {
			blocks = []ContentBlock{}
		}
		return json.Marshal(blocks)
	}
	return json.Marshal(c.Text)
}

// AIMessage AI 返回的消息
type AIMessage struct {
	Role    string         `json:"role,omitempty"`
	Content MessageContent `json:"content"`
}

// AIResponse AI 反馈服务的响应
type AIResponse struct {
	Message AIMessage `json:"message"`
}
