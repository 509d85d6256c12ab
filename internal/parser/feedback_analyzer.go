package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resumind-go/internal/logger"
	"resumind-go/internal/processor"
	"resumind-go/internal/tracing"
	"resumind-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrEmptyResumeText 简历中没有可提取的文本
var ErrEmptyResumeText = errors.New("简历文本为空")

// DocumentReader 按上传路径读取文件内容
type DocumentReader interface {
	DownloadFile(ctx context.Context, objectPath string) ([]byte, error)
}

// TextExtractor 从 PDF 字节中提取文本
type TextExtractor interface {
	ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, error)
}

// LLMFeedbackAnalyzer 读取已上传的简历，交给大模型按指令生成 ATS 反馈
type LLMFeedbackAnalyzer struct {
	docs      DocumentReader
	extractor TextExtractor
	llm       model.BaseChatModel
	maxChars  int
}

var _ processor.FeedbackAnalyzer = (*LLMFeedbackAnalyzer)(nil)

var analyzerTracer = otel.Tracer("resumind-go/parser/feedback")

// NewLLMFeedbackAnalyzer maxChars 为送入模型的简历文本上限，非正数表示不截断
func NewLLMFeedbackAnalyzer(docs DocumentReader, extractor TextExtractor, llm model.BaseChatModel, maxChars int) *LLMFeedbackAnalyzer {
	return &LLMFeedbackAnalyzer{docs: docs, extractor: extractor, llm: llm, maxChars: maxChars}
}

// Feedback 实现 processor.FeedbackAnalyzer
func (a *LLMFeedbackAnalyzer) Feedback(ctx context.Context, documentPath, instructions string) (*types.AIResponse, error) {
	ctx, span := analyzerTracer.Start(ctx, "LLMFeedbackAnalyzer.Feedback")
	defer span.End()
	span.SetAttributes(attribute.String("resume.path", tracing.SafeAttributeValue("path", documentPath, tracing.DefaultMaxLength)))

	data, err := a.docs.DownloadFile(ctx, documentPath)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return nil, fmt.Errorf("读取简历文件失败: %w", err)
	}

	text, err := a.extractor.ExtractTextFromBytes(ctx, data, documentPath)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeConversion)
		return nil, fmt.Errorf("提取简历文本失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		tracing.RecordError(span, ErrEmptyResumeText, tracing.ErrorTypeValidation)
		return nil, ErrEmptyResumeText
	}
	if a.maxChars > 0 && len([]rune(text)) > a.maxChars {
		text = string([]rune(text)[:a.maxChars])
	}

	messages := []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage("Resume:\n" + text),
	}

	start := time.Now()
	reply, err := a.llm.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("调用大模型失败: %w", err)
	}
	// 没有任何内容的回复按空反馈处理
	if reply == nil || isEmptyReply(reply) {
		logger.Warn().Str("path", documentPath).Msg("大模型返回空回复")
		return nil, nil
	}

	resp := toAIResponse(reply)
	span.SetAttributes(
		attribute.String("llm.content_kind", resp.Message.Content.Kind.String()),
		attribute.Int("resume.text_length", len(text)),
	)
	logger.Info().
		Str("path", documentPath).
		Str("content_kind", resp.Message.Content.Kind.String()).
		Dur("elapsed", time.Since(start)).
		Msg("大模型反馈已返回")
	return resp, nil
}

func isEmptyReply(msg *schema.Message) bool {
	return msg.MultiContent == nil && len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) == ""
}

// MultiContent 非 nil 时视为内容块形态，只保留文本块
func toAIResponse(msg *schema.Message) *types.AIResponse {
	content := types.TextContent(msg.Content)
	if msg.MultiContent != nil {
		blocks := make([]types.ContentBlock, 0, len(msg.MultiContent))
		for _, part := range msg.MultiContent {
			if part.Type != schema.ChatMessagePartTypeText {
				continue
			}
			blocks = append(blocks, types.ContentBlock{Type: string(part.Type), Text: part.Text})
		}
		content = types.BlockContent(blocks...)
	}
	return &types.AIResponse{Message: types.AIMessage{Role: string(msg.Role), Content: content}}
}
