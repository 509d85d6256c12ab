package processor

import (
	"context"

	"resumind-go/internal/types"
)

// FileStore 对象存储，返回可长期引用的路径
type FileStore interface {
	Upload(ctx context.Context, file *types.CandidateFile) (*types.UploadResult, error)
}

// KVStore 字符串键值存储
type KVStore interface {
	Set(ctx context.Context, key string, value string) error
}

// FeedbackAnalyzer AI 反馈服务，documentPath 为已上传的简历路径
type FeedbackAnalyzer interface {
	Feedback(ctx context.Context, documentPath string, instructions string) (*types.AIResponse, error)
}

// ImageConverter 把原始 PDF 转成预览图
type ImageConverter interface {
	Convert(ctx context.Context, file *types.CandidateFile) (*types.ConversionResult, error)
}

// IDGenerator 生成全局唯一ID
type IDGenerator interface {
	NewID() (string, error)
}

// ReleaseFunc 释放运行锁
type ReleaseFunc func(ctx context.Context) error

// RunLocker 会话级运行锁，已被持有时返回 ErrRunInProgress
type RunLocker interface {
	Acquire(ctx context.Context, sessionID string) (ReleaseFunc, error)
}

// InstructionBuilder 根据岗位信息生成发给 AI 的指令
type InstructionBuilder func(jobTitle, jobDescription string) string

// Capabilities 流水线依赖的全部外部能力，由调用方显式传入
type Capabilities struct {
	Files        FileStore
	KV           KVStore
	Analyzer     FeedbackAnalyzer
	Converter    ImageConverter
	IDs          IDGenerator
	Locks        RunLocker
	Statuses     *StatusBoard
	Instructions InstructionBuilder
}
