package processor

import (
	"errors"
	"fmt"
	"strings"
)

// 定义基础错误类型，每一种都会终止当前运行
var (
	ErrRejectedInput      = errors.New("文件未通过校验")
	ErrRunInProgress      = errors.New("当前会话已有分析任务在运行")
	ErrLockUnavailable    = errors.New("获取会话运行锁失败")
	ErrRunAlreadyExecuted = errors.New("该运行已执行过")
	ErrUploadFailed       = errors.New("上传简历文件失败")
	ErrConversionFailed   = errors.New("PDF转图片失败")
	ErrImageUploadFailed  = errors.New("上传预览图失败")
	ErrIDGeneration       = errors.New("生成简历ID失败")
	ErrCheckpointFailed   = errors.New("写入初始简历记录失败")
	ErrAnalysisFailed     = errors.New("AI分析简历失败")
	ErrEmptyContentBlocks = errors.New("AI响应内容块为空")
	ErrMalformedAnalysis  = errors.New("AI分析结果不是合法JSON")
	ErrFinalPersistFailed = errors.New("写入最终简历记录失败")
	ErrRecordMismatch     = errors.New("记录ID不匹配")
)

// PipelineError 包含失败阶段与上下文的错误
type PipelineError struct {
	Stage     Stage
	SessionID string
	ResumeID  string
	BaseErr   error
	Cause     error
	Detail    string
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.BaseErr.Error())
	fmt.Fprintf(&b, " (阶段:%s", e.Stage)
	if e.SessionID != "" {
		fmt.Fprintf(&b, ", 会话:%s", e.SessionID)
	}
	if e.ResumeID != "" {
		fmt.Fprintf(&b, ", ID:%s", e.ResumeID)
	}
	b.WriteString(")")
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap 同时暴露基础错误与底层原因
func (e *PipelineError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.Cause}
}

// StageOf 返回错误所属阶段，非流水线错误返回空
func StageOf(err error) Stage {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return ""
}

func newRejectedError(detail string) error {
	return &PipelineError{
		Stage:   StageIdle,
		BaseErr: ErrRejectedInput,
		Detail:  detail,
	}
}
