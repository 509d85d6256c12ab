package processor

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Settings 流水线运行参数
type Settings struct {
	// StrictCheckpoint 为 true 时，初始记录写入失败会终止运行
	StrictCheckpoint bool
	// ReleaseTimeout 释放运行锁的超时
	ReleaseTimeout time.Duration
}

// PipelineOption 流水线选项
type PipelineOption func(*ResumePipeline)

// WithStrictCheckpoint 设置初始记录写入失败时是否终止
func WithStrictCheckpoint(strict bool) PipelineOption {
	return func(p *ResumePipeline) {
		p.settings.StrictCheckpoint = strict
	}
}

// WithReleaseTimeout 设置释放运行锁的超时
func WithReleaseTimeout(d time.Duration) PipelineOption {
	return func(p *ResumePipeline) {
		if d > 0 {
			p.settings.ReleaseTimeout = d
		}
	}
}

// WithValidator 替换默认的输入校验器
func WithValidator(v *InputValidator) PipelineOption {
	return func(p *ResumePipeline) {
		if v != nil {
			p.validator = v
		}
	}
}

// WithTracer 指定 tracer，默认使用全局 TracerProvider
func WithTracer(tracer trace.Tracer) PipelineOption {
	return func(p *ResumePipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}
