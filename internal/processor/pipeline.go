package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/tracing"
	"resumind-go/internal/types"
	"resumind-go/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AnalyzeRequest 一次提交的全部输入
type AnalyzeRequest struct {
	Files          []*types.CandidateFile
	CompanyName    string
	JobTitle       string
	JobDescription string
}

// Result 成功运行的产出
type Result struct {
	ID            string
	RedirectPath  string
	Record        *types.ResumeRecord
	CheckpointErr error
}

// ResumePipeline 简历上传与分析的状态机
type ResumePipeline struct {
	caps      Capabilities
	validator *InputValidator
	settings  Settings
	tracer    trace.Tracer
}

// NewResumePipeline 创建流水线，能力集合中的每一项都必须提供
func NewResumePipeline(caps Capabilities, opts ...PipelineOption) (*ResumePipeline, error) {
	missing := make([]string, 0)
	if caps.Files == nil {
		missing = append(missing, "Files")
	}
	if caps.KV == nil {
		missing = append(missing, "KV")
	}
	if caps.Analyzer == nil {
		missing = append(missing, "Analyzer")
	}
	if caps.Converter == nil {
		missing = append(missing, "Converter")
	}
	if caps.IDs == nil {
		missing = append(missing, "IDs")
	}
	if caps.Locks == nil {
		missing = append(missing, "Locks")
	}
	if caps.Statuses == nil {
		missing = append(missing, "Statuses")
	}
	if caps.Instructions == nil {
		missing = append(missing, "Instructions")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("流水线缺少依赖: %v", missing)
	}

	p := &ResumePipeline{
		caps:      caps,
		validator: NewInputValidator(),
		settings: Settings{
			StrictCheckpoint: true,
			ReleaseTimeout:   5 * time.Second,
		},
		tracer: otel.Tracer("resumind-go/processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Validator 返回当前使用的输入校验器
func (p *ResumePipeline) Validator() *InputValidator {
	return p.validator
}

// Statuses 返回状态看板
func (p *ResumePipeline) Statuses() *StatusBoard {
	return p.caps.Statuses
}

// Run 已通过校验并持有会话锁、尚未执行的运行
type Run struct {
	p         *ResumePipeline
	sessionID string
	file      *types.CandidateFile
	req       AnalyzeRequest
	reporter  StatusReporter
	release   ReleaseFunc
	executed  atomic.Bool
	resumeID  string
}

// Begin 校验输入并获取会话锁；校验失败时不会触碰任何外部依赖
func (p *ResumePipeline) Begin(ctx context.Context, sessionID string, req AnalyzeRequest) (*Run, error) {
	file, err := p.validator.SelectFile(req.Files)
	if err != nil {
		logger.Info().Str("session_id", sessionID).Err(err).Msg("文件未通过校验，流水线不启动")
		return nil, err
	}

	release, err := p.caps.Locks.Acquire(ctx, sessionID)
	if err != nil {
		base := ErrLockUnavailable
		if errors.Is(err, ErrRunInProgress) {
			base = ErrRunInProgress
		}
		return nil, &PipelineError{Stage: StageIdle, SessionID: sessionID, BaseErr: base, Cause: err}
	}

	reporter := p.caps.Statuses.For(sessionID)
	reporter.Report(Status{Stage: StageIdle})

	return &Run{
		p:         p,
		sessionID: sessionID,
		file:      file,
		req:       req,
		reporter:  reporter,
		release:   release,
	}, nil
}

// Analyze 同步执行完整流水线
func (p *ResumePipeline) Analyze(ctx context.Context, sessionID string, req AnalyzeRequest) (*Result, error) {
	run, err := p.Begin(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// SessionID 运行所属会话
func (r *Run) SessionID() string {
	return r.sessionID
}

// Execute 按顺序执行各阶段，结束时总会释放会话锁
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	if !r.executed.CompareAndSwap(false, true) {
		return nil, ErrRunAlreadyExecuted
	}
	defer r.releaseLock()

	ctx, span := r.p.tracer.Start(ctx, "ResumePipeline.Execute",
		trace.WithAttributes(
			attribute.String("session.id", tracing.SafeAttributeValue("session_id", r.sessionID, tracing.DefaultMaxLength)),
			attribute.String("resume.file_name", tracing.TruncateString(r.file.Name, tracing.DefaultMaxLength)),
			attribute.Int64("resume.file_size", r.file.Size),
			attribute.String("job.title", tracing.TruncateString(r.req.JobTitle, tracing.DefaultMaxLength)),
		))
	defer span.End()

	start := time.Now()
	result, err := r.execute(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("resume.id", result.ID))
	logger.Info().
		Str("session_id", r.sessionID).
		Str("resume_id", result.ID).
		Dur("elapsed", time.Since(start)).
		Msg("简历分析流水线完成")
	return result, nil
}

func (r *Run) execute(ctx context.Context) (*Result, error) {
	caps := r.p.caps

	// 1. 上传原始文件
	sctx, span := r.enter(ctx, StageUploading, TextUploading)
	uploaded, err := caps.Files.Upload(sctx, r.file)
	if err != nil || uploaded == nil || uploaded.Path == "" {
		return nil, r.fail(span, StageUploading, ErrUploadFailed, err)
	}
	span.End()

	// 2. 基于原始文件生成预览图
	sctx, span = r.enter(ctx, StageConvertingToImage, TextConvertingToImage)
	converted, err := caps.Converter.Convert(sctx, r.file)
	if err != nil || converted == nil || converted.File == nil {
		return nil, r.fail(span, StageConvertingToImage, ErrConversionFailed, err)
	}
	span.End()

	// 3. 上传预览图
	sctx, span = r.enter(ctx, StageUploadingImage, TextUploadingImage)
	uploadedImage, err := caps.Files.Upload(sctx, converted.File)
	if err != nil || uploadedImage == nil || uploadedImage.Path == "" {
		return nil, r.fail(span, StageUploadingImage, ErrImageUploadFailed, err)
	}
	span.End()

	// 4. 生成ID并组装初始记录
	_, span = r.enter(ctx, StagePreparingRecord, TextPreparingData)
	id, err := caps.IDs.NewID()
	if err != nil || id == "" {
		return nil, r.fail(span, StagePreparingRecord, ErrIDGeneration, err)
	}
	r.resumeID = id
	record := BuildRecord(RecordInput{
		ID:             id,
		ResumePath:     uploaded.Path,
		ImagePath:      uploadedImage.Path,
		CompanyName:    r.req.CompanyName,
		JobTitle:       r.req.JobTitle,
		JobDescription: r.req.JobDescription,
	})
	span.End()

	// 5. 写入初始记录，作为调用 AI 前的检查点
	key := fmt.Sprintf(constants.KeyResumeRecord, id)
	sctx, span = r.enter(ctx, StagePersistingInitialRecord, TextPreparingData)
	checkpointErr := r.persist(sctx, key, record)
	if checkpointErr != nil {
		if r.p.settings.StrictCheckpoint {
			return nil, r.fail(span, StagePersistingInitialRecord, ErrCheckpointFailed, checkpointErr)
		}
		tracing.RecordError(span, checkpointErr, tracing.ErrorTypeRedis)
		logger.Warn().
			Err(checkpointErr).
			Str("session_id", r.sessionID).
			Str("resume_id", id).
			Msg("初始记录写入失败，继续执行分析")
	}
	span.End()

	// 6. 请求 AI 分析
	sctx, span = r.enter(ctx, StageRequestingAnalysis, TextAnalyzing)
	if checkpointErr != nil {
		r.reportCheckpointErr(checkpointErr)
	}
	instructions := caps.Instructions(r.req.JobTitle, r.req.JobDescription)
	span.SetAttributes(attribute.String("ai.instructions", tracing.SafePrompt(instructions)))
	resp, err := caps.Analyzer.Feedback(sctx, uploaded.Path, instructions)
	if err != nil || resp == nil {
		return nil, r.fail(span, StageRequestingAnalysis, ErrAnalysisFailed, err)
	}

	// 7. 提取反馈文本
	span.SetAttributes(attribute.String("ai.content_kind", resp.Message.Content.Kind.String()))
	text, err := resp.Message.Content.FeedbackText()
	if err != nil {
		base := ErrAnalysisFailed
		if errors.Is(err, types.ErrNoContentBlocks) {
			base = ErrEmptyContentBlocks
		}
		return nil, r.fail(span, StageRequestingAnalysis, base, err)
	}
	span.End()

	// 8. 解析 JSON 并覆盖写入完整记录
	sctx, span = r.enter(ctx, StagePersistingFinalRecord, "")
	cleaned := utils.CleanJSON(text)
	if !json.Valid([]byte(cleaned)) {
		return nil, r.fail(span, StagePersistingFinalRecord, ErrMalformedAnalysis,
			fmt.Errorf("响应内容: %s", tracing.TruncateString(text, tracing.DefaultMaxLength)))
	}
	final, err := WithFeedback(record, id, []byte(cleaned))
	if err != nil {
		return nil, r.fail(span, StagePersistingFinalRecord, ErrMalformedAnalysis, err)
	}
	if err := r.persist(sctx, key, final); err != nil {
		return nil, r.fail(span, StagePersistingFinalRecord, ErrFinalPersistFailed, err)
	}
	span.End()

	// 9. 完成
	redirect := constants.ResultPathPrefix + id
	done := Status{
		Stage:        StageComplete,
		Text:         TextComplete,
		ResumeID:     id,
		RedirectPath: redirect,
	}
	if checkpointErr != nil {
		done.CheckpointError = checkpointErr.Error()
	}
	r.reporter.Report(done)

	return &Result{
		ID:            id,
		RedirectPath:  redirect,
		Record:        final,
		CheckpointErr: checkpointErr,
	}, nil
}

// enter 更新状态并开启阶段 span，text 为空时沿用上一条文案
func (r *Run) enter(ctx context.Context, stage Stage, text string) (context.Context, trace.Span) {
	current := r.reporter.Current()
	if text == "" {
		text = current.Text
	}
	r.reporter.Report(Status{
		Stage:           stage,
		Text:            text,
		ResumeID:        r.resumeID,
		CheckpointError: current.CheckpointError,
	})
	logger.Debug().Str("session_id", r.sessionID).Str("stage", string(stage)).Msg("进入阶段")

	return r.p.tracer.Start(ctx, "stage."+string(stage))
}

// fail 记录失败、更新错误状态并结束 span
func (r *Run) fail(span trace.Span, stage Stage, base error, cause error) error {
	perr := &PipelineError{
		Stage:     stage,
		SessionID: r.sessionID,
		ResumeID:  r.resumeID,
		BaseErr:   base,
		Cause:     cause,
	}
	tracing.RecordError(span, perr, errorTypeFor(base))
	span.End()

	r.reporter.Report(Status{
		Stage:       StageError,
		Text:        ErrorText(base),
		FailedStage: stage,
		ResumeID:    r.resumeID,
	})

	logger.Error().
		Err(perr).
		Str("session_id", r.sessionID).
		Str("resume_id", r.resumeID).
		Str("stage", string(stage)).
		Msg("简历分析流水线失败")
	return perr
}

func (r *Run) persist(ctx context.Context, key string, record *types.ResumeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化简历记录失败: %w", err)
	}
	return r.p.caps.KV.Set(ctx, key, string(data))
}

func (r *Run) reportCheckpointErr(err error) {
	st := r.reporter.Current()
	st.CheckpointError = err.Error()
	st.UpdatedAt = time.Time{}
	r.reporter.Report(st)
}

func (r *Run) releaseLock() {
	if r.release == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.p.settings.ReleaseTimeout)
	defer cancel()
	if err := r.release(ctx); err != nil {
		logger.Warn().Err(err).Str("session_id", r.sessionID).Msg("释放会话运行锁失败")
	}
}

func errorTypeFor(base error) tracing.ErrorType {
	switch base {
	case ErrUploadFailed, ErrImageUploadFailed:
		return tracing.ErrorTypeObjectStorage
	case ErrConversionFailed:
		return tracing.ErrorTypeConversion
	case ErrCheckpointFailed, ErrFinalPersistFailed:
		return tracing.ErrorTypeRedis
	case ErrAnalysisFailed, ErrEmptyContentBlocks, ErrMalformedAnalysis:
		return tracing.ErrorTypeLLM
	default:
		return tracing.ErrorTypeInternal
	}
}
