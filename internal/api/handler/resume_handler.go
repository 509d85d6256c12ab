package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/processor"
	"resumind-go/internal/storage"
	"resumind-go/internal/types"
	"resumind-go/pkg/utils"

	"github.com/cloudwego/hertz/pkg/app"
	hzutils "github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// 表单字段名，与前端上传表单保持一致
const (
	FormFieldFile           = "file"
	FormFieldCompanyName    = "company-name"
	FormFieldJobTitle       = "job-title"
	FormFieldJobDescription = "job-description"
)

// RecordReader 简历记录查询
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (*types.ResumeRecord, error)
	ListRecords(ctx context.Context, page, pageSize int) ([]types.ResumeSummary, int, error)
}

// FileOpener 按存储路径读取对象
type FileOpener interface {
	Open(ctx context.Context, objectPath string) (io.ReadCloser, *storage.ObjectInfo, error)
}

// RunInspector 查询会话运行锁
type RunInspector interface {
	Inspect(ctx context.Context, sessionID string) (types.RunInfo, error)
}

// HealthChecker 依赖服务连通性检查
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AnalyzeResponse 提交分析后的响应
type AnalyzeResponse struct {
	SessionID string           `json:"sessionId"`
	Status    processor.Status `json:"status"`
}

// StatusResponse 会话状态查询响应
type StatusResponse struct {
	Status     processor.Status `json:"status"`
	Started    bool             `json:"started"`
	Processing bool             `json:"processing"`
}

// ListResponse 简历列表响应
type ListResponse struct {
	Items    []types.ResumeSummary `json:"items"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// ResumeHandler 简历上传分析与结果查询
type ResumeHandler struct {
	pipeline   *processor.ResumePipeline
	records    RecordReader
	files      FileOpener
	runs       RunInspector
	health     HealthChecker
	runTimeout time.Duration
	// runDone 每次后台运行结束后回调，测试用
	runDone  func(*processor.Result, error)
	inflight sync.WaitGroup
}

// HandlerOption ResumeHandler 选项
type HandlerOption func(*ResumeHandler)

// WithRunTimeout 后台运行的超时时间
func WithRunTimeout(d time.Duration) HandlerOption {
	return func(h *ResumeHandler) {
		if d > 0 {
			h.runTimeout = d
		}
	}
}

// WithRunInspector 状态查询时附带锁信息
func WithRunInspector(runs RunInspector) HandlerOption {
	return func(h *ResumeHandler) {
		h.runs = runs
	}
}

// WithHealthCheck 健康检查时探测依赖服务
func WithHealthCheck(checker HealthChecker) HandlerOption {
	return func(h *ResumeHandler) {
		h.health = checker
	}
}

// WithRunCallback 后台运行结束时回调
func WithRunCallback(fn func(*processor.Result, error)) HandlerOption {
	return func(h *ResumeHandler) {
		h.runDone = fn
	}
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(pipeline *processor.ResumePipeline, records RecordReader, files FileOpener, opts ...HandlerOption) *ResumeHandler {
	h := &ResumeHandler{
		pipeline:   pipeline,
		records:    records,
		files:      files,
		runTimeout: constants.DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func sessionOf(c *app.RequestContext) string {
	return c.GetString(constants.SessionContextKey)
}

// HandleAnalyze 接收上传表单，校验通过后在后台执行分析流水线
func (h *ResumeHandler) HandleAnalyze(ctx context.Context, c *app.RequestContext) {
	sessionID := sessionOf(c)
	if sessionID == "" {
		c.JSON(consts.StatusUnauthorized, hzutils.H{"error": "缺少会话令牌"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(consts.StatusBadRequest, hzutils.H{"error": "解析上传表单失败"})
		return
	}

	// 只有第一个文件会被处理，先用元数据校验，避免读取被拒绝的大文件
	headers := form.File[FormFieldFile]
	candidates := make([]*types.CandidateFile, 0, len(headers))
	for _, fh := range headers {
		candidates = append(candidates, candidateFromHeader(fh))
	}
	selected, err := h.pipeline.Validator().SelectFile(candidates)
	if err != nil {
		h.writePipelineError(c, sessionID, err)
		return
	}
	if err := readCandidate(headers[0], selected); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Str("file", selected.Name).Msg("读取上传文件失败")
		c.JSON(consts.StatusBadRequest, hzutils.H{"error": "读取上传文件失败"})
		return
	}

	req := processor.AnalyzeRequest{
		Files:          []*types.CandidateFile{selected},
		CompanyName:    formValue(form, FormFieldCompanyName),
		JobTitle:       formValue(form, FormFieldJobTitle),
		JobDescription: formValue(form, FormFieldJobDescription),
	}

	run, err := h.pipeline.Begin(ctx, sessionID, req)
	if err != nil {
		h.writePipelineError(c, sessionID, err)
		return
	}

	h.inflight.Add(1)
	go h.execute(run)

	status, _ := h.pipeline.Statuses().Lookup(sessionID)
	logger.Info().
		Str("session_id", sessionID).
		Str("file", selected.Name).
		Int64("size", selected.Size).
		Str("md5", utils.CalculateMD5(selected.Data)).
		Str("job_title", req.JobTitle).
		Msg("简历分析任务已提交")
	c.JSON(consts.StatusAccepted, AnalyzeResponse{SessionID: sessionID, Status: status})
}

func (h *ResumeHandler) execute(run *processor.Run) {
	defer h.inflight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()
	result, err := run.Execute(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", run.SessionID()).Msg("后台分析运行失败")
	}
	if h.runDone != nil {
		h.runDone(result, err)
	}
}

// Wait 等待所有后台运行结束，ctx 结束时提前返回
func (h *ResumeHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *ResumeHandler) writePipelineError(c *app.RequestContext, sessionID string, err error) {
	switch {
	case errors.Is(err, processor.ErrRejectedInput):
		c.JSON(consts.StatusBadRequest, hzutils.H{"error": err.Error()})
	case errors.Is(err, processor.ErrRunInProgress):
		status, _ := h.pipeline.Statuses().Lookup(sessionID)
		c.JSON(consts.StatusConflict, hzutils.H{"error": processor.ErrRunInProgress.Error(), "status": status})
	case errors.Is(err, processor.ErrLockUnavailable):
		logger.Error().Err(err).Str("session_id", sessionID).Msg("获取会话运行锁失败")
		c.JSON(consts.StatusServiceUnavailable, hzutils.H{"error": "服务暂不可用，请稍后重试"})
	default:
		logger.Error().Err(err).Str("session_id", sessionID).Msg("启动分析流水线失败")
		c.JSON(consts.StatusInternalServerError, hzutils.H{"error": "启动分析失败"})
	}
}

// HandleGetStatus 查询当前会话最近一次运行的状态
func (h *ResumeHandler) HandleGetStatus(ctx context.Context, c *app.RequestContext) {
	sessionID := sessionOf(c)
	if sessionID == "" {
		c.JSON(consts.StatusUnauthorized, hzutils.H{"error": "缺少会话令牌"})
		return
	}

	status, started := h.pipeline.Statuses().Lookup(sessionID)
	resp := StatusResponse{
		Status:     status,
		Started:    started,
		Processing: started && !status.Terminal(),
	}
	if h.runs != nil {
		info, err := h.runs.Inspect(ctx, sessionID)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", sessionID).Msg("查询会话运行锁失败")
		} else {
			resp.Processing = resp.Processing || info.Processing
		}
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleGetResume 按ID读取简历记录
func (h *ResumeHandler) HandleGetResume(ctx context.Context, c *app.RequestContext) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(consts.StatusBadRequest, hzutils.H{"error": "简历ID不能为空"})
		return
	}

	record, err := h.records.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			c.JSON(consts.StatusNotFound, hzutils.H{"error": "简历不存在"})
			return
		}
		logger.Error().Err(err).Str("resume_id", id).Msg("读取简历记录失败")
		c.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}
	c.JSON(consts.StatusOK, record)
}

// HandleListResumes 分页列出简历摘要
func (h *ResumeHandler) HandleListResumes(ctx context.Context, c *app.RequestContext) {
	page := 1
	pageSize := 10
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}

	items, total, err := h.records.ListRecords(ctx, page, pageSize)
	if err != nil {
		logger.Error().Err(err).Int("page", page).Msg("列出简历记录失败")
		c.JSON(consts.StatusInternalServerError, hzutils.H{"error": "列出简历记录失败"})
		return
	}
	if items == nil {
		items = []types.ResumeSummary{}
	}
	c.JSON(consts.StatusOK, ListResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// HandleDownloadFile 按记录中的存储路径下载原始简历或预览图
func (h *ResumeHandler) HandleDownloadFile(ctx context.Context, c *app.RequestContext) {
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	if strings.Trim(objectPath, "/") == "" {
		c.JSON(consts.StatusBadRequest, hzutils.H{"error": "文件路径不能为空"})
		return
	}

	rc, info, err := h.files.Open(ctx, objectPath)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidObjectPath):
			c.JSON(consts.StatusBadRequest, hzutils.H{"error": "文件路径无效"})
		case errors.Is(err, storage.ErrObjectNotFound):
			c.JSON(consts.StatusNotFound, hzutils.H{"error": "文件不存在"})
		default:
			logger.Error().Err(err).Str("path", objectPath).Msg("读取存储对象失败")
			c.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取文件失败"})
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name))
	c.SetContentType(info.ContentType)
	c.SetStatusCode(consts.StatusOK)
	// 响应写完后由 hertz 关闭 rc
	c.SetBodyStream(rc, int(info.Size))
}

// Health 存活检查，配置了 HealthChecker 时同时探测依赖
func (h *ResumeHandler) Health(ctx context.Context, c *app.RequestContext) {
	if h.health != nil {
		if err := h.health.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("健康检查失败")
			c.JSON(consts.StatusServiceUnavailable, hzutils.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(consts.StatusOK, hzutils.H{"status": "ok"})
}

func candidateFromHeader(fh *multipart.FileHeader) *types.CandidateFile {
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
			mimeType = byExt
		}
	}
	// 去掉 charset 等参数
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}
	return &types.CandidateFile{
		Name:     filepath.Base(fh.Filename),
		Size:     fh.Size,
		MIMEType: mimeType,
	}
}

func readCandidate(fh *multipart.FileHeader, file *types.CandidateFile) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	file.Data = data
	file.Size = int64(len(data))
	return nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
