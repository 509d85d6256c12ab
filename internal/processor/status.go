package processor

import (
	"errors"
	"sync"
	"time"
)

// Stage 流水线状态机中的阶段
type Stage string

const (
	StageIdle                    Stage = "idle"
	StageUploading               Stage = "uploading"
	StageConvertingToImage       Stage = "converting_to_image"
	StageUploadingImage          Stage = "uploading_image"
	StagePreparingRecord         Stage = "preparing_record"
	StagePersistingInitialRecord Stage = "persisting_initial_record"
	StageRequestingAnalysis      Stage = "requesting_analysis"
	StagePersistingFinalRecord   Stage = "persisting_final_record"
	StageComplete                Stage = "complete"
	StageError                   Stage = "error"
)

// 展示给用户的进度文案
const (
	TextUploading         = "Uploading the file..."
	TextConvertingToImage = "Converting to image..."
	TextUploadingImage    = "Uploading the image..."
	TextPreparingData     = "Preparing data..."
	TextAnalyzing         = "Analyzing..."
	TextComplete          = "Analysis complete, redirecting..."
)

// 各类失败对应的错误文案
const (
	TextErrUpload          = "Error: Failed to upload file"
	TextErrConversion      = "Error: Failed to convert PDF to image"
	TextErrImageUpload     = "Error: Failed to upload image"
	TextErrPrepare         = "Error: Failed to prepare data"
	TextErrCheckpoint      = "Error: Failed to save resume data"
	TextErrAnalysis        = "Error: Failed to analyze resume"
	TextErrEmptyContent    = "Error: Analysis response contained no content"
	TextErrMalformed       = "Error: Failed to parse analysis response"
	TextErrFinalPersist    = "Error: Failed to save analysis"
	textErrUnknownFallback = "Error: Resume analysis failed"
)

var errorTexts = []struct {
	err  error
	text string
}{
	{ErrUploadFailed, TextErrUpload},
	{ErrConversionFailed, TextErrConversion},
	{ErrImageUploadFailed, TextErrImageUpload},
	{ErrIDGeneration, TextErrPrepare},
	{ErrCheckpointFailed, TextErrCheckpoint},
	{ErrAnalysisFailed, TextErrAnalysis},
	{ErrEmptyContentBlocks, TextErrEmptyContent},
	{ErrMalformedAnalysis, TextErrMalformed},
	{ErrFinalPersistFailed, TextErrFinalPersist},
}

// ErrorText 把流水线错误映射为用户可见的错误文案
func ErrorText(err error) string {
	for _, et := range errorTexts {
		if errors.Is(err, et.err) {
			return et.text
		}
	}
	return textErrUnknownFallback
}

// Status 某一时刻的运行状态，不持久化
type Status struct {
	Stage           Stage     `json:"stage"`
	Text            string    `json:"text"`
	FailedStage     Stage     `json:"failedStage,omitempty"`
	ResumeID        string    `json:"resumeId,omitempty"`
	RedirectPath    string    `json:"redirectPath,omitempty"`
	CheckpointError string    `json:"checkpointError,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Terminal 是否处于终止状态
func (s Status) Terminal() bool {
	return s.Stage == StageComplete || s.Stage == StageError
}

// StatusReporter 单写单读的状态通道，每次写入覆盖上一次的值
type StatusReporter interface {
	Report(status Status)
	Current() Status
}

type statusSlot struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

func (s *statusSlot) Report(status Status) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *statusSlot) Current() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StatusBoard 按会话保存最近一次状态
type StatusBoard struct {
	mu    sync.Mutex
	slots map[string]*statusSlot
	now   func() time.Time
}

// NewStatusBoard 创建状态看板
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		slots: make(map[string]*statusSlot),
		now:   time.Now,
	}
}

// For 返回会话对应的状态通道，不存在时创建
func (b *StatusBoard) For(sessionID string) StatusReporter {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.slots[sessionID]
	if !ok {
		slot = &statusSlot{now: b.now, status: Status{Stage: StageIdle}}
		b.slots[sessionID] = slot
	}
	return slot
}

// Lookup 读取会话状态，会话从未运行过时 ok 为 false
func (b *StatusBoard) Lookup(sessionID string) (Status, bool) {
	b.mu.Lock()
	slot, ok := b.slots[sessionID]
	b.mu.Unlock()
	if !ok {
		return Status{Stage: StageIdle}, false
	}
	return slot.Current(), true
}
