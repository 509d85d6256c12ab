package types

import (
	"bytes"
	"encoding/json"
	"time"

	"resumind-go/pkg/utils"
)

// CandidateFile 用户选中的待处理文件，仅存在于单次流水线运行中
type CandidateFile struct {
	Name     string // 原始文件名
	Size     int64  // 字节数
	MIMEType string // 如 application/pdf
	Data     []byte // 文件内容
}

// UploadResult 对象存储返回的结果
type UploadResult struct {
	Path string `json:"path"` // 存储句柄，形如 bucket/object
}

// ConversionResult PDF 转图片的结果，File 为 nil 表示未生成图片
type ConversionResult struct {
	File *CandidateFile
}

// EmptyFeedback 尚未分析时 feedback 字段的取值 (JSON 空字符串)
var EmptyFeedback = json.RawMessage(`""`)

// ResumeRecord 一次分析运行产生的持久化记录，以 resume:{id} 存入 KV
type ResumeRecord struct {
	ID             string          `json:"id"`
	ResumePath     string          `json:"resumePath"`
	ImagePath      string          `json:"imagePath"`
	CompanyName    string          `json:"companyName"`
	JobTitle       string          `json:"jobTitle"`
	JobDescription string          `json:"jobDescription"`
	Feedback       json.RawMessage `json:"feedback"`
}

// Analyzed 判断记录是否已写入分析结果
func (r *ResumeRecord) Analyzed() bool {
	if r == nil || len(r.Feedback) == 0 {
		return false
	}
	trimmed := bytes.TrimSpace(r.Feedback)
	return !bytes.Equal(trimmed, EmptyFeedback) && !bytes.Equal(trimmed, []byte("null"))
}

// ParsedFeedback 将 feedback 解码为 ATSFeedback，未分析时返回 nil
func (r *ResumeRecord) ParsedFeedback() (*ATSFeedback, error) {
	if !r.Analyzed() {
		return nil, nil
	}
	var fb ATSFeedback
	if err := json.Unmarshal(r.Feedback, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// FeedbackTip 单条建议
type FeedbackTip struct {
	Type        string `json:"type"` // good | improve
	Tip         string `json:"tip"`
	Explanation string `json:"explanation,omitempty"`
}

// FeedbackCategory 某一维度的得分与建议
type FeedbackCategory struct {
	Score int           `json:"score"`
	Tips  []FeedbackTip `json:"tips"`
}

// ATSFeedback AI 返回的结构化评估结果
type ATSFeedback struct {
	OverallScore int              `json:"overallScore"`
	ATS          FeedbackCategory `json:"ATS"`
	ToneAndStyle FeedbackCategory `json:"toneAndStyle"`
	Content      FeedbackCategory `json:"content"`
	Structure    FeedbackCategory `json:"structure"`
	Skills       FeedbackCategory `json:"skills"`
}

// ResumeSummary 列表页展示用的摘要
type ResumeSummary struct {
	ID           string `json:"id"`
	CompanyName  string `json:"companyName"`
	JobTitle     string `json:"jobTitle"`
	ImagePath    string `json:"imagePath"`
	Analyzed     bool   `json:"analyzed"`
	OverallScore *int   `json:"overallScore,omitempty"`
}

// Summarize 生成记录摘要，feedback 无法解析时不返回分数
func (r *ResumeRecord) Summarize() ResumeSummary {
	s := ResumeSummary{
		ID:          r.ID,
		CompanyName: r.CompanyName,
		JobTitle:    r.JobTitle,
		ImagePath:   r.ImagePath,
		Analyzed:    r.Analyzed(),
	}
	if fb, err := r.ParsedFeedback(); err == nil && fb != nil {
		s.OverallScore = utils.IntPtr(fb.OverallScore)
	}
	return s
}

// RunInfo 会话当前运行的锁信息，用于状态查询
type RunInfo struct {
	Processing bool          `json:"processing"`
	TTL        time.Duration `json:"-"`
}
