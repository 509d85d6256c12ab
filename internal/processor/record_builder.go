package processor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"resumind-go/internal/types"
)

// RecordInput 构建初始记录所需的字段
type RecordInput struct {
	ID             string
	ResumePath     string
	ImagePath      string
	CompanyName    string
	JobTitle       string
	JobDescription string
}

// BuildRecord 生成 feedback 为空标记的初始记录
func BuildRecord(in RecordInput) *types.ResumeRecord {
	return &types.ResumeRecord{
		ID:             in.ID,
		ResumePath:     in.ResumePath,
		ImagePath:      in.ImagePath,
		CompanyName:    in.CompanyName,
		JobTitle:       in.JobTitle,
		JobDescription: in.JobDescription,
		Feedback:       append(json.RawMessage(nil), types.EmptyFeedback...),
	}
}

// WithFeedback 返回只替换了 feedback 的记录副本
func WithFeedback(record *types.ResumeRecord, id string, feedback []byte) (*types.ResumeRecord, error) {
	if record == nil || record.ID != id {
		return nil, ErrRecordMismatch
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, feedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}
	updated := *record
	updated.Feedback = json.RawMessage(buf.Bytes())
	return &updated, nil
}
