package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/types"
)

// ErrRecordNotFound 简历记录不存在
var ErrRecordNotFound = errors.New("简历记录不存在")

// ResumeStore 读取流水线写入 KV 的简历记录
type ResumeStore struct {
	redis *Redis
}

// NewResumeStore 创建简历记录读取器
func NewResumeStore(r *Redis) *ResumeStore {
	return &ResumeStore{redis: r}
}

// ResumeKey 返回简历记录的键
func ResumeKey(id string) string {
	return fmt.Sprintf(constants.KeyResumeRecord, id)
}

// GetRecord 按ID读取简历记录
func (s *ResumeStore) GetRecord(ctx context.Context, id string) (*types.ResumeRecord, error) {
	raw, err := s.redis.Get(ctx, ResumeKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取简历记录 %s 失败: %w", id, err)
	}
	var record types.ResumeRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("解析简历记录 %s 失败: %w", id, err)
	}
	return &record, nil
}

// ListRecords 分页列出简历摘要，按ID排序，page 从 1 开始
func (s *ResumeStore) ListRecords(ctx context.Context, page, pageSize int) ([]types.ResumeSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	keys, err := s.redis.ScanKeys(ctx, constants.KeyResumeRecordPattern, 200)
	if err != nil {
		return nil, 0, err
	}
	// SCAN 可能返回重复键
	sort.Strings(keys)
	keys = compactSorted(keys)
	total := len(keys)

	start := (page - 1) * pageSize
	if start >= total {
		return []types.ResumeSummary{}, total, nil
	}
	end := min(start+pageSize, total)

	vals, found, err := s.redis.MGet(ctx, keys[start:end]...)
	if err != nil {
		return nil, 0, fmt.Errorf("批量读取简历记录失败: %w", err)
	}

	summaries := make([]types.ResumeSummary, 0, len(vals))
	for i, raw := range vals {
		if !found[i] {
			continue
		}
		var record types.ResumeRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			logger.Warn().Err(err).Str("key", keys[start+i]).Msg("跳过无法解析的简历记录")
			continue
		}
		if record.ID == "" {
			record.ID = strings.TrimPrefix(keys[start+i], constants.ResumeKeyPrefix)
		}
		summaries = append(summaries, record.Summarize())
	}
	return summaries, total, nil
}

func compactSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
