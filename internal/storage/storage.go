package storage

import (
	"fmt"
	"io"
	"log"
	"os"

	"resumind-go/internal/config"
	"resumind-go/internal/logger"
)

// Storage 存储管理器，聚合对象存储与键值存储
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 键值存储
	Redis *Redis

	// 简历记录查询
	Resumes *ResumeStore
}

// NewStorage 创建存储管理器，两个后端都是流水线必需的，任一失败即返回错误
func NewStorage(cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	// 根据配置决定 MinIO 的 logger
	var minioLogger *log.Logger
	if cfg.Logger.Level == "debug" || cfg.MinIO.EnableTestLogging {
		minioLogger = log.New(os.Stderr, "[MinIOStorage] ", log.LstdFlags|log.Lshortfile)
	} else {
		minioLogger = log.New(io.Discard, "", 0)
	}

	s := &Storage{}
	var err error

	s.MinIO, err = NewMinIO(&cfg.MinIO, minioLogger)
	if err != nil {
		return nil, fmt.Errorf("初始化MinIO失败: %w", err)
	}
	logger.Info().Str("endpoint", cfg.MinIO.Endpoint).Str("bucket", cfg.MinIO.BucketName).Msg("MinIO客户端初始化成功")

	s.Redis, err = NewRedisAdapter(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("初始化Redis失败: %w", err)
	}
	logger.Info().Str("address", cfg.Redis.Address).Msg("Redis客户端初始化成功")

	s.Resumes = NewResumeStore(s.Redis)
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	// MinIO 客户端基于 HTTP，无需显式关闭
}
