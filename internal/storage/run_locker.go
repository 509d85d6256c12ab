package storage

import (
	"context"
	"fmt"
	"time"

	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/processor"
	"resumind-go/internal/types"
)

// RedisRunLocker 基于 Redis SETNX 的会话运行锁，多实例部署时共享
type RedisRunLocker struct {
	redis *Redis
	ttl   time.Duration
}

var _ processor.RunLocker = (*RedisRunLocker)(nil)

// NewRedisRunLocker 创建运行锁，ttl 为锁的兜底过期时间
func NewRedisRunLocker(r *Redis, ttl time.Duration) *RedisRunLocker {
	if ttl <= 0 {
		ttl = constants.DefaultRunLockTTL
	}
	return &RedisRunLocker{redis: r, ttl: ttl}
}

func runLockKey(sessionID string) string {
	return fmt.Sprintf(constants.KeyPipelineRunLock, sessionID)
}

// Acquire 实现 processor.RunLocker
func (l *RedisRunLocker) Acquire(ctx context.Context, sessionID string) (processor.ReleaseFunc, error) {
	key := runLockKey(sessionID)
	token, err := l.redis.AcquireLock(ctx, key, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("获取运行锁 %s 失败: %w", key, err)
	}
	if token == "" {
		return nil, processor.ErrRunInProgress
	}

	return func(ctx context.Context) error {
		released, err := l.redis.ReleaseLock(ctx, key, token)
		if err != nil {
			return fmt.Errorf("释放运行锁 %s 失败: %w", key, err)
		}
		if !released {
			// 锁已过期或被其他运行接管
			logger.Warn().Str("lock_key", key).Msg("运行锁已不属于当前运行，跳过释放")
		}
		return nil
	}, nil
}

// Inspect 查询会话当前是否有运行在进行
func (l *RedisRunLocker) Inspect(ctx context.Context, sessionID string) (types.RunInfo, error) {
	ttl, err := l.redis.LockTTL(ctx, runLockKey(sessionID))
	if err != nil {
		return types.RunInfo{}, fmt.Errorf("查询运行锁失败: %w", err)
	}
	return types.RunInfo{Processing: ttl > 0, TTL: ttl}, nil
}
