package processor

import (
	"context"
	"sync"

	"resumind-go/internal/types"

	"github.com/gofrs/uuid/v5"
)

// LocalRunLocker 进程内运行锁，未配置 Redis 时使用
type LocalRunLocker struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewLocalRunLocker 创建进程内运行锁
func NewLocalRunLocker() *LocalRunLocker {
	return &LocalRunLocker{owners: make(map[string]string)}
}

// Acquire 实现 RunLocker
func (l *LocalRunLocker) Acquire(_ context.Context, sessionID string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.owners[sessionID]; held {
		return nil, ErrRunInProgress
	}
	token := uuid.Must(uuid.NewV4()).String()
	l.owners[sessionID] = token

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.owners[sessionID] == token {
			delete(l.owners, sessionID)
		}
		return nil
	}, nil
}

// Held 会话是否持有锁
func (l *LocalRunLocker) Held(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.owners[sessionID]
	return held
}

// Inspect 与 RedisRunLocker 保持一致的查询接口，进程内锁没有过期时间
func (l *LocalRunLocker) Inspect(_ context.Context, sessionID string) (types.RunInfo, error) {
	return types.RunInfo{Processing: l.Held(sessionID)}, nil
}

// UUIDGenerator 基于 UUIDv4 的 ID 生成器
type UUIDGenerator struct{}

// NewID 实现 IDGenerator
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
