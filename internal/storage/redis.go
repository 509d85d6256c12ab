package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"resumind-go/internal/config"
	"resumind-go/internal/tracing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("resumind-go/storage/redis")

// 按键前缀的span采样率，redisotel 已覆盖命令级别的追踪
var redisKeySamplingRates = map[string]float64{
	"resume:":            0.25,
	"app:pipeline:lock:": 0.5,
}

// 释放锁: 仅当值与持有者令牌一致时删除
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return rand.Float64() < rate
		}
	}
	return rand.Float64() < 0.05
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	})

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return newRedis(client, cfg), nil
}

func newRedis(client *redis.Client, cfg *config.RedisConfig) *Redis {
	return &Redis{Client: client, config: cfg}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	if !shouldSampleRedisOp(key) {
		return ctx, nil
	}
	ctx, span := redisTracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", operation),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		attribute.String("db.redis.database", fmt.Sprintf("%d", r.config.DB)),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Get 获取键的值，键不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}
	ctx, span := r.startSpan(ctx, "Redis.Get", "GET", key)
	val, err := r.Client.Get(ctx, key).Result()
	if span != nil && err == nil {
		span.SetAttributes(attribute.Int("db.redis.value_length", len(val)))
	}
	endSpan(span, err)
	return val, err
}

// Set 写入不过期的键值，整体覆盖旧值
func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.SetWithTTL(ctx, key, value, 0)
}

// SetWithTTL 写入带过期时间的键值，expiration 为 0 表示不过期
func (r *Redis) SetWithTTL(ctx context.Context, key, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	ctx, span := r.startSpan(ctx, "Redis.Set", "SET", key)
	if span != nil {
		span.SetAttributes(attribute.Int("db.redis.value_length", len(value)))
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}
	err := r.Client.Set(ctx, key, value, expiration).Err()
	endSpan(span, err)
	return err
}

// MGet 批量读取，缺失的键在结果中为空字符串且 ok 为 false
func (r *Redis) MGet(ctx context.Context, keys ...string) ([]string, []bool, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	vals, err := r.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	out := make([]string, len(vals))
	found := make([]bool, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
			found[i] = true
		}
	}
	return out, found, nil
}

// ScanKeys 使用 SCAN 遍历匹配的键，避免 KEYS 阻塞服务端
func (r *Redis) ScanKeys(ctx context.Context, pattern string, batch int64) ([]string, error) {
	if r.Client == nil {
		return nil, fmt.Errorf("redis客户端未初始化")
	}
	if batch <= 0 {
		batch = 100
	}
	ctx, span := redisTracer.Start(ctx, "Redis.ScanKeys", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(semconv.DBSystemRedis, attribute.String("db.redis.pattern", pattern))

	var keys []string
	iter := r.Client.Scan(ctx, 0, pattern, batch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("扫描键 %s 失败: %w", pattern, err)
	}
	span.SetAttributes(attribute.Int("db.redis.key_count", len(keys)))
	return keys, nil
}

// AcquireLock 尝试获取分布式锁，成功时返回持有者令牌，被占用时令牌为空
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放分布式锁，使用Lua脚本保证只删除自己持有的锁
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	res, err := r.Client.Eval(ctx, releaseLockScript, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}
	released, ok := res.(int64)
	return ok && released == 1, nil
}

// LockTTL 返回锁的剩余时间，锁不存在时返回 0
func (r *Redis) LockTTL(ctx context.Context, lockKey string) (time.Duration, error) {
	ttl, err := r.Client.PTTL(ctx, lockKey).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
