package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"resumind-go/internal/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// TokenBucket 令牌桶限流器
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // 每秒生成的令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	retryWait  time.Duration
	maxRetries int
	now        func() time.Time
}

// NewTokenBucket 按每分钟请求数创建，capacity 非正时取 QPM 的一半
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 1
	}
	if capacity <= 0 {
		capacity = max(qpm/2, 1)
	}
	return &TokenBucket{
		rate:       float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		retryWait:  time.Second,
		maxRetries: 3,
		now:        time.Now,
	}
}

// WithRetryPolicy 设置重试策略
func (tb *TokenBucket) WithRetryPolicy(wait time.Duration, maxRetries int) *TokenBucket {
	tb.retryWait = wait
	tb.maxRetries = maxRetries
	return tb
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.rate)
}

// Allow 非阻塞地尝试消耗一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryWithBackoff 拿到令牌后执行 fn，可重试错误按指数退避重试
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for retry := 0; retry <= tb.maxRetries; retry++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryableError(err) || retry >= tb.maxRetries {
			return err
		}

		backoff := tb.retryWait * time.Duration(1<<uint(retry))
		logger.Warn().Err(err).Int("retry", retry+1).Dur("backoff", backoff).Msg("LLM调用失败，准备重试")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

var retryableMarkers = []string{
	"timeout",
	"deadline exceeded",
	"connection reset",
	"EOF",
	"connection refused",
	"429 Too Many Requests",
	"rate limit",
	"服务器繁忙",
	"请求超过限额",
}

func isRetryableError(err error) bool {
	if err == nil || err == context.Canceled {
		return false
	}
	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RateLimitedLLMModel 对模型调用进行限流与重试的代理
type RateLimitedLLMModel struct {
	original model.ToolCallingChatModel
	limiter  *TokenBucket
}

var _ model.ToolCallingChatModel = (*RateLimitedLLMModel)(nil)

// NewRateLimitedLLMModel 创建限流代理
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, limiter *TokenBucket) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{original: original, limiter: limiter}
}

// Generate 代理 Generate，增加限流和重试
func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var resp *schema.Message
	err := rl.limiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		resp, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return resp, err
}

// Stream 代理 Stream
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.limiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 绑定工具后的模型共享同一个限流器
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{original: bound, limiter: rl.limiter}, nil
}

// NewLLMWithRateLimit 按模型的 QPM 配置包一层限流，取配置值的 90%，未配置时使用 fallbackQPM。
// maxRetries 为 0 时只做限流，不重试
func NewLLMWithRateLimit(original model.ToolCallingChatModel, modelName string, qpmLimits map[string]int, fallbackQPM int, maxRetries int, retryWait time.Duration) model.ToolCallingChatModel {
	qpm := fallbackQPM
	if limit, ok := qpmLimits[modelName]; ok && limit > 0 {
		qpm = int(float64(limit) * 0.9)
	}
	if qpm <= 0 {
		qpm = 30
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryWait <= 0 {
		retryWait = time.Second
	}
	limiter := NewTokenBucket(qpm, qpm/2).WithRetryPolicy(retryWait, maxRetries)
	return NewRateLimitedLLMModel(original, limiter)
}
