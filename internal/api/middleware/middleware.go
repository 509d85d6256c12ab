package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"resumind-go/internal/config"
	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionHeader = "X-Session-Token"

// SessionAuth 从请求头读取会话令牌，校验通过后写入 constants.SessionContextKey。
// 未配置令牌列表时接受任意非空令牌，令牌只用于区分会话。
func SessionAuth(cfg config.AuthConfig) app.HandlerFunc {
	header := strings.TrimSpace(cfg.SessionHeader)
	if header == "" {
		header = defaultSessionHeader
	}
	allowed := make([]string, 0, len(cfg.SessionTokens))
	for _, t := range cfg.SessionTokens {
		if t = strings.TrimSpace(t); t != "" {
			allowed = append(allowed, t)
		}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+header, ""),
		keyauth.WithContextKey(constants.SessionContextKey),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			key = strings.TrimSpace(key)
			if key == "" {
				return false, nil
			}
			if len(allowed) == 0 {
				return true, nil
			}
			for _, t := range allowed {
				if subtle.ConstantTimeCompare([]byte(t), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, nil
		}),
		keyauth.WithErrorHandler(func(_ context.Context, c *app.RequestContext, err error) {
			logger.Debug().Err(err).Str("path", string(c.Path())).Msg("会话令牌校验失败")
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "会话令牌无效"})
		}),
	)
}

// AccessLog 记录请求方法、路径、状态码和耗时，5xx 同时标记到当前请求的 span
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		status := c.Response.StatusCode()

		event := logger.Info()
		if status >= consts.StatusInternalServerError {
			event = logger.Warn()
			tracing.RecordHTTPError(trace.SpanFromContext(ctx),
				fmt.Errorf("%d %s", status, consts.StatusMessage(status)), status)
		}
		event.
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP请求")
	}
}
