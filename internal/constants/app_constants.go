package constants

import "time"

const (
	// MaxFileSize 上传简历的最大字节数 (20 MiB)
	MaxFileSize int64 = 20 * 1024 * 1024

	// MIMETypePDF 唯一接受的简历文件类型
	MIMETypePDF = "application/pdf"
	// MIMETypePNG 预览图类型
	MIMETypePNG = "image/png"

	// ResultPathPrefix 分析完成后的跳转路径前缀，格式: /resume/{id}
	ResultPathPrefix = "/resume/"

	// DefaultRunLockTTL 单个会话运行锁的默认过期时间
	DefaultRunLockTTL = 10 * time.Minute
	// DefaultRunTimeout 单次流水线运行的默认超时
	DefaultRunTimeout = 5 * time.Minute

	// DefaultRenderScale PDF首页渲染倍率 (72dpi * scale)
	DefaultRenderScale = 4.0

	// SessionContextKey keyauth 中间件写入会话令牌时使用的上下文键
	SessionContextKey = "session_token"
)
