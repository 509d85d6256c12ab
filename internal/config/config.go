package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	Server ServerConfig `yaml:"server"`

	// 会话鉴权配置
	Auth AuthConfig `yaml:"auth"`

	Aliyun struct {
		APIKey      string  `yaml:"api_key"`
		APIURL      string  `yaml:"api_url"`
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		Timeout     string  `yaml:"timeout"` // 单次请求超时，例如 "120s"
	} `yaml:"aliyun"`

	MinIO MinIOConfig `yaml:"minio"`

	Redis RedisConfig `yaml:"redis"`

	// 上传文件限制
	Upload UploadConfig `yaml:"upload"`

	// PDF转图片配置
	Converter ConverterConfig `yaml:"converter"`

	// 分析流水线配置
	Pipeline PipelineConfig `yaml:"pipeline"`

	Logger LoggerConfig `yaml:"logger"`

	Tracing TracingConfig `yaml:"tracing"`

	// 模型QPM限制
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080" or "0.0.0.0:8080"
}

// AuthConfig 会话令牌配置，令牌列表为空时任何非空令牌都被接受
type AuthConfig struct {
	SessionHeader string   `yaml:"session_header"`
	SessionTokens []string `yaml:"session_tokens"`
}

// MinIOConfig MinIO配置结构
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	BucketName      string `yaml:"bucketName"`
	Location        string `yaml:"location"` // 可选，存储桶区域
	// 上传对象过期天数，0 表示不设置生命周期
	UploadExpireDays  int  `yaml:"upload_expire_days"`
	EnableTestLogging bool `yaml:"enable_test_logging,omitempty"`
}

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"`
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"`
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"`
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`
}

// ConverterConfig PDF首页渲染参数
type ConverterConfig struct {
	Scale float64 `yaml:"scale"` // 相对 72 DPI 的缩放倍数
}

// PipelineConfig 分析流水线配置
type PipelineConfig struct {
	// 初始记录写入失败时是否终止运行，未配置时为 true
	StrictCheckpoint *bool  `yaml:"strict_checkpoint"`
	LockTTL          string `yaml:"lock_ttl"`    // 会话运行锁过期时间，例如 "10m"
	RunTimeout       string `yaml:"run_timeout"` // 单次运行超时，例如 "5m"
	// 使用 redis 保存运行锁，false 时使用进程内锁
	DistributedLock bool `yaml:"distributed_lock"`
}

// IsStrictCheckpoint 返回生效的检查点策略
func (p PipelineConfig) IsStrictCheckpoint() bool {
	if p.StrictCheckpoint == nil {
		return true
	}
	return *p.StrictCheckpoint
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
	FilePath     string `yaml:"file_path"`     // 非空时同时写入该文件
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC 地址，例如 "localhost:4317"
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件路径，则尝试在默认位置查找
	if configPath == "" {
		configPath = findConfigFile()
		if configPath == "" {
			return nil, fmt.Errorf("未找到配置文件 config.yaml")
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := createDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(config)
	applyDefaults(config)
	return config, nil
}

func findConfigFile() string {
	searchPaths := []string{
		"config.yaml",
		"../config.yaml",
		"../../config.yaml",
		filepath.Join(os.Getenv("HOME"), ".resumind", "config.yaml"),
	}

	// 可执行文件所在目录
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		searchPaths = append(searchPaths,
			filepath.Join(execDir, "config.yaml"),
			filepath.Join(execDir, "..", "config.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// 从环境变量覆盖配置（如果存在）
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ALIYUN_API_KEY"); v != "" {
		config.Aliyun.APIKey = v
	}
	if v := os.Getenv("ALIYUN_API_URL"); v != "" {
		config.Aliyun.APIURL = v
	}
	if v := os.Getenv("ALIYUN_MODEL"); v != "" {
		config.Aliyun.Model = v
	}
	if v := os.Getenv("REDIS_ADDRESS"); v != "" {
		config.Redis.Address = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		config.MinIO.Endpoint = v
	}
	if v := os.Getenv("RESUMIND_SESSION_TOKENS"); v != "" {
		config.Auth.SessionTokens = strings.Split(v, ",")
	}
}

// yaml 中显式写成零值的字段回填默认值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Auth.SessionHeader == "" {
		config.Auth.SessionHeader = "X-Session-Token"
	}
	if config.Upload.MaxFileSizeBytes <= 0 {
		config.Upload.MaxFileSizeBytes = 20 * 1024 * 1024
	}
	if len(config.Upload.AllowedMIMETypes) == 0 {
		config.Upload.AllowedMIMETypes = []string{"application/pdf"}
	}
	if config.Converter.Scale <= 0 {
		config.Converter.Scale = 4
	}
	if config.Tracing.SampleRatio <= 0 {
		config.Tracing.SampleRatio = 1
	}
}

// 创建一个默认配置
func createDefaultConfig() *Config {
	config := &Config{}
	config.Server.Address = ":8080"
	config.Auth.SessionHeader = "X-Session-Token"

	config.Aliyun.APIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	config.Aliyun.Model = "qwen-turbo"
	config.Aliyun.Temperature = 0.2
	config.Aliyun.MaxTokens = 4096
	config.Aliyun.Timeout = "120s"

	// MinIO默认配置
	config.MinIO.Endpoint = "localhost:9000"
	config.MinIO.AccessKeyID = "minioadmin"
	config.MinIO.SecretAccessKey = "minioadmin123"
	config.MinIO.BucketName = "resumes"
	config.MinIO.UploadExpireDays = 365

	// Redis默认配置
	config.Redis.Address = "localhost:6379"
	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 2
	config.Redis.DialTimeoutSeconds = 5
	config.Redis.ReadTimeoutSeconds = 3
	config.Redis.WriteTimeoutSeconds = 3
	config.Redis.MaxRetries = 3
	config.Redis.MinRetryBackoffMS = 8
	config.Redis.MaxRetryBackoffMS = 512
	config.Redis.ConnMaxLifetimeMinutes = 60
	config.Redis.ConnMaxIdleTimeMinutes = 30

	config.Upload.MaxFileSizeBytes = 20 * 1024 * 1024
	config.Upload.AllowedMIMETypes = []string{"application/pdf"}

	config.Converter.Scale = 4

	config.Pipeline.LockTTL = "10m"
	config.Pipeline.RunTimeout = "5m"
	config.Pipeline.DistributedLock = true

	// 日志默认配置
	config.Logger.Level = "info"
	config.Logger.Format = "pretty"
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	config.Tracing.ServiceName = "resumind-go"
	config.Tracing.Endpoint = "localhost:4317"
	config.Tracing.Insecure = true
	config.Tracing.SampleRatio = 1

	config.ModelQPMLimits = map[string]int{
		"qwen-max":   1200,
		"qwen-plus":  15000,
		"qwen-turbo": 1200,
	}
	return config
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	data, err := yaml.Marshal(createDefaultConfig())
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}
	return nil
}

// QPMForModel 返回模型的QPM限制，未配置时返回 0
func (c *Config) QPMForModel(model string) int {
	if c.ModelQPMLimits == nil {
		return 0
	}
	return c.ModelQPMLimits[model]
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
