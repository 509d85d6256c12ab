package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resumind-go/internal/api/handler"
	"resumind-go/internal/api/middleware"
	"resumind-go/internal/api/router"
	"resumind-go/internal/config"
	"resumind-go/internal/constants"
	"resumind-go/internal/llm"
	"resumind-go/internal/logger"
	"resumind-go/internal/parser"
	"resumind-go/internal/processor"
	"resumind-go/internal/storage"
	"resumind-go/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"       //nolint:gochecknoglobals
	serviceName = "resumind-go" //nolint:gochecknoglobals
)

const (
	// 送入模型的简历文本上限 (字符)
	maxResumeChars = 20000
	// 退出时等待后台分析运行的上限，超时后剩余运行的锁由过期时间兜底
	runDrainTimeout = 30 * time.Second
)

func main() {
	var (
		configPath string
		initConfig string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时自动查找 config.yaml")
	pflag.StringVar(&initConfig, "init-config", "", "生成示例配置文件到指定路径后退出")
	pflag.Parse()

	if initConfig != "" {
		if err := config.CreateSampleConfig(initConfig); err != nil {
			logger.Fatal().Err(err).Str("path", initConfig).Msg("生成示例配置失败")
		}
		logger.Info().Str("path", initConfig).Msg("示例配置已生成")
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	logCloser, err := initLogger(cfg.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化日志失败")
	}
	defer logCloser.Close()
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, serviceName, version)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	chatModel := initChatModel(cfg)

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		glog.Fatalf("创建Eino PDF提取器失败: %v", err)
	}
	analyzer := parser.NewLLMFeedbackAnalyzer(storageManager.MinIO, pdfExtractor, chatModel, maxResumeChars)
	converter := parser.NewFitzImageConverter(cfg.Converter.Scale)

	lockTTL := config.GetDuration(cfg.Pipeline.LockTTL, constants.DefaultRunLockTTL)
	var (
		locks     processor.RunLocker
		inspector handler.RunInspector
	)
	if cfg.Pipeline.DistributedLock {
		redisLocks := storage.NewRedisRunLocker(storageManager.Redis, lockTTL)
		locks, inspector = redisLocks, redisLocks
		glog.Infof("使用Redis会话运行锁，过期时间: %s", lockTTL)
	} else {
		localLocks := processor.NewLocalRunLocker()
		locks, inspector = localLocks, localLocks
		glog.Warn("使用进程内会话运行锁，多实例部署时无法互斥")
	}

	validator := processor.NewInputValidator(
		processor.WithMaxFileSize(cfg.Upload.MaxFileSizeBytes),
		processor.WithAllowedMIMETypes(cfg.Upload.AllowedMIMETypes...),
	)
	pipeline, err := processor.NewResumePipeline(processor.Capabilities{
		Files:        storageManager.MinIO,
		KV:           storageManager.Redis,
		Analyzer:     analyzer,
		Converter:    converter,
		IDs:          processor.UUIDGenerator{},
		Locks:        locks,
		Statuses:     processor.NewStatusBoard(),
		Instructions: parser.PrepareInstructions,
	},
		processor.WithStrictCheckpoint(cfg.Pipeline.IsStrictCheckpoint()),
		processor.WithValidator(validator),
	)
	if err != nil {
		glog.Fatalf("初始化分析流水线失败: %v", err)
	}
	glog.Infof("分析流水线初始化成功，严格检查点: %v", cfg.Pipeline.IsStrictCheckpoint())

	resumeHandler := handler.NewResumeHandler(pipeline, storageManager.Resumes, storageManager.MinIO,
		handler.WithRunTimeout(config.GetDuration(cfg.Pipeline.RunTimeout, constants.DefaultRunTimeout)),
		handler.WithRunInspector(inspector),
		handler.WithHealthCheck(storageManager.Redis),
	)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		// multipart 表单除文件外还有岗位描述等字段
		server.WithMaxRequestBodySize(int(validator.MaxFileSize())+1<<20),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg), middleware.AccessLog())

	router.RegisterRoutes(h, resumeHandler, middleware.SessionAuth(cfg.Auth))
	glog.Info("HTTP路由注册成功")

	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	// 存储在 defer 中关闭，必须先等后台运行结束
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), runDrainTimeout)
	defer cancelDrain()
	if err := resumeHandler.Wait(drainCtx); err != nil {
		glog.Warnf("等待后台分析运行结束超时: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化全局 zerolog，并让 hertz 的 hlog 复用同一个实例
func initLogger(cfg config.LoggerConfig) (io.Closer, error) {
	closer, err := logger.Init(logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
		FilePath:     cfg.FilePath,
	})
	if err != nil {
		return nil, err
	}

	glog.SetLogger(hertzadapter.From(logger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
	return closer, nil
}

// initChatModel 未配置 API Key 时回退到本地 mock 模型
func initChatModel(cfg *config.Config) model.ToolCallingChatModel {
	if cfg.Aliyun.APIKey == "" {
		glog.Warn("未配置通义千问 API Key，使用 MockChatClient 返回固定反馈")
		return llm.NewMockChatClient(`{"overallScore":0,"ATS":{"score":0,"tips":[]},"toneAndStyle":{"score":0,"tips":[]},"content":{"score":0,"tips":[]},"structure":{"score":0,"tips":[]},"skills":{"score":0,"tips":[]}}`, nil)
	}

	qwen, err := llm.NewQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL,
		llm.WithTemperature(cfg.Aliyun.Temperature),
		llm.WithMaxTokens(cfg.Aliyun.MaxTokens),
		llm.WithHTTPClient(&http.Client{Timeout: config.GetDuration(cfg.Aliyun.Timeout, 120*time.Second)}),
	)
	if err != nil {
		glog.Fatalf("初始化通义千问模型失败: %v", err)
	}
	// 一次分析只调用一次模型，失败即终止本次运行
	return llm.NewLLMWithRateLimit(qwen, qwen.ModelName(), cfg.ModelQPMLimits, 60, 0, time.Second)
}
