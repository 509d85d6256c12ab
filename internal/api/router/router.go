package router

import (
	"resumind-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
)

// RegisterRoutes 注册 API 路由，auth 为会话校验中间件，健康检查不经过它
func RegisterRoutes(h *server.Hertz, resumeHandler *handler.ResumeHandler, auth app.HandlerFunc) {
	h.GET("/health", resumeHandler.Health)

	api := h.Group("/api/v1")
	if auth != nil {
		api.Use(auth)
	}

	api.POST("/resumes", resumeHandler.HandleAnalyze)
	api.GET("/resumes", resumeHandler.HandleListResumes)
	api.GET("/resumes/status", resumeHandler.HandleGetStatus)
	api.GET("/resumes/:id", resumeHandler.HandleGetResume)

	api.GET("/files/*path", resumeHandler.HandleDownloadFile)
}
