package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler 提供健康检查与服务信息。
type HealthHandler struct {
	backend string
	version string
	now     func() time.Time
}

// NewHealthHandler 创建 HealthHandler。backend 为当前启用的持久化后端名称。
func NewHealthHandler(backend, version string) *HealthHandler {
	return &HealthHandler{backend: backend, version: version, now: time.Now}
}

// Health 处理 GET /health。
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"database":  h.backend,
		"version":   h.version,
	})
}

// Root 处理 GET /，列出可用的端点。
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "LINE Smart Assistant",
		"version":     h.version,
		"description": "LINE bot with conversation memory, intent routing and tools",
		"endpoints": gin.H{
			"health":  "/health",
			"webhook": "/webhook",
		},
	})
}

// NotFound 是未匹配路由的兜底处理。
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "Not Found",
		"message": "Route " + c.Request.Method + " " + c.Request.URL.Path + " not found",
	})
}
