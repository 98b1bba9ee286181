package handler

import (
	"line-smart-go/internal/service"
	"line-smart-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责会话统计与记忆管理的 API 请求。
type AdminHandler struct {
	chatService service.ChatService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(chatService service.ChatService) *AdminHandler {
	return &AdminHandler{chatService: chatService}
}

// GetUserStats 处理 GET /api/v1/users/:userId/stats。
func (h *AdminHandler) GetUserStats(c *gin.Context) {
	userID := c.Param("userId")
	stats, err := h.chatService.Stats(c.Request.Context(), userID)
	if err != nil {
		log.Warnw("GetUserStats: failed to aggregate stats", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取统计信息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// DeleteSessionMemory 处理 DELETE /api/v1/users/:userId/sessions/:sessionId/memory。
func (h *AdminHandler) DeleteSessionMemory(c *gin.Context) {
	userID := c.Param("userId")
	sessionID := c.Param("sessionId")
	if err := h.chatService.ResetMemory(c.Request.Context(), userID, sessionID); err != nil {
		log.Warnw("DeleteSessionMemory: failed to delete memory", "userId", userID, "sessionId", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除会话记忆失败", "data": nil})
		return
	}
	log.Infow("session memory deleted", "userId", userID, "sessionId", sessionID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
