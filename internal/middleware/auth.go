// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"line-smart-go/pkg/line"
	"line-smart-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RawBodyKey 是 LineSignature 在上下文中保存原始请求体的 key。
const RawBodyKey = "rawBody"

// LineSignature 校验 LINE webhook 的 X-Line-Signature。
// 签名基于原始请求体计算，因此这里读取并缓存请求体，供后续 handler 解析。
func LineSignature(channelSecret string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "无法读取请求体"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Set(RawBodyKey, body)

		if !enabled {
			c.Next()
			return
		}

		signature := c.GetHeader(line.SignatureHeader)
		if signature == "" {
			log.Warnw("webhook request without signature", "clientIP", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少签名"})
			return
		}
		if !line.VerifySignature(channelSecret, body, signature) {
			log.Warnw("webhook signature mismatch", "clientIP", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "签名无效"})
			return
		}
		c.Next()
	}
}
