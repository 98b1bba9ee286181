package main

import (
	"context"
	"errors"
	"fmt"
	"line-smart-go/internal/config"
	"line-smart-go/internal/handler"
	"line-smart-go/internal/middleware"
	"line-smart-go/pkg/line"
	"line-smart-go/pkg/log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 LINE webhook 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	// 1. 初始化配置与日志
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		log.Errorf("❌ 配置校验失败: %v", err)
		return err
	}
	log.Info("✅ Configuration validated")

	// 2. 初始化持久化、缓存与服务
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// 3. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := newRouter(cfg, a)

	// 4. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("🌟 服务启动于 %s，webhook: POST /webhook，database: %q", srv.Addr, a.store.Backend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infof("接收到停机信号 %s，正在关闭服务...", sig)
	case err := <-errCh:
		log.Errorf("HTTP 服务监听失败: %v", err)
		return err
	}

	// 给进行中的 webhook 留出完成回复的时间
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
		return err
	}
	log.Info("服务已优雅关闭")
	return nil
}

func newRouter(cfg config.Config, a *app) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	health := handler.NewHealthHandler(a.store.Backend(), cfg.Server.Version)
	r.GET("/", health.Root)
	r.GET("/health", health.Health)

	webhook := handler.NewWebhookHandler(a.chat, line.NewClient(cfg.Line))
	r.POST("/webhook", middleware.LineSignature(cfg.Line.ChannelSecret, cfg.Line.VerifySignature), webhook.Handle)

	// 管理接口，未配置 admin token 时不开放
	if cfg.Server.AdminToken != "" {
		admin := handler.NewAdminHandler(a.chat)
		apiV1 := r.Group("/api/v1", middleware.AdminAuthMiddleware(cfg.Server.AdminToken))
		{
			apiV1.GET("/users/:userId/stats", admin.GetUserStats)
			apiV1.DELETE("/users/:userId/sessions/:sessionId/memory", admin.DeleteSessionMemory)
		}
	}

	r.NoRoute(handler.NotFound)
	return r
}
