package main

import (
	"errors"
	"line-smart-go/internal/config"
	"line-smart-go/internal/intent"
	"line-smart-go/internal/repository"
	"line-smart-go/internal/service"
	"line-smart-go/internal/session"
	"line-smart-go/internal/tools"
	"line-smart-go/pkg/database"
	"line-smart-go/pkg/kafka"
	"line-smart-go/pkg/llm"
	"line-smart-go/pkg/log"
)

// app 持有一次进程运行所需的全部组件。
type app struct {
	cfg      config.Config
	store    service.ConversationStore
	chat     service.ChatService
	producer *kafka.Producer
}

// loadConfig 加载配置并初始化日志。
func loadConfig(configPath string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	config.Conf = cfg

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, log.RotateConfig{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	for _, w := range cfg.Warnings() {
		log.Warnf("⚠️ %s", w)
	}
	return cfg, nil
}

// newApp 按顺序初始化持久化、缓存、事件流、生成客户端与服务。
func newApp(cfg config.Config) (*app, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	deriver, err := session.NewDeriverForZone(cfg.Chat.SessionTimezone)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "chat.session_timezone", Reason: err.Error()}
	}

	// 1. 持久化后端，连接失败时降级为无持久化模式
	repo, err := openRepository(cfg.Database)
	if err != nil {
		log.Errorf("❌ %s backend unavailable, running without conversation memory: %v", cfg.Database.Backend, err)
		repo = nil
	}
	store := service.NewConversationStore(repo)

	// 2. Redis 只用于天气查询缓存
	if err := database.InitRedis(cfg.Database.Redis); err != nil {
		log.Warnf("Redis unavailable, weather cache disabled: %v", err)
	}

	// 3. Kafka 事件流（可选）
	producer := kafka.NewProducer(cfg.Kafka)
	var publisher service.TurnPublisher
	if producer != nil {
		publisher = producer
	}

	// 4. 生成客户端与工具
	llmClient := llm.NewClient(cfg.LLM)
	registry := tools.NewRegistry(tools.NewWeatherClient(cfg.Weather, database.RDB))
	generator := service.NewGenerator(llmClient, registry)

	// 5. 对话编排
	cache := service.NewActiveCache(cfg.Chat.CacheTTL)
	dispatcher := service.NewCommandDispatcher(store, cache, generator, cfg.Chat.SummaryLimit)
	chat := service.NewChatService(store, cache, intent.NewRouter(intent.DefaultRules), dispatcher, generator, deriver, publisher,
		service.ChatOptions{
			HistoryLimit:  cfg.Chat.HistoryLimit,
			MaxIterations: cfg.Chat.MaxIterations,
			SessionLock:   cfg.Chat.SessionLock,
		})

	return &app{cfg: cfg, store: store, chat: chat, producer: producer}, nil
}

// openRepository 根据配置选择唯一的持久化后端；未配置时返回 nil。
func openRepository(cfg config.DatabaseConfig) (repository.ConversationRepository, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "sql":
		if err := database.InitSQL(cfg.SQL); err != nil {
			return nil, err
		}
		if cfg.SQL.AutoMigrate {
			if err := repository.Migrate(database.DB); err != nil {
				return nil, err
			}
		}
		log.Infof("✅ Connected to %s (%s)", cfg.Backend, cfg.SQL.Driver)
		return repository.NewGormConversationRepository(database.DB), nil
	case "postgrest":
		log.Infof("✅ Using PostgREST backend at %s", cfg.PostgREST.URL)
		return repository.NewPostgRESTConversationRepository(cfg.PostgREST), nil
	}
	return nil, errors.New("unknown backend " + cfg.Backend)
}

// close 释放所有外部连接，可重复调用。
func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
		a.producer = nil
	}
	if err := a.store.Close(); err != nil {
		log.Warnf("关闭持久化后端失败: %v", err)
	}
	database.CloseRedis()
}
