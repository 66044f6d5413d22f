package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"StarkFinder/internal/api"
	"StarkFinder/internal/bot"
	"StarkFinder/internal/config"
	"StarkFinder/internal/extraction/brian"
	"StarkFinder/internal/history"
	"StarkFinder/internal/knowledge"
	"StarkFinder/internal/ledger"
	"StarkFinder/internal/ledger/ethereum"
	"StarkFinder/internal/observability/alerting"
	"StarkFinder/internal/queue"
	"StarkFinder/internal/session"
	"StarkFinder/internal/telegram"
	"StarkFinder/pkg/logger"
)

// main 是 StarkFinder 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("starkfinderd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在不算错误，生产环境直接使用进程环境变量。
	_ = godotenv.Load()

	configPath := os.Getenv("STARKFINDER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "starkfinder.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sender, err := telegram.NewClient(telegram.Config{
		Token:   os.Getenv(cfg.Telegram.TokenEnv),
		BaseURL: cfg.Telegram.BaseURL,
	})
	if err != nil {
		return err
	}

	extractor, err := brian.NewClient(brian.Config{
		APIKey:  os.Getenv(cfg.Extraction.APIKeyEnv),
		BaseURL: cfg.Extraction.BaseURL,
		Timeout: cfg.ExtractionTimeout(),
	})
	if err != nil {
		return err
	}

	knowledgeProvider, err := buildKnowledgeProvider(cfg)
	if err != nil {
		return err
	}

	sessions, sweeper, err := buildSessionStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()
	if sweeper != nil {
		sweeper(ctx)
	}

	updates, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := updates.Close(); err != nil {
			logger.L().Warn("关闭更新队列失败", slog.String("error", err.Error()))
		}
	}()

	repo, err := buildHistoryRepository(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	ledgerClient, err := ethereum.NewClient(ctx, ethereum.Config{
		RPCURL:           cfg.Ledger.RPCURL,
		ChainID:          cfg.Ledger.ChainID,
		MulticallAddress: cfg.Ledger.MulticallAddress,
		ConfirmTimeout:   cfg.ConfirmTimeout(),
	})
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	tokens, err := ledger.LoadTokenRegistry(cfg.Ledger.TokensFile)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Telegram.OpsChatID != 0 {
		notifiers = append(notifiers, &alerting.TelegramNotifier{
			Sender: sender,
			ChatID: cfg.Telegram.OpsChatID,
		})
	}

	handler, err := bot.New(
		bot.Config{
			ChainID:         strconv.FormatInt(cfg.Ledger.ChainID, 10),
			ExplorerBaseURL: cfg.Ledger.ExplorerBaseURL,
			TriggerWords:    cfg.Telegram.TriggerWords,
		},
		bot.Dependencies{
			Sender:    sender,
			Sessions:  sessions,
			Extractor: extractor,
			Knowledge: knowledgeProvider,
			Ledger:    ledgerClient,
			Tokens:    tokens,
			History:   repo,
			Alerts:    alerting.NewFanout(notifiers...),
		},
	)
	if err != nil {
		return err
	}

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		if err := updates.Consume(consumerCtx, cfg.Queue.Workers, handler.HandleUpdate); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("更新消费异常退出", slog.String("error", err.Error()))
		}
	}()

	server := api.NewServer(api.Config{
		Addr:          cfg.Server.Address,
		WebhookSecret: os.Getenv(cfg.Server.WebhookSecretEnv),
	}, updates, repo)

	logger.L().Info("starkfinderd 已启动", slog.String("addr", cfg.Server.Address))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildKnowledgeProvider(cfg *config.Config) (knowledge.Provider, error) {
	switch cfg.Knowledge.Provider {
	case "", "remote":
		return knowledge.NewRemoteProvider(knowledge.RemoteConfig{
			APIKey:        os.Getenv(cfg.Extraction.APIKeyEnv),
			BaseURL:       cfg.Extraction.BaseURL,
			KnowledgeBase: cfg.Knowledge.KnowledgeBase,
			Timeout:       cfg.ExtractionTimeout(),
		})
	case "static":
		return knowledge.LoadStaticProvider(cfg.Knowledge.SnippetsFile)
	default:
		return nil, fmt.Errorf("未知的知识提供方: %s", cfg.Knowledge.Provider)
	}
}

func buildSessionStore(cfg *config.Config) (session.Store, func(context.Context), error) {
	switch cfg.Sessions.Driver {
	case "", "memory":
		store := session.NewMemoryStore(cfg.SessionTTL())
		sweep := func(ctx context.Context) {
			go store.StartSweeper(ctx, cfg.SweepInterval())
		}
		return store, sweep, nil
	case "redis":
		store, err := session.NewRedisStore(session.RedisStoreConfig{
			Address:  cfg.Sessions.Redis.Address,
			Password: os.Getenv(cfg.Sessions.Redis.PasswordEnv),
			DB:       cfg.Sessions.Redis.DB,
			TTL:      cfg.SessionTTL(),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Sessions.Driver)
	}
}

func buildQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return queue.NewMemoryQueue(1024), nil
	case "redis":
		return queue.NewRedisQueue(queue.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  os.Getenv(cfg.Queue.Redis.PasswordEnv),
			DB:        cfg.Queue.Redis.DB,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return queue.NewRabbitMQQueue(queue.RabbitMQConfig{
			URL:     os.Getenv(cfg.Queue.RabbitMQ.URLEnv),
			Queue:   cfg.Queue.RabbitMQ.Queue,
			Durable: cfg.Queue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func buildHistoryRepository(cfg *config.Config) (history.Repository, error) {
	switch cfg.History.Driver {
	case "", "memory":
		return history.NewMemoryRepository(), nil
	case "mysql":
		return history.NewMySQLRepository(os.Getenv(cfg.History.DSNEnv))
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.History.Driver)
	}
}
