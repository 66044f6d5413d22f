package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"StarkFinder/internal/session"
)

// Config 描述了服务在启动阶段需要加载的全部配置。
// 密钥类内容（机器人 token、解析服务 API key）不出现在配置
// 文件里，只通过环境变量注入，配置里保存的是变量名。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Telegram   TelegramConfig   `json:"telegram"`
	Extraction ExtractionConfig `json:"extraction"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Ledger     LedgerConfig     `json:"ledger"`
	Sessions   SessionsConfig   `json:"sessions"`
	Queue      QueueConfig      `json:"queue"`
	History    HistoryConfig    `json:"history"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig 控制 HTTP 服务的监听地址与 webhook 校验。
type ServerConfig struct {
	Address          string `json:"address"`
	WebhookSecretEnv string `json:"webhook_secret_env"`
}

// TelegramConfig 描述机器人自身的参数。
type TelegramConfig struct {
	TokenEnv string `json:"token_env"`
	BaseURL  string `json:"base_url"`
	// OpsChatID 非零时执行失败的告警会推送到该聊天。
	OpsChatID int64 `json:"ops_chat_id"`
	// TriggerWords 覆盖默认的交易触发词。
	TriggerWords []string `json:"trigger_words"`
}

// ExtractionConfig 描述交易解析服务的调用方式。
type ExtractionConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
	TimeoutMS int    `json:"timeout_ms"`
}

// KnowledgeConfig 描述知识问答的提供方。
type KnowledgeConfig struct {
	// Provider 取值 remote 或 static。
	Provider string `json:"provider"`
	// KnowledgeBase 是远端问答使用的知识库标识。
	KnowledgeBase string `json:"knowledge_base"`
	// SnippetsFile 是 static 模式下的知识片段文件。
	SnippetsFile string `json:"snippets_file"`
}

// LedgerConfig 包含访问账本网络所需的参数。
type LedgerConfig struct {
	RPCURL           string `json:"rpc_url"`
	ChainID          int64  `json:"chain_id"`
	MulticallAddress string `json:"multicall_address"`
	ExplorerBaseURL  string `json:"explorer_base_url"`
	TokensFile       string `json:"tokens_file"`
	ConfirmTimeoutMS int    `json:"confirm_timeout_ms"`
}

// SessionsConfig 控制会话存储。
type SessionsConfig struct {
	// Driver 取值 memory 或 redis。
	Driver       string      `json:"driver"`
	TTLMinutes   int         `json:"ttl_minutes"`
	SweepSeconds int         `json:"sweep_seconds"`
	Redis        RedisConfig `json:"redis"`
}

// QueueConfig 控制更新队列。
type QueueConfig struct {
	// Driver 取值 memory、redis 或 rabbitmq。
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 统一描述 Redis 连接参数。
type RedisConfig struct {
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URLEnv  string `json:"url_env"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// HistoryConfig 控制交易历史的存储。
type HistoryConfig struct {
	// Driver 取值 memory 或 mysql。
	Driver string `json:"driver"`
	DSNEnv string `json:"dsn_env"`
}

// LoggingConfig 控制结构化日志与审计日志。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.WebhookSecretEnv == "" {
		c.Server.WebhookSecretEnv = "TELEGRAM_WEBHOOK_SECRET"
	}

	if c.Telegram.TokenEnv == "" {
		c.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}

	if c.Extraction.APIKeyEnv == "" {
		c.Extraction.APIKeyEnv = "BRIAN_API_KEY"
	}
	if c.Extraction.TimeoutMS <= 0 {
		c.Extraction.TimeoutMS = 30_000
	}

	if c.Knowledge.Provider == "" {
		c.Knowledge.Provider = "remote"
	}
	if c.Knowledge.SnippetsFile != "" && !filepath.IsAbs(c.Knowledge.SnippetsFile) {
		c.Knowledge.SnippetsFile = filepath.Join(baseDir, c.Knowledge.SnippetsFile)
	}

	if c.Ledger.ConfirmTimeoutMS <= 0 {
		c.Ledger.ConfirmTimeoutMS = 120_000
	}
	if c.Ledger.TokensFile != "" && !filepath.IsAbs(c.Ledger.TokensFile) {
		c.Ledger.TokensFile = filepath.Join(baseDir, c.Ledger.TokensFile)
	}

	if c.Sessions.Driver == "" {
		c.Sessions.Driver = "memory"
	}
	if c.Sessions.TTLMinutes <= 0 {
		c.Sessions.TTLMinutes = int(session.DefaultTTL / time.Minute)
	}
	if c.Sessions.SweepSeconds <= 0 {
		c.Sessions.SweepSeconds = 60
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.RabbitMQ.URLEnv == "" {
		c.Queue.RabbitMQ.URLEnv = "RABBITMQ_URL"
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.DSNEnv == "" {
		c.History.DSNEnv = "MYSQL_DSN"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// SessionTTL 返回会话过期窗口。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLMinutes) * time.Minute
}

// SweepInterval 返回内存会话的清扫间隔。
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepSeconds) * time.Second
}

// ExtractionTimeout 返回解析请求超时。
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutMS) * time.Millisecond
}

// ConfirmTimeout 返回等待链上确认的超时。
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Ledger.ConfirmTimeoutMS) * time.Millisecond
}
