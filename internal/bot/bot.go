// Package bot 实现会话处理的核心：解析入站更新、维护会话状态、
// 把消息路由到命令、确认、交易与知识问答四条路径。
package bot

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"StarkFinder/internal/classify"
	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/extraction"
	"StarkFinder/internal/history"
	"StarkFinder/internal/knowledge"
	"StarkFinder/internal/ledger"
	"StarkFinder/internal/observability/alerting"
	"StarkFinder/internal/observability/metrics"
	"StarkFinder/internal/session"
	"StarkFinder/internal/telegram"
	"StarkFinder/pkg/logger"
)

// Config 是会话处理的静态参数。
type Config struct {
	// ChainID 随解析请求一起发给交易解析服务。
	ChainID string
	// ExplorerBaseURL 用于在执行成功后拼接浏览器链接，可为空。
	ExplorerBaseURL string
	// TriggerWords 覆盖默认的交易触发词。
	TriggerWords []string
}

// Dependencies 汇集会话处理依赖的全部外部能力。
type Dependencies struct {
	Sender    telegram.Sender
	Sessions  session.Store
	Extractor extraction.Client
	Knowledge knowledge.Provider
	Ledger    ledger.Client
	Tokens    *ledger.TokenRegistry
	History   history.Repository
	Alerts    alerting.Dispatcher
}

// Bot 按会话串行处理消息。同一会话内的消息在持锁状态下
// 依次处理，确认与新请求之间不存在竞态。
type Bot struct {
	sender     telegram.Sender
	sessions   session.Store
	classifier *classify.Classifier
	extractor  extraction.Client
	knowledge  knowledge.Provider
	ledger     ledger.Client
	tokens     *ledger.TokenRegistry
	history    history.Repository
	alerts     alerting.Dispatcher

	chainID         string
	explorerBaseURL string

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock 带引用计数的会话锁。计数归零即从锁表摘除，
// 锁表的大小只与正在处理的会话数相关。
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New 创建会话处理器。
func New(cfg Config, deps Dependencies) (*Bot, error) {
	if deps.Sender == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少消息发送器")
	}
	if deps.Sessions == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少会话存储")
	}
	if deps.Extractor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少交易解析客户端")
	}
	if deps.Knowledge == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少知识问答服务")
	}
	if deps.Ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少账本客户端")
	}
	if deps.History == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少历史仓库")
	}
	tokens := deps.Tokens
	if tokens == nil {
		registry, err := ledger.LoadTokenRegistry("")
		if err != nil {
			return nil, err
		}
		tokens = registry
	}
	return &Bot{
		sender:          deps.Sender,
		sessions:        deps.Sessions,
		classifier:      classify.New(cfg.TriggerWords),
		extractor:       deps.Extractor,
		knowledge:       deps.Knowledge,
		ledger:          deps.Ledger,
		tokens:          tokens,
		history:         deps.History,
		alerts:          deps.Alerts,
		chainID:         cfg.ChainID,
		explorerBaseURL: cfg.ExplorerBaseURL,
		locks:           make(map[string]*sessionLock),
	}, nil
}

// HandleUpdate 处理一条原始 webhook 更新。非消息更新（例如
// 机器人被拉入群聊的成员事件）直接忽略。
func (b *Bot) HandleUpdate(ctx context.Context, payload []byte) error {
	var update telegram.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析更新失败")
	}
	if update.Message == nil {
		metrics.ObserveUpdate("ignored", "ok", 0)
		return nil
	}
	return b.handleMessage(ctx, update.Message)
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) error {
	if msg == nil || msg.Text == "" {
		return nil
	}
	key := msg.SessionKey()
	if key == "" {
		return nil
	}

	// 同一会话的消息串行处理，不同会话互不阻塞。
	unlock := b.lockSession(key)
	defer unlock()

	sess, err := b.sessions.Touch(ctx, key, msg.IsGroup())
	if err != nil {
		return err
	}

	result := b.classifier.Classify(sess, msg.Text)
	start := time.Now()
	switch result.Kind {
	case classify.KindCommand:
		err = b.handleCommand(ctx, sess, msg, result)
	case classify.KindConfirm:
		err = b.handleConfirm(ctx, sess, msg.Chat.ID, result.ConfirmCode)
	case classify.KindTransaction:
		err = b.handleTransaction(ctx, sess, msg.Chat.ID, result.Text)
	default:
		err = b.handleKnowledge(ctx, msg.Chat.ID, result.Text)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.L().Error("处理消息失败",
			slog.String("session_key", key),
			slog.String("kind", string(result.Kind)),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
	}
	metrics.ObserveUpdate(string(result.Kind), outcome, time.Since(start))
	return err
}

func (b *Bot) lockSession(key string) func() {
	b.mu.Lock()
	lock, ok := b.locks[key]
	if !ok {
		lock = &sessionLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	return b.sender.SendMessage(ctx, chatID, text)
}
