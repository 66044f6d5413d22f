package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/telegram"
	"StarkFinder/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelTelegram Channel = "telegram"
	ChannelLog      Channel = "log"
)

// Event 描述一次需要告警的事件。Metadata 只承载可公开字段，
// 签名凭证与原始私钥永远不进入告警。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	SessionKey string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// TelegramNotifier 把告警推送到运维值班群。
type TelegramNotifier struct {
	Sender telegram.Sender
	ChatID int64
}

// Channel 返回 Telegram 渠道。
func (n *TelegramNotifier) Channel() Channel { return ChannelTelegram }

// Notify 发送 Telegram 消息。
func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChatID == 0 {
		logger.L().Warn("TelegramNotifier 未正确配置，跳过发送", slog.String("session_key", event.SessionKey))
		return nil
	}
	content := fmt.Sprintf("[%s] %s\n会话: %s\n时间: %s\n%s",
		event.Severity, event.Code, event.SessionKey, event.OccurredAt.Format(time.RFC3339), event.Message)
	if len(event.Metadata) > 0 {
		content += "\n详情:"
		for k, v := range event.Metadata {
			content += fmt.Sprintf("\n- %s: %s", k, v)
		}
	}
	return n.Sender.SendMessage(ctx, n.ChatID, content)
}

// LogNotifier 把告警写入结构化日志，作为兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("session_key", event.SessionKey),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.L().Error(event.Message, attrs...)
	return nil
}
