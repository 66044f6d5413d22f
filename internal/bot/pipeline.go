package bot

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/extraction"
	"StarkFinder/internal/history"
	"StarkFinder/internal/knowledge"
	"StarkFinder/internal/ledger"
	"StarkFinder/internal/observability/alerting"
	"StarkFinder/internal/session"
	"StarkFinder/pkg/logger"
)

// handleTransaction 把自由文本交给解析服务并写入待确认意图。
// 解析失败时已有的待确认意图保持原样；解析成功时新意图覆盖旧意图。
func (b *Bot) handleTransaction(ctx context.Context, sess *session.Session, chatID int64, prompt string) error {
	if !sess.HasWallet() {
		return b.reply(ctx, chatID, replyConnectWallet)
	}

	intent, err := b.extractor.Extract(ctx, prompt, sess.WalletAddress, b.chainID)
	if err != nil {
		logger.L().Warn("交易解析失败",
			slog.String("session_key", sess.Key),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return b.reply(ctx, chatID, replyExtractionFailed)
	}

	if err := b.sessions.SetPending(ctx, sess.Key, intent); err != nil {
		return err
	}
	logger.L().Info("交易意图已就绪",
		slog.String("session_key", sess.Key),
		slog.String("intent_id", intent.ID),
		slog.String("action", intent.Action),
		slog.Int("steps", len(intent.Steps)),
	)
	return b.reply(ctx, chatID, renderPreview(intent))
}

// handleConfirm 执行当前待确认的交易。携带确认码且不匹配时拒绝
// 且不消耗意图；匹配或未携带时先原子取出意图再执行，重复的确认
// 最多只会触发一次执行。
func (b *Bot) handleConfirm(ctx context.Context, sess *session.Session, chatID int64, code string) error {
	if !sess.HasPending() {
		return b.reply(ctx, chatID, replyNothingPending)
	}
	if code != "" && !strings.EqualFold(code, sess.Pending.ConfirmCode) {
		return b.reply(ctx, chatID, fmt.Sprintf(
			"That code does not match the pending transaction. Reply \"confirm %s\" to execute it, or send a new request.",
			sess.Pending.ConfirmCode,
		))
	}
	if !sess.HasWallet() {
		return b.reply(ctx, chatID, replyConnectWallet)
	}

	intent, err := b.sessions.TakePending(ctx, sess.Key)
	if err != nil {
		if stdErrors.Is(err, session.ErrNoPending) || stdErrors.Is(err, session.ErrNotFound) {
			return b.reply(ctx, chatID, replyNothingPending)
		}
		return err
	}
	return b.execute(ctx, sess, chatID, intent)
}

func (b *Bot) execute(ctx context.Context, sess *session.Session, chatID int64, intent *extraction.TransactionIntent) error {
	account, err := b.ledger.BuildAccount(sess.SigningCredential)
	if err != nil {
		return b.reportFailure(ctx, sess, chatID, intent, err)
	}

	calls := make([]ledger.Call, len(intent.Steps))
	for i, step := range intent.Steps {
		calls[i] = ledger.Call{
			To:         step.ContractAddress,
			Entrypoint: step.Entrypoint,
			Args:       step.Calldata,
			RawData:    step.RawData,
		}
	}

	txHash, err := b.ledger.Execute(ctx, account, calls)
	if err != nil {
		return b.reportFailure(ctx, sess, chatID, intent, err)
	}

	record := &history.Record{
		ID:            uuid.NewString(),
		SessionKey:    sess.Key,
		IntentID:      intent.ID,
		WalletAddress: sess.WalletAddress,
		Action:        intent.Action,
		Description:   intent.Description,
		Outcome:       history.OutcomeSucceeded,
		TxHash:        txHash,
		CreatedAt:     time.Now().Unix(),
	}
	if err := b.history.Append(ctx, record); err != nil {
		logger.L().Error("写入交易历史失败",
			slog.String("session_key", sess.Key),
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}
	logger.Audit().Info("交易执行成功",
		slog.String("session_key", sess.Key),
		slog.String("wallet_address", sess.WalletAddress),
		slog.String("intent_id", intent.ID),
		slog.String("action", intent.Action),
		slog.String("tx_hash", txHash),
	)

	reply := fmt.Sprintf("Transaction confirmed!\nHash: `%s`", txHash)
	if b.explorerBaseURL != "" {
		reply += fmt.Sprintf("\n%s/tx/%s", strings.TrimRight(b.explorerBaseURL, "/"), txHash)
	}
	return b.reply(ctx, chatID, reply)
}

// reportFailure 统一处理执行失败：记录历史与审计日志、触发告警、
// 通知用户。意图在进入执行前已被取出，失败不会留下可重放的残留。
func (b *Bot) reportFailure(ctx context.Context, sess *session.Session, chatID int64, intent *extraction.TransactionIntent, cause error) error {
	code := xerrors.CodeOf(cause)
	record := &history.Record{
		ID:            uuid.NewString(),
		SessionKey:    sess.Key,
		IntentID:      intent.ID,
		WalletAddress: sess.WalletAddress,
		Action:        intent.Action,
		Description:   intent.Description,
		Outcome:       history.OutcomeFailed,
		FailureCode:   string(code),
		CreatedAt:     time.Now().Unix(),
	}
	if err := b.history.Append(ctx, record); err != nil {
		logger.L().Error("写入交易历史失败",
			slog.String("session_key", sess.Key),
			slog.String("error", err.Error()),
		)
	}
	logger.Audit().Error("交易执行失败",
		slog.String("session_key", sess.Key),
		slog.String("wallet_address", sess.WalletAddress),
		slog.String("intent_id", intent.ID),
		slog.String("action", intent.Action),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	)

	if b.alerts != nil && xerrors.ShouldAlertError(cause) {
		_ = b.alerts.Notify(ctx, alerting.Event{
			Code:       code,
			Message:    cause.Error(),
			Severity:   xerrors.SeverityOf(cause),
			SessionKey: sess.Key,
			Metadata: map[string]string{
				"intent_id": intent.ID,
				"action":    intent.Action,
			},
			OccurredAt: time.Now(),
		})
	}
	return b.reply(ctx, chatID, replyExecutionFailed)
}

func (b *Bot) handleKnowledge(ctx context.Context, chatID int64, prompt string) error {
	answer := b.knowledge.Ask(ctx, prompt)
	if answer == "" {
		answer = knowledge.Apology
	}
	return b.reply(ctx, chatID, answer)
}

// renderPreview 把交易意图渲染为预览文案。展示字段缺失时直接
// 省略对应行，执行语义只由 Steps 决定。
func renderPreview(intent *extraction.TransactionIntent) string {
	var sb strings.Builder
	sb.WriteString("*Transaction preview*\n")
	if intent.Description != "" {
		sb.WriteString(intent.Description + "\n")
	}
	sb.WriteString(fmt.Sprintf("\nAction: %s", intent.Action))
	if intent.FromAmount != "" || intent.FromSymbol != "" {
		sb.WriteString(fmt.Sprintf("\nFrom: %s %s", intent.FromAmount, intent.FromSymbol))
	}
	if intent.ToAmount != "" || intent.ToSymbol != "" {
		sb.WriteString(fmt.Sprintf("\nTo: %s %s", intent.ToAmount, intent.ToSymbol))
	}
	if intent.Receiver != "" {
		sb.WriteString(fmt.Sprintf("\nReceiver: %s", intent.Receiver))
	}
	if intent.EstimatedCostUSD != "" {
		sb.WriteString(fmt.Sprintf("\nEstimated cost: $%s", intent.EstimatedCostUSD))
	}
	sb.WriteString(fmt.Sprintf("\nSteps: %d", len(intent.Steps)))
	sb.WriteString(fmt.Sprintf(
		"\n\nReply \"confirm %s\" (or just \"confirm\") to execute, or send a new request to replace it.",
		intent.ConfirmCode,
	))
	return sb.String()
}
