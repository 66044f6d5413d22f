package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"StarkFinder/internal/classify"
	"StarkFinder/internal/history"
	"StarkFinder/internal/ledger"
	"StarkFinder/internal/session"
	"StarkFinder/internal/telegram"
	"StarkFinder/pkg/logger"
)

func (b *Bot) handleCommand(ctx context.Context, sess *session.Session, msg *telegram.Message, result classify.Result) error {
	chatID := msg.Chat.ID
	switch result.Command {
	case "start":
		return b.reply(ctx, chatID, replyWelcome)
	case "help":
		return b.reply(ctx, chatID, replyHelp)
	case "wallet":
		return b.handleWallet(ctx, sess, msg, result.Args)
	case "balance":
		return b.handleBalance(ctx, sess, chatID, result.Args)
	case "txn":
		// 命令路径在结构上不触碰待确认意图，/txn 只负责指路。
		return b.reply(ctx, chatID, replyTxnInfo)
	case "history":
		return b.handleHistory(ctx, sess, chatID)
	default:
		return b.reply(ctx, chatID, replyUnknownCommand)
	}
}

// handleWallet 校验签名凭证并绑定派生地址。凭证属于高敏感输入，
// 群聊里一律拒绝，日志里只出现派生出的地址。
func (b *Bot) handleWallet(ctx context.Context, sess *session.Session, msg *telegram.Message, args string) error {
	chatID := msg.Chat.ID
	if msg.IsGroup() {
		return b.reply(ctx, chatID, replyWalletInGroup)
	}

	credential := strings.TrimSpace(args)
	if credential == "" || len(strings.Fields(credential)) != 1 {
		return b.reply(ctx, chatID, replyWalletUsage)
	}

	// 先走账户构造验证凭证，非法凭证不落入会话。
	account, err := b.ledger.BuildAccount(credential)
	if err != nil {
		return b.reply(ctx, chatID, replyWalletInvalid)
	}
	address := account.Address()

	if _, err := b.sessions.Upsert(ctx, sess.Key, session.Update{
		WalletAddress:     &address,
		SigningCredential: &credential,
	}); err != nil {
		return err
	}

	logger.L().Info("钱包已连接",
		slog.String("session_key", sess.Key),
		slog.String("wallet_address", address),
	)
	return b.reply(ctx, chatID, fmt.Sprintf("Wallet connected: %s\nYou can now describe a transaction or check balances with /balance.", address))
}

func (b *Bot) handleBalance(ctx context.Context, sess *session.Session, chatID int64, args string) error {
	if sess.WalletAddress == "" {
		return b.reply(ctx, chatID, replyConnectWallet)
	}

	symbol := strings.TrimSpace(args)
	token, ok := b.tokens.Resolve(symbol)
	if !ok {
		return b.reply(ctx, chatID, fmt.Sprintf("I do not know the token %q. Try a symbol like ETH, or paste the token contract address.", symbol))
	}

	balance, err := b.ledger.ReadBalance(ctx, token.Address, sess.WalletAddress)
	if err != nil {
		logger.L().Warn("余额查询失败",
			slog.String("session_key", sess.Key),
			slog.String("token", token.Symbol),
			slog.String("error", err.Error()),
		)
		return b.reply(ctx, chatID, replyBalanceFailed)
	}
	return b.reply(ctx, chatID, fmt.Sprintf("Balance: %s %s", ledger.FormatAmount(balance, token.Decimals), token.Symbol))
}

func (b *Bot) handleHistory(ctx context.Context, sess *session.Session, chatID int64) error {
	records, err := b.history.List(ctx, history.ListOptions{SessionKey: sess.Key, Limit: 10})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return b.reply(ctx, chatID, replyNoHistory)
	}

	var sb strings.Builder
	sb.WriteString("Your recent transactions:\n")
	for _, record := range records {
		switch record.Outcome {
		case history.OutcomeSucceeded:
			sb.WriteString(fmt.Sprintf("\n- %s: confirmed\n  `%s`", record.Action, record.TxHash))
		default:
			sb.WriteString(fmt.Sprintf("\n- %s: failed (%s)", record.Action, record.FailureCode))
		}
	}
	return b.reply(ctx, chatID, sb.String())
}
