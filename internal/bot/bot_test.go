package bot

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/extraction"
	"StarkFinder/internal/history"
	"StarkFinder/internal/knowledge"
	"StarkFinder/internal/ledger"
	"StarkFinder/internal/session"
	"StarkFinder/internal/telegram"
)

type fakeSender struct {
	messages []string
	chatIDs  []int64
}

func (s *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	s.chatIDs = append(s.chatIDs, chatID)
	s.messages = append(s.messages, text)
	return nil
}

func (s *fakeSender) last() string {
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}

type fakeExtractor struct {
	intent *extraction.TransactionIntent
	err    error
	calls  int
	prompt string
}

func (e *fakeExtractor) Extract(_ context.Context, prompt, _, _ string) (*extraction.TransactionIntent, error) {
	e.calls++
	e.prompt = prompt
	if e.err != nil {
		return nil, e.err
	}
	intent := *e.intent
	return &intent, nil
}

type fakeKnowledge struct {
	answer string
	asked  []string
}

func (k *fakeKnowledge) Ask(_ context.Context, prompt string) string {
	k.asked = append(k.asked, prompt)
	if k.answer == "" {
		return knowledge.Apology
	}
	return k.answer
}

type fakeAccount struct{ address string }

func (a *fakeAccount) Address() string { return a.address }

type fakeLedger struct {
	txHash     string
	buildErr   error
	buildCalls int
	execErr    error
	balance    *big.Int
	balanceErr error
	executed   [][]ledger.Call
}

func (l *fakeLedger) BuildAccount(credential string) (ledger.Account, error) {
	l.buildCalls++
	if l.buildErr != nil {
		return nil, l.buildErr
	}
	if credential == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "empty credential")
	}
	return &fakeAccount{address: "0xderived"}, nil
}

func (l *fakeLedger) Execute(_ context.Context, _ ledger.Account, calls []ledger.Call) (string, error) {
	l.executed = append(l.executed, calls)
	if l.execErr != nil {
		return "", l.execErr
	}
	return l.txHash, nil
}

func (l *fakeLedger) ReadBalance(_ context.Context, _, _ string) (*big.Int, error) {
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	return l.balance, nil
}

func (l *fakeLedger) Close() {}

type env struct {
	bot       *Bot
	sender    *fakeSender
	sessions  *session.MemoryStore
	extractor *fakeExtractor
	ledger    *fakeLedger
	history   *history.MemoryRepository
	knowledge *fakeKnowledge
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		sender:   &fakeSender{},
		sessions: session.NewMemoryStore(session.DefaultTTL),
		extractor: &fakeExtractor{intent: &extraction.TransactionIntent{
			ID:          "intent-1",
			ConfirmCode: "abc123",
			Action:      "swap",
			Description: "Swap 10 USDC for ETH",
			FromSymbol:  "USDC",
			FromAmount:  "10",
			ToSymbol:    "ETH",
			Steps: []extraction.Step{
				{ContractAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Entrypoint: "approve", Calldata: []string{"1"}},
			},
		}},
		ledger:    &fakeLedger{txHash: "0xhash", balance: big.NewInt(1500000000000000000)},
		history:   history.NewMemoryRepository(),
		knowledge: &fakeKnowledge{answer: "Starknet is a validity rollup."},
	}
	b, err := New(
		Config{ChainID: "4012", ExplorerBaseURL: "https://explorer.example"},
		Dependencies{
			Sender:    e.sender,
			Sessions:  e.sessions,
			Extractor: e.extractor,
			Knowledge: e.knowledge,
			Ledger:    e.ledger,
			History:   e.history,
		},
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	e.bot = b
	return e
}

func (e *env) send(t *testing.T, text string) {
	t.Helper()
	e.sendChat(t, 10, "private", text)
}

func (e *env) sendChat(t *testing.T, chatID int64, chatType, text string) {
	t.Helper()
	update := telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			Chat: telegram.Chat{ID: chatID, Type: chatType},
			From: &telegram.User{ID: 7, Username: "alice"},
			Text: text,
		},
	}
	payload, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	if err := e.bot.HandleUpdate(context.Background(), payload); err != nil {
		t.Fatalf("HandleUpdate(%q) returned error: %v", text, err)
	}
}

func (e *env) connectWallet(t *testing.T) {
	t.Helper()
	e.send(t, "/wallet deadbeef")
}

func TestStartCommandShowsWelcome(t *testing.T) {
	e := newEnv(t)
	e.send(t, "/start")
	if !strings.Contains(e.sender.last(), "Welcome to StarkFinder") {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	e.send(t, "/frobnicate")
	if e.sender.last() != replyUnknownCommand {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
}

func TestWalletRefusedInGroupChat(t *testing.T) {
	e := newEnv(t)
	e.sendChat(t, -42, "group", "/wallet deadbeef")
	if e.sender.last() != replyWalletInGroup {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	sess, err := e.sessions.Get(context.Background(), "-42_7")
	if err != nil {
		t.Fatalf("session should exist: %v", err)
	}
	if sess.HasWallet() {
		t.Fatalf("group chat must not store wallet credentials")
	}
}

func TestWalletConnectDerivesAddress(t *testing.T) {
	e := newEnv(t)
	e.send(t, "/wallet deadbeef")

	if e.ledger.buildCalls != 1 {
		t.Fatalf("expected one account derivation, got %d", e.ledger.buildCalls)
	}
	if !strings.Contains(e.sender.last(), "0xderived") {
		t.Fatalf("reply should echo the derived address: %q", e.sender.last())
	}
	sess, err := e.sessions.Get(context.Background(), "10_7")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess.WalletAddress != "0xderived" {
		t.Fatalf("session should hold the derived address, got %q", sess.WalletAddress)
	}
	if !sess.HasWallet() {
		t.Fatalf("wallet should be connected")
	}
}

func TestWalletRejectsInvalidKey(t *testing.T) {
	e := newEnv(t)
	e.ledger.buildErr = xerrors.New(xerrors.CodeInvalidArgument, "bad key")
	e.send(t, "/wallet not-a-key-at-all")

	if e.sender.last() != replyWalletInvalid {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	sess, err := e.sessions.Get(context.Background(), "10_7")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess.HasWallet() || sess.WalletAddress != "" {
		t.Fatalf("invalid key must not change the session: %+v", sess)
	}
}

func TestWalletUsage(t *testing.T) {
	e := newEnv(t)
	// 多于一个参数时直接返回用法，不触碰账户构造。
	e.send(t, "/wallet 0xWhatever not-a-key-at-all")
	if e.sender.last() != replyWalletUsage {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	e.send(t, "/wallet")
	if e.sender.last() != replyWalletUsage {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	if e.ledger.buildCalls != 0 {
		t.Fatalf("usage errors must not derive accounts, got %d calls", e.ledger.buildCalls)
	}
	sess, err := e.sessions.Get(context.Background(), "10_7")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess.HasWallet() {
		t.Fatalf("usage errors must not store credentials")
	}
}

func TestTxnCommandIsInformational(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "/txn swap 10 USDC for ETH")

	if e.sender.last() != replyTxnInfo {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	if e.extractor.calls != 0 {
		t.Fatalf("/txn must not run extraction, got %d calls", e.extractor.calls)
	}
	sess, err := e.sessions.Get(context.Background(), "10_7")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess.HasPending() {
		t.Fatalf("/txn must not create a pending intent")
	}
}

func TestTransactionRequiresWallet(t *testing.T) {
	e := newEnv(t)
	e.send(t, "swap 10 USDC for ETH")
	if e.sender.last() != replyConnectWallet {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
	if e.extractor.calls != 0 {
		t.Fatalf("extractor must not run without a wallet")
	}
}

func TestTransactionPreviewAndConfirm(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	preview := e.sender.last()
	for _, want := range []string{"Transaction preview", "swap", "confirm abc123"} {
		if !strings.Contains(preview, want) {
			t.Fatalf("preview missing %q:\n%s", want, preview)
		}
	}

	e.send(t, "confirm")
	reply := e.sender.last()
	if !strings.Contains(reply, "0xhash") || !strings.Contains(reply, "https://explorer.example/tx/0xhash") {
		t.Fatalf("confirmation reply missing hash or link: %q", reply)
	}
	if len(e.ledger.executed) != 1 {
		t.Fatalf("expected exactly one execution, got %d", len(e.ledger.executed))
	}

	records, err := e.history.List(context.Background(), history.ListOptions{SessionKey: "10_7"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != history.OutcomeSucceeded || records[0].TxHash != "0xhash" {
		t.Fatalf("unexpected history: %+v", records)
	}
}

func TestConfirmWithMatchingCode(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")
	e.send(t, "confirm abc123")
	if !strings.Contains(e.sender.last(), "0xhash") {
		t.Fatalf("matching code should execute, got %q", e.sender.last())
	}
}

func TestConfirmWithWrongCodeKeepsPending(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	e.send(t, "confirm zzz999")
	if len(e.ledger.executed) != 0 {
		t.Fatalf("mismatched code must not execute")
	}
	if !strings.Contains(e.sender.last(), "does not match") {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}

	// 意图未被消耗，正确的确认仍然可以执行。
	e.send(t, "confirm abc123")
	if len(e.ledger.executed) != 1 {
		t.Fatalf("pending intent should survive a mismatched code")
	}
}

func TestRepeatedConfirmExecutesOnce(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	e.send(t, "confirm")
	e.send(t, "confirm")
	if len(e.ledger.executed) != 1 {
		t.Fatalf("expected one execution, got %d", len(e.ledger.executed))
	}
	// 第二条 "confirm" 到达时已无待确认意图，按普通文本处理。
	if len(e.knowledge.asked) != 1 {
		t.Fatalf("second confirm should fall back to knowledge, asked=%v", e.knowledge.asked)
	}
}

func TestConfirmWithoutPendingGoesToKnowledge(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "confirm")
	// 没有待确认意图时 "confirm" 不是确认消息，走知识问答。
	if len(e.knowledge.asked) != 1 {
		t.Fatalf("expected knowledge path, asked=%v", e.knowledge.asked)
	}
}

func TestNewRequestReplacesPending(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	e.extractor.intent = &extraction.TransactionIntent{
		ID:          "intent-2",
		ConfirmCode: "def456",
		Action:      "transfer",
		Steps: []extraction.Step{
			{ContractAddress: "0x6B175474E89094C44Da98b954EedeAC495271d0F", RawData: "0x01"},
		},
	}
	e.send(t, "transfer 5 ETH to bob")
	if !strings.Contains(e.sender.last(), "confirm def456") {
		t.Fatalf("preview should carry the new confirm code: %q", e.sender.last())
	}

	e.send(t, "confirm")
	if len(e.ledger.executed) != 1 {
		t.Fatalf("expected one execution, got %d", len(e.ledger.executed))
	}
	if e.ledger.executed[0][0].RawData != "0x01" {
		t.Fatalf("latest intent should win, got %+v", e.ledger.executed[0])
	}
}

func TestExtractionFailureLeavesPendingUntouched(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	e.extractor.err = xerrors.New(xerrors.CodeExtraction, "bad prompt")
	e.send(t, "swap blah blah")
	if e.sender.last() != replyExtractionFailed {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}

	e.extractor.err = nil
	e.send(t, "confirm abc123")
	if len(e.ledger.executed) != 1 {
		t.Fatalf("previous pending intent should still be confirmable")
	}
}

func TestExecutionFailureClearsPendingAndRecordsHistory(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	e.ledger.execErr = xerrors.New(xerrors.CodeExecution, "reverted")
	e.send(t, "confirm")
	if e.sender.last() != replyExecutionFailed {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}

	// clear-before-execute：失败后意图已被消耗，重试需要重新发起。
	e.send(t, "confirm")
	if len(e.knowledge.asked) != 1 {
		t.Fatalf("after a failed execution confirm should fall back to knowledge")
	}

	records, err := e.history.List(context.Background(), history.ListOptions{SessionKey: "10_7"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != history.OutcomeFailed || records[0].FailureCode != "EXECUTION_FAILURE" {
		t.Fatalf("unexpected history: %+v", records[0])
	}
}

func TestBalanceCommand(t *testing.T) {
	e := newEnv(t)
	e.send(t, "/balance")
	if e.sender.last() != replyConnectWallet {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}

	e.connectWallet(t)
	e.send(t, "/balance")
	if got := e.sender.last(); got != "Balance: 1.5 ETH" {
		t.Fatalf("unexpected balance reply: %q", got)
	}

	e.send(t, "/balance NOPE")
	if !strings.Contains(e.sender.last(), "do not know the token") {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
}

func TestHistoryCommand(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "/history")
	if e.sender.last() != replyNoHistory {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}

	e.send(t, "swap 10 USDC for ETH")
	e.send(t, "confirm")
	e.send(t, "/history")
	reply := e.sender.last()
	if !strings.Contains(reply, "swap: confirmed") || !strings.Contains(reply, "0xhash") {
		t.Fatalf("history reply missing entries: %q", reply)
	}
}

func TestFreeTextGoesToKnowledge(t *testing.T) {
	e := newEnv(t)
	e.send(t, "what is starknet?")
	if e.sender.last() != "Starknet is a validity rollup." {
		t.Fatalf("unexpected reply: %q", e.sender.last())
	}
}

func TestNonMessageUpdateIsIgnored(t *testing.T) {
	e := newEnv(t)
	payload := []byte(`{"update_id":5,"my_chat_member":{}}`)
	if err := e.bot.HandleUpdate(context.Background(), payload); err != nil {
		t.Fatalf("membership update should be ignored, got %v", err)
	}
	if len(e.sender.messages) != 0 {
		t.Fatalf("no reply expected, got %v", e.sender.messages)
	}
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	e := newEnv(t)
	if err := e.bot.HandleUpdate(context.Background(), []byte("{")); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	e := newEnv(t)
	e.connectWallet(t)
	e.send(t, "swap 10 USDC for ETH")

	// 另一个用户在另一个聊天里确认，不会触碰第一个会话的意图。
	update := telegram.Update{
		Message: &telegram.Message{
			Chat: telegram.Chat{ID: 99, Type: "private"},
			From: &telegram.User{ID: 8},
			Text: "confirm",
		},
	}
	payload, _ := json.Marshal(update)
	if err := e.bot.HandleUpdate(context.Background(), payload); err != nil {
		t.Fatalf("HandleUpdate returned error: %v", err)
	}
	if len(e.ledger.executed) != 0 {
		t.Fatalf("other session must not execute this session's intent")
	}

	sess, err := e.sessions.Get(context.Background(), "10_7")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !sess.HasPending() {
		t.Fatalf("pending intent should still be there")
	}
}

func TestSessionLocksAreReleasedWhenIdle(t *testing.T) {
	e := newEnv(t)
	e.send(t, "/start")
	e.sendChat(t, 11, "private", "/start")
	e.sendChat(t, 12, "private", "what is starknet?")

	e.bot.mu.Lock()
	held := len(e.bot.locks)
	e.bot.mu.Unlock()
	if held != 0 {
		t.Fatalf("lock table should be empty between messages, got %d entries", held)
	}
}
