package session

import (
	"context"
	"time"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/extraction"
)

// DefaultTTL 是会话的默认静默过期窗口。
const DefaultTTL = 30 * time.Minute

// 会话相关的错误码。
const (
	CodeSessionNotFound xerrors.Code = "SESSION_NOT_FOUND"
	CodeNoPending       xerrors.Code = "SESSION_NO_PENDING"
)

func init() {
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{
		Message:  "session not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNoPending, xerrors.Attributes{
		Message:  "no pending transaction",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrNotFound 表示会话不存在或已过期。
	ErrNotFound = xerrors.New(CodeSessionNotFound, "会话不存在或已过期")
	// ErrNoPending 表示会话中没有待确认的交易意图。
	ErrNoPending = xerrors.New(CodeNoPending, "没有待确认的交易")
)

// Session 是单个用户在单个会话中的全部状态。
// 字段彼此正交：流水线状态由 Pending 是否存在推导，从不单独存储。
type Session struct {
	// Key 是会话的唯一标识，由 chatID 与 userID 组合而成。
	Key string `json:"key"`
	// WalletAddress 在钱包连接后出现。
	WalletAddress string `json:"wallet_address,omitempty"`
	// SigningCredential 是签名凭证，仅会话自身持有，
	// 绝不写入日志，除执行适配器外绝不外传。
	SigningCredential string `json:"signing_credential,omitempty"`
	// Pending 是最多一个的待确认交易意图。
	Pending *extraction.TransactionIntent `json:"pending,omitempty"`
	// LastActivity 在每条到达会话处理的入站消息上更新。
	LastActivity int64 `json:"last_activity"`
	// IsGroup 在会话创建时确定，之后不再修改。
	IsGroup bool `json:"is_group"`
	// CreatedAt 是会话创建时间。
	CreatedAt int64 `json:"created_at"`
}

// HasWallet 判断会话是否已连接钱包。
func (s *Session) HasWallet() bool {
	return s != nil && s.WalletAddress != "" && s.SigningCredential != ""
}

// HasPending 判断会话是否有待确认的交易意图。
func (s *Session) HasPending() bool {
	return s != nil && s.Pending != nil
}

// StaleAt 返回会话的过期时刻。
func (s *Session) StaleAt(ttl time.Duration) time.Time {
	return time.Unix(s.LastActivity, 0).Add(ttl)
}

// Update 描述一次部分更新。nil 字段保持原值，语义为 last-write-wins。
// Pending 不经由 Update 修改：命令路径在结构上就无法触碰待确认意图。
type Update struct {
	WalletAddress     *string
	SigningCredential *string
	IsGroup           *bool
}

// Store 抽象会话的存取。实现必须保证不同 key 之间互不干扰，
// 并且 TakePending 对单个 key 是原子的：这正是 clear-before-execute
// 转换的落点，重复的确认消息最多只能取到一次意图。
type Store interface {
	// Get 返回指定会话；不存在或已过期返回 ErrNotFound。
	// 过期会话绝不返回，因此也绝不可能再授权执行。
	Get(ctx context.Context, key string) (*Session, error)
	// Upsert 应用部分更新并刷新活跃时间，会话不存在时创建。
	Upsert(ctx context.Context, key string, update Update) (*Session, error)
	// Touch 仅刷新活跃时间，会话不存在时创建。
	Touch(ctx context.Context, key string, isGroup bool) (*Session, error)
	// SetPending 覆盖写入待确认意图（last-request-wins）。
	SetPending(ctx context.Context, key string, intent *extraction.TransactionIntent) error
	// TakePending 原子地取出并清除待确认意图；没有则返回 ErrNoPending。
	TakePending(ctx context.Context, key string) (*extraction.TransactionIntent, error)
	// ClearPending 丢弃待确认意图（若有）。
	ClearPending(ctx context.Context, key string) error
	// Close 释放底层资源。
	Close() error
}
