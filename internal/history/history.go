// Package history 记录已确认执行的交易结果，供 /history 命令
// 与查询接口回溯。
package history

import (
	"context"
)

// Outcome 表示一次执行的终态。
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Record 描述一次已确认的执行。只保留可公开的字段，
// 签名凭证从不落库。
type Record struct {
	ID            string  `json:"id"`
	SessionKey    string  `json:"session_key"`
	IntentID      string  `json:"intent_id"`
	WalletAddress string  `json:"wallet_address"`
	Action        string  `json:"action"`
	Description   string  `json:"description"`
	Outcome       Outcome `json:"outcome"`
	TxHash        string  `json:"tx_hash,omitempty"`
	FailureCode   string  `json:"failure_code,omitempty"`
	CreatedAt     int64   `json:"created_at"`
}

// ListOptions 控制历史查询的范围。
type ListOptions struct {
	SessionKey string
	Limit      int
}

const defaultListLimit = 20

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
}

// Repository 抽象历史记录的持久化。
type Repository interface {
	// Append 追加一条记录。记录 ID 由调用方生成。
	Append(ctx context.Context, record *Record) error
	// List 按创建时间倒序返回记录。
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	// Close 释放底层资源。
	Close() error
}
