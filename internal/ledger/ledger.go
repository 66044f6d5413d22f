package ledger

import (
	"context"
	"math/big"
)

// Call 描述一笔原子链上调用。RawData 非空时直接作为调用数据，
// 否则由 Entrypoint 与 Args 编码得到。
type Call struct {
	To         string
	Entrypoint string
	Args       []string
	RawData    string
}

// Account 是一次执行所需的签名能力。实现只在单次 Execute 的
// 生命周期内持有解析后的密钥材料，调用方用完即弃。
type Account interface {
	// Address 返回派生出的链上地址。
	Address() string
}

// Client 定义账本网络的窄接口：构造账户、原子批量执行、余额读取。
type Client interface {
	// BuildAccount 校验签名凭证并派生账户。凭证非法时返回错误，
	// 不产生任何副作用。
	BuildAccount(credential string) (Account, error)
	// Execute 把 calls 作为单个原子批次提交，并阻塞等待网络确认
	// 后返回交易标识。已提交未确认不算成功。
	Execute(ctx context.Context, account Account, calls []Call) (string, error)
	// ReadBalance 读取余额。tokenAddress 为空时返回原生资产余额。
	ReadBalance(ctx context.Context, tokenAddress, accountAddress string) (*big.Int, error)
	// Close 释放底层连接。
	Close()
}
