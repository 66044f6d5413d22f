package extraction

import "context"

// Step 描述一笔原子链上操作。steps 顺序敏感，执行时作为一个
// multicall 批次整体提交，绝不拆分执行。
type Step struct {
	// ContractAddress 是目标合约地址。
	ContractAddress string `json:"contract_address"`
	// Entrypoint 是入口函数标识，例如 "transfer(address,uint256)"。
	Entrypoint string `json:"entrypoint"`
	// Calldata 是入口参数列表，十六进制或十进制字符串。
	Calldata []string `json:"calldata,omitempty"`
	// RawData 是解析服务直接给出的已编码调用数据。
	// 非空时优先于 Entrypoint/Calldata 使用。
	RawData string `json:"raw_data,omitempty"`
}

// TransactionIntent 是交易解析得到的结构化意图。
// 展示类字段（FromSymbol 等）只用于预览，执行只看 Steps。
type TransactionIntent struct {
	// ID 是本次意图的唯一标识，用于日志与审计。
	ID string `json:"id"`
	// ConfirmCode 是绑定在该意图上的短确认码。
	// 用户回复 "confirm" 或 "confirm <code>" 均可执行；
	// 携带的确认码与当前意图不符时拒绝执行。
	ConfirmCode string `json:"confirm_code"`
	// Action 是操作的语义类型，例如 swap、transfer。
	Action string `json:"action"`
	// Description 是解析服务给出的自然语言描述。
	Description string `json:"description,omitempty"`
	// Steps 是执行用的原子操作序列。
	Steps []Step `json:"steps"`

	// 以下字段仅用于预览展示，缺失时降级为 "Unknown"。
	FromSymbol string `json:"from_symbol,omitempty"`
	ToSymbol   string `json:"to_symbol,omitempty"`
	FromAmount string `json:"from_amount,omitempty"`
	ToAmount   string `json:"to_amount,omitempty"`
	Receiver   string `json:"receiver,omitempty"`
	// EstimatedCostUSD 是预估费用（美元），仅展示。
	EstimatedCostUSD string `json:"estimated_cost_usd,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// Client 定义把自由文本解析为交易意图的统一接口。
// 解析失败时返回 EXTRACTION_FAILURE，调用方不得改动会话中已有的待确认意图。
type Client interface {
	Extract(ctx context.Context, prompt, walletAddress, chainID string) (*TransactionIntent, error)
}
