package knowledge

import "context"

// Apology 是知识路径失败时的固定回复。
// 知识问答永远不把错误抛给调用方，只降级为这句话。
const Apology = "Sorry, I am unable to process your request at the moment."

// Provider 定义知识问答的统一接口。
type Provider interface {
	// Ask 返回针对 prompt 的回答文本。实现不返回错误：
	// 任何失败都在内部记录并降级为 Apology。
	Ask(ctx context.Context, prompt string) string
}
