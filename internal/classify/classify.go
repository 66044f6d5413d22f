package classify

import (
	"strings"

	"StarkFinder/internal/session"
)

// Kind 是消息分类结果的标签。
type Kind string

const (
	// KindCommand 表示以命令前缀开头的显式命令。
	KindCommand Kind = "command"
	// KindConfirm 表示对当前待确认交易的确认回复。
	KindConfirm Kind = "confirm"
	// KindTransaction 表示命中触发词的交易请求。
	KindTransaction Kind = "transaction"
	// KindKnowledge 表示其余自由文本，走知识问答路径。
	KindKnowledge Kind = "knowledge"
)

// Result 是一次分类的完整输出。
type Result struct {
	Kind Kind
	// Command 与 Args 仅在 KindCommand 时有效。
	Command string
	Args    string
	// ConfirmCode 是确认消息携带的可选确认码，仅在 KindConfirm 时有效。
	ConfirmCode string
	// Text 是原始消息文本（去除首尾空白）。
	Text string
}

const (
	commandMarker  = "/"
	confirmKeyword = "confirm"
)

// defaultTriggerWords 是命中即视为交易请求的触发词。
var defaultTriggerWords = []string{"swap", "transfer", "send"}

// Classifier 把自由文本归入四类之一。
// 规则按优先级排列：显式命令与显式确认永远先于触发词启发，
// 确认消息因此不可能被误路由到知识问答。
type Classifier struct {
	triggerWords []string
}

// New 创建分类器。triggerWords 为空时使用默认触发词。
func New(triggerWords []string) *Classifier {
	words := make([]string, 0, len(triggerWords))
	for _, word := range triggerWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		words = defaultTriggerWords
	}
	return &Classifier{triggerWords: words}
}

// Classify 根据当前会话（可能为 nil）与消息文本给出分类结果。
func (c *Classifier) Classify(sess *session.Session, text string) Result {
	text = strings.TrimSpace(text)
	result := Result{Text: text}

	// 规则一：命令前缀。
	if strings.HasPrefix(text, commandMarker) {
		name, args, _ := strings.Cut(strings.TrimPrefix(text, commandMarker), " ")
		result.Kind = KindCommand
		result.Command = strings.ToLower(strings.TrimSpace(name))
		result.Args = strings.TrimSpace(args)
		return result
	}

	lower := strings.ToLower(text)

	// 规则二：确认关键字，且会话上确实有待确认意图。
	// 允许附带确认码："confirm" 或 "confirm <code>"。
	if sess.HasPending() {
		if lower == confirmKeyword {
			result.Kind = KindConfirm
			return result
		}
		if rest, ok := strings.CutPrefix(lower, confirmKeyword+" "); ok {
			code := strings.TrimSpace(rest)
			if code != "" && !strings.ContainsRune(code, ' ') {
				result.Kind = KindConfirm
				result.ConfirmCode = code
				return result
			}
		}
	}

	// 规则三：触发词启发。
	for _, word := range c.triggerWords {
		if strings.Contains(lower, word) {
			result.Kind = KindTransaction
			return result
		}
	}

	// 规则四：知识问答兜底。
	result.Kind = KindKnowledge
	return result
}
