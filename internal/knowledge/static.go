package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Snippet 描述静态知识库中的一段知识。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 通过加载 JSON 文件提供静态问答能力。
// 未配置远端知识服务时作为降级实现使用。
type StaticProvider struct {
	items []Snippet
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet) *StaticProvider {
	return &StaticProvider{items: items}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}
	return NewStaticProvider(entries), nil
}

// Ask 实现 Provider 接口：按关键词与标题做朴素匹配，
// 命中最多者胜出，没有命中则回复 Apology。
func (p *StaticProvider) Ask(_ context.Context, prompt string) string {
	lower := strings.ToLower(prompt)

	var best *Snippet
	bestScore := 0
	for i := range p.items {
		item := &p.items[i]
		score := 0
		if title := strings.ToLower(strings.TrimSpace(item.Title)); title != "" && strings.Contains(lower, title) {
			score += 2
		}
		for _, keyword := range item.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword != "" && strings.Contains(lower, keyword) {
				score++
			}
		}
		if score > bestScore {
			best = item
			bestScore = score
		}
	}

	if best == nil || strings.TrimSpace(best.Content) == "" {
		return Apology
	}
	return best.Content
}

var _ Provider = (*StaticProvider)(nil)
