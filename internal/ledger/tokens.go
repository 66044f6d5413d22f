package ledger

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Token 描述代币注册表中的一个条目。
type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// TokenRegistry 维护符号到代币元数据的映射，用于余额命令的
// 符号解析与金额的可读格式化。
type TokenRegistry struct {
	tokens map[string]Token
	native Token
}

// tokenFile 对应 configs/tokens.yaml 的结构。
type tokenFile struct {
	Native Token   `yaml:"native"`
	Tokens []Token `yaml:"tokens"`
}

// LoadTokenRegistry 从 YAML 文件加载代币注册表。
// path 为空时返回只含默认原生资产的注册表。
func LoadTokenRegistry(path string) (*TokenRegistry, error) {
	registry := &TokenRegistry{
		tokens: map[string]Token{},
		native: Token{Symbol: "ETH", Decimals: 18},
	}
	if strings.TrimSpace(path) == "" {
		return registry, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取代币注册表失败: %w", err)
	}

	var file tokenFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析代币注册表失败: %w", err)
	}

	if file.Native.Symbol != "" {
		if file.Native.Decimals <= 0 {
			file.Native.Decimals = 18
		}
		registry.native = file.Native
	}
	for _, token := range file.Tokens {
		if token.Symbol == "" || token.Address == "" {
			continue
		}
		if token.Decimals <= 0 {
			token.Decimals = 18
		}
		registry.tokens[strings.ToUpper(token.Symbol)] = token
	}
	return registry, nil
}

// Native 返回原生资产的元数据。
func (r *TokenRegistry) Native() Token {
	return r.native
}

// Resolve 把用户输入解析为代币条目。
// 输入可以是注册过的符号，也可以是直接给出的合约地址。
func (r *TokenRegistry) Resolve(input string) (Token, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return r.native, true
	}
	if token, ok := r.tokens[strings.ToUpper(input)]; ok {
		return token, true
	}
	if strings.HasPrefix(input, "0x") {
		// 未注册的地址仍然可查询，小数位按 18 处理，符号未知。
		return Token{Symbol: "tokens", Address: input, Decimals: 18}, true
	}
	return Token{}, false
}

// FormatAmount 把最小单位金额格式化为带小数点的可读字符串。
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(amount, divisor, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return fmt.Sprintf("%s.%s", whole.String(), fracStr)
}
