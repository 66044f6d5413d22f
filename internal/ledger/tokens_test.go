package ledger

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

const tokensFixture = `
native:
  symbol: ETH
  decimals: 18
tokens:
  - symbol: USDC
    address: "0xusdc"
    decimals: 6
  - symbol: DAI
    address: "0xdai"
    decimals: 18
`

func loadFixture(t *testing.T) *TokenRegistry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(tokensFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	registry, err := LoadTokenRegistry(path)
	if err != nil {
		t.Fatalf("LoadTokenRegistry returned error: %v", err)
	}
	return registry
}

func TestLoadTokenRegistryDefaults(t *testing.T) {
	registry, err := LoadTokenRegistry("")
	if err != nil {
		t.Fatalf("LoadTokenRegistry returned error: %v", err)
	}
	native := registry.Native()
	if native.Symbol != "ETH" || native.Decimals != 18 {
		t.Fatalf("unexpected native token: %+v", native)
	}
}

func TestResolve(t *testing.T) {
	registry := loadFixture(t)

	token, ok := registry.Resolve("")
	if !ok || token.Symbol != "ETH" || token.Address != "" {
		t.Fatalf("empty input should resolve to native: %+v", token)
	}

	token, ok = registry.Resolve("usdc")
	if !ok || token.Address != "0xusdc" || token.Decimals != 6 {
		t.Fatalf("symbol lookup should be case insensitive: %+v", token)
	}

	token, ok = registry.Resolve("0xSomeContract")
	if !ok || token.Address != "0xSomeContract" || token.Decimals != 18 {
		t.Fatalf("raw address should pass through: %+v", token)
	}

	if _, ok := registry.Resolve("NOPE"); ok {
		t.Fatalf("unknown symbol should not resolve")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int
		want     string
	}{
		{"1500000000000000000", 18, "1.5"},
		{"1000000000000000000", 18, "1"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
		{"1234567", 6, "1.234567"},
		{"42", 0, "42"},
	}
	for _, tc := range cases {
		amount, _ := new(big.Int).SetString(tc.amount, 10)
		if got := FormatAmount(amount, tc.decimals); got != tc.want {
			t.Fatalf("FormatAmount(%s, %d) = %q, want %q", tc.amount, tc.decimals, got, tc.want)
		}
	}
	if got := FormatAmount(nil, 18); got != "0" {
		t.Fatalf("nil amount should format as 0, got %q", got)
	}
}
