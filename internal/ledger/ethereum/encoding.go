package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/ledger"
)

const wordSize = 32

// encodeCall 把一条调用编码为交易输入。RawData 优先生效，
// 否则由入口名和参数表拼出选择器加定长字。
func encodeCall(call ledger.Call) ([]byte, error) {
	if !common.IsHexAddress(call.To) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "目标合约地址非法")
	}
	if raw := strings.TrimSpace(call.RawData); raw != "" {
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "调用数据不是合法的十六进制")
		}
		return data, nil
	}

	entrypoint := strings.TrimSpace(call.Entrypoint)
	if entrypoint == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "调用缺少入口或原始数据")
	}

	data := make([]byte, 0, 4+len(call.Args)*wordSize)
	data = append(data, selector(entrypoint, len(call.Args))...)
	for i, arg := range call.Args {
		word, err := encodeWord(arg)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("第 %d 个参数编码失败", i+1))
		}
		data = append(data, word...)
	}
	return data, nil
}

// selector 计算函数选择器。入口名已带签名时按原样取哈希，
// 否则按参数个数补齐 uint256 参数表。
func selector(entrypoint string, argCount int) []byte {
	signature := entrypoint
	if !strings.Contains(entrypoint, "(") {
		params := make([]string, argCount)
		for i := range params {
			params[i] = "uint256"
		}
		signature = entrypoint + "(" + strings.Join(params, ",") + ")"
	}
	return crypto.Keccak256([]byte(signature))[:4]
}

// encodeWord 把单个参数编码为 32 字节字。
// 接受十进制、0x 前缀十六进制以及地址字面量。
func encodeWord(arg string) ([]byte, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, fmt.Errorf("参数为空")
	}
	value, ok := new(big.Int).SetString(arg, 0)
	if !ok {
		return nil, fmt.Errorf("无法解析参数 %q", arg)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("参数 %q 不能为负", arg)
	}
	if value.BitLen() > wordSize*8 {
		return nil, fmt.Errorf("参数 %q 超出 256 位", arg)
	}
	word := make([]byte, wordSize)
	value.FillBytes(word)
	return word, nil
}
