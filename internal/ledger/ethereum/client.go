package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/ledger"
)

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 3 * time.Second
)

// multicallABI 是聚合合约的 aggregate 入口，批次要么整体上链要么整体失败。
const multicallABI = `[{"name":"aggregate","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}]}]`

// erc20ABI 只声明余额查询所需的最小接口。
const erc20ABI = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}]`

// Config describes how to construct an EVM compatible ledger client.
type Config struct {
	RPCURL           string
	ChainID          int64
	MulticallAddress string
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
}

// Client implements the ledger.Client interface for EVM compatible chains.
type Client struct {
	rpcClient      *gethrpc.Client
	eth            backend
	chainID        *big.Int
	multicall      common.Address
	hasMulticall   bool
	confirmTimeout time.Duration
	pollInterval   time.Duration
	multicallAPI   abi.ABI
	erc20API       abi.ABI
}

// backend 抽象执行与查询所需的节点能力，便于测试替换。
type backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本网络 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接账本网络节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	client, err := newClient(cfg, eth)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient

	if client.chainID == nil {
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
		client.chainID = chainID
	}
	return client, nil
}

func newClient(cfg Config, eth backend) (*Client, error) {
	multicallAPI, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return nil, fmt.Errorf("解析聚合合约 ABI 失败: %w", err)
	}
	erc20API, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}

	client := &Client{
		eth:            eth,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		multicallAPI:   multicallAPI,
		erc20API:       erc20API,
	}
	if client.confirmTimeout <= 0 {
		client.confirmTimeout = defaultConfirmTimeout
	}
	if client.pollInterval <= 0 {
		client.pollInterval = defaultPollInterval
	}
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	if addr := strings.TrimSpace(cfg.MulticallAddress); addr != "" {
		client.multicall = common.HexToAddress(addr)
		client.hasMulticall = true
	}
	return client, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// account 持有单次执行所需的密钥材料，Execute 返回后即被丢弃。
type account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// Address 实现 ledger.Account 接口。
func (a *account) Address() string {
	return a.address.Hex()
}

// BuildAccount 校验签名凭证并派生地址。凭证内容从不出现在错误信息里。
func (c *Client) BuildAccount(credential string) (ledger.Account, error) {
	credential = strings.TrimPrefix(strings.TrimSpace(credential), "0x")
	key, err := crypto.HexToECDSA(credential)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "签名凭证非法")
	}
	return &account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Execute 把 calls 作为单个原子批次提交并等待确认。
// 多步调用经由聚合合约提交，任何一步失败整笔回滚。
func (c *Client) Execute(ctx context.Context, acct ledger.Account, calls []ledger.Call) (string, error) {
	signer, ok := acct.(*account)
	if !ok || signer.key == nil {
		return "", xerrors.New(xerrors.CodeExecution, "账户缺少签名能力")
	}
	if len(calls) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "没有可执行的步骤")
	}

	to, data, err := c.buildPayload(calls)
	if err != nil {
		return "", err
	}

	nonce, err := c.eth.PendingNonceAt(ctx, signer.address)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExecution, err, "获取账户 nonce 失败")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExecution, err, "获取 gas 价格失败")
	}
	gasLimit, err := c.eth.EstimateGas(ctx, gethcore.CallMsg{
		From: signer.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExecution, err, "估算 gas 失败")
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), signer.key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeExecution, err, "交易签名失败")
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", xerrors.Wrap(xerrors.CodeExecution, err, "提交交易失败")
	}

	// 已提交不等于成功：必须等到回执且状态为成功才向上报告。
	if err := c.awaitConfirmation(ctx, signedTx.Hash()); err != nil {
		return "", err
	}
	return signedTx.Hash().Hex(), nil
}

// ReadBalance 读取余额。tokenAddress 为空时查询原生资产。
func (c *Client) ReadBalance(ctx context.Context, tokenAddress, accountAddress string) (*big.Int, error) {
	owner := common.HexToAddress(accountAddress)
	if strings.TrimSpace(tokenAddress) == "" {
		balance, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQuery, err, "查询原生资产余额失败")
		}
		return balance, nil
	}

	input, err := c.erc20API.Pack("balanceOf", owner)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuery, err, "编码 balanceOf 调用失败")
	}
	token := common.HexToAddress(tokenAddress)
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQuery, err, "查询代币余额失败")
	}
	values, err := c.erc20API.Unpack("balanceOf", output)
	if err != nil || len(values) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeQuery, err, "解析代币余额失败")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeQuery, "代币余额类型非法")
	}
	return balance, nil
}

// buildPayload 把步骤序列编码为一次提交：单步直达目标合约，
// 多步必须经由聚合合约。
func (c *Client) buildPayload(calls []ledger.Call) (common.Address, []byte, error) {
	if len(calls) == 1 && !c.hasMulticall {
		data, err := encodeCall(calls[0])
		if err != nil {
			return common.Address{}, nil, err
		}
		return common.HexToAddress(calls[0].To), data, nil
	}
	if !c.hasMulticall {
		return common.Address{}, nil, xerrors.New(xerrors.CodeExecution, "多步交易需要配置聚合合约地址")
	}

	type aggregateCall struct {
		Target   common.Address
		CallData []byte
	}
	aggregated := make([]aggregateCall, 0, len(calls))
	for i, call := range calls {
		data, err := encodeCall(call)
		if err != nil {
			return common.Address{}, nil, xerrors.Wrap(xerrors.CodeExecution, err, fmt.Sprintf("编码第 %d 步失败", i+1))
		}
		aggregated = append(aggregated, aggregateCall{
			Target:   common.HexToAddress(call.To),
			CallData: data,
		})
	}
	data, err := c.multicallAPI.Pack("aggregate", aggregated)
	if err != nil {
		return common.Address{}, nil, xerrors.Wrap(xerrors.CodeExecution, err, "编码聚合调用失败")
	}
	return c.multicall, data, nil
}

// awaitConfirmation 轮询回执直到确认、超时或上下文取消。
func (c *Client) awaitConfirmation(ctx context.Context, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != coretypes.ReceiptStatusSuccessful {
				return xerrors.New(xerrors.CodeExecution, "交易已上链但执行被回滚")
			}
			return nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return xerrors.Wrap(xerrors.CodeExecution, err, "查询交易回执失败")
		}

		select {
		case <-waitCtx.Done():
			return xerrors.Wrap(xerrors.CodeExecution, waitCtx.Err(), "等待交易确认超时")
		case <-ticker.C:
		}
	}
}

var _ ledger.Client = (*Client)(nil)
