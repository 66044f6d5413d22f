package brian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "StarkFinder/internal/errors"
	"StarkFinder/internal/extraction"
)

const (
	defaultBaseURL = "https://api.brianknows.org"
	defaultTimeout = 30 * time.Second

	transactionPath = "/api/v0/agent"
)

// Config 描述调用 Brian 交易解析 API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Brian 的自然语言交易解析能力。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建 Brian 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Brian API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// rawResponse 对应 Brian 返回的异构结构。EVM 链上 steps 携带
// to/data，Starknet 风格携带 contractAddress/entrypoint/calldata，
// 这里同时兼容两种形态。
type rawResponse struct {
	Error  string `json:"error,omitempty"`
	Result []struct {
		Action string `json:"action"`
		Solver string `json:"solver,omitempty"`
		Data   struct {
			Description string `json:"description,omitempty"`
			Steps       []struct {
				ContractAddress string   `json:"contractAddress,omitempty"`
				To              string   `json:"to,omitempty"`
				Entrypoint      string   `json:"entrypoint,omitempty"`
				Calldata        []string `json:"calldata,omitempty"`
				Data            string   `json:"data,omitempty"`
			} `json:"steps"`
			FromToken  *tokenInfo `json:"fromToken,omitempty"`
			ToToken    *tokenInfo `json:"toToken,omitempty"`
			FromAmount string     `json:"fromAmount,omitempty"`
			ToAmount   string     `json:"toAmount,omitempty"`
			Receiver   string     `json:"receiver,omitempty"`
			GasCostUSD string     `json:"gasCostUSD,omitempty"`
		} `json:"data"`
	} `json:"result"`
}

type tokenInfo struct {
	Symbol string `json:"symbol"`
}

// Extract 调用解析服务并把响应规整为内部交易意图。
func (c *Client) Extract(ctx context.Context, prompt, walletAddress, chainID string) (*extraction.TransactionIntent, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":  prompt,
		"address": walletAddress,
		"chainId": chainID,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "序列化解析请求失败")
	}

	endpoint := c.baseURL + transactionPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "构建解析请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Brian-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "交易解析超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "请求交易解析服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeExtraction,
			fmt.Sprintf("解析服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "解析服务响应格式非法")
	}
	if decoded.Error != "" {
		return nil, xerrors.New(xerrors.CodeExtraction, fmt.Sprintf("解析服务报告错误: %s", decoded.Error))
	}
	if len(decoded.Result) == 0 {
		return nil, xerrors.New(xerrors.CodeExtraction, "解析服务未返回任何结果")
	}

	first := decoded.Result[0]
	if len(first.Data.Steps) == 0 {
		return nil, xerrors.New(xerrors.CodeExtraction, "解析结果不包含可执行步骤")
	}

	steps := make([]extraction.Step, 0, len(first.Data.Steps))
	for i, raw := range first.Data.Steps {
		target := strings.TrimSpace(raw.ContractAddress)
		if target == "" {
			target = strings.TrimSpace(raw.To)
		}
		if target == "" {
			return nil, xerrors.New(xerrors.CodeExtraction, fmt.Sprintf("第 %d 步缺少目标合约地址", i+1))
		}
		if strings.TrimSpace(raw.Entrypoint) == "" && strings.TrimSpace(raw.Data) == "" {
			return nil, xerrors.New(xerrors.CodeExtraction, fmt.Sprintf("第 %d 步缺少入口或调用数据", i+1))
		}
		steps = append(steps, extraction.Step{
			ContractAddress: target,
			Entrypoint:      strings.TrimSpace(raw.Entrypoint),
			Calldata:        raw.Calldata,
			RawData:         strings.TrimSpace(raw.Data),
		})
	}

	intentID := uuid.NewString()
	intent := &extraction.TransactionIntent{
		ID:               intentID,
		ConfirmCode:      confirmCode(intentID),
		Action:           displayOr(first.Action, "Unknown"),
		Description:      first.Data.Description,
		Steps:            steps,
		FromSymbol:       symbolOf(first.Data.FromToken),
		ToSymbol:         symbolOf(first.Data.ToToken),
		FromAmount:       first.Data.FromAmount,
		ToAmount:         first.Data.ToAmount,
		Receiver:         first.Data.Receiver,
		EstimatedCostUSD: strings.TrimSpace(first.Data.GasCostUSD),
		CreatedAt:        time.Now().Unix(),
	}
	return intent, nil
}

// confirmCode 从意图 ID 派生出短确认码。
func confirmCode(intentID string) string {
	compact := strings.ReplaceAll(intentID, "-", "")
	if len(compact) > 6 {
		compact = compact[:6]
	}
	return compact
}

// symbolOf 在 token 元数据缺失时降级为 "Unknown"，而不是让整次解析失败。
func symbolOf(token *tokenInfo) string {
	if token == nil || strings.TrimSpace(token.Symbol) == "" {
		return "Unknown"
	}
	return token.Symbol
}

func displayOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

var _ extraction.Client = (*Client)(nil)
