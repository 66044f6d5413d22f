package telegram

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

	xerrors "StarkFinder/internal/errors"
)

const (
	defaultAPIBaseURL = "https://api.telegram.org"
	defaultTimeout    = 10 * time.Second
)

// Sender 定义向用户投递文本消息的能力。
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Config 描述 Bot API 客户端所需的信息。
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client 通过 Telegram Bot API 发送消息。
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建 Bot API 客户端。
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("未提供 Telegram Bot Token")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		token:   token,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SendMessage 以 Markdown 模式向指定会话发送一条文本消息。
// 投递失败统一包装为 TRANSPORT_FAILURE，调用方只能记录日志。
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "chat_id 不能为空")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "序列化消息失败")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "构建 sendMessage 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "请求 Telegram Bot API 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return xerrors.New(xerrors.CodeTransport,
			fmt.Sprintf("Telegram 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "解析 Telegram 响应失败")
	}
	if !decoded.OK {
		return xerrors.New(xerrors.CodeTransport, "Telegram 拒绝了消息投递")
	}
	return nil
}
