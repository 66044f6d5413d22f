package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"StarkFinder/pkg/logger"
)

const (
	defaultBaseURL       = "https://api.brianknows.org"
	defaultKnowledgeBase = "starknet_kb"
	defaultTimeout       = 30 * time.Second

	knowledgePath = "/api/v0/agent/knowledge"
)

// RemoteConfig 描述远端知识服务的调用参数。
type RemoteConfig struct {
	APIKey        string
	BaseURL       string
	KnowledgeBase string
	Timeout       time.Duration
}

// RemoteProvider 通过 Brian 知识 API 回答自由问题。
type RemoteProvider struct {
	apiKey        string
	baseURL       string
	knowledgeBase string
	httpClient    *http.Client
}

// NewRemoteProvider 创建远端知识提供者。
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供知识服务 API Key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	kb := strings.TrimSpace(cfg.KnowledgeBase)
	if kb == "" {
		kb = defaultKnowledgeBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RemoteProvider{
		apiKey:        apiKey,
		baseURL:       baseURL,
		knowledgeBase: kb,
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

// Ask 实现 Provider 接口。
func (p *RemoteProvider) Ask(ctx context.Context, prompt string) string {
	answer, err := p.ask(ctx, prompt)
	if err != nil {
		logger.L().Warn("知识问答失败", slog.Any("error", err))
		return Apology
	}
	return answer
}

func (p *RemoteProvider) ask(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"kb":     p.knowledgeBase,
	})
	if err != nil {
		return "", fmt.Errorf("序列化知识请求失败: %w", err)
	}

	endpoint := p.baseURL + knowledgePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建知识请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-brian-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求知识服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("知识服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Result struct {
			Answer string `json:"answer"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析知识响应失败: %w", err)
	}
	answer := strings.TrimSpace(decoded.Result.Answer)
	if answer == "" {
		return "", errors.New("知识服务返回空回答")
	}
	return answer, nil
}

var _ Provider = (*RemoteProvider)(nil)
