package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketchat/internal/chat"
	"marketchat/internal/config"
)

// Client 封装聊天后端的全部 HTTP 接口
// Client wraps every HTTP endpoint of the chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.ServerConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Chat 发送完整消息序列，返回助手回复文本
// Chat posts the full message sequence and returns the assistant reply.
// Missing content in a 2xx response is returned as the empty string.
func (c *Client) Chat(ctx context.Context, messages []chat.Message, sessionID string) (string, error) {
	var out chatResponse
	err := c.post(ctx, "/api/chat", chatRequest{Messages: messages, SessionID: sessionID}, &out)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// ListSessions returns the server-side session directory.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out sessionListResponse
	if err := c.get(ctx, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SessionMessages returns the persisted history of one session.
func (c *Client) SessionMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	var out sessionMessagesResponse
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// GetReport 查询已生成的报告；404 映射为 ErrReportNotFound
// GetReport fetches an existing report for the session. A 404 maps to
// ErrReportNotFound; any other non-2xx is a real failure.
func (c *Client) GetReport(ctx context.Context, sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", fmt.Errorf("session id is empty")
	}
	var out reportResponse
	err := c.get(ctx, "/api/agent/stock-report/"+url.PathEscape(id), nil, &out)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return "", ErrReportNotFound
		}
		return "", err
	}
	return out.Report, nil
}

// CreateReport asks the backend agent to generate a fresh report for the
// session. The legacy symbol field is sent empty; current backends derive
// the symbol from the session context.
func (c *Client) CreateReport(ctx context.Context, sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", fmt.Errorf("session id is empty")
	}
	var out reportResponse
	if err := c.post(ctx, "/api/agent/stock-report", reportRequest{SessionID: id}, &out); err != nil {
		return "", err
	}
	return out.Report, nil
}

// MarketOverview fetches index-proxy quotes and market news in one call.
func (c *Client) MarketOverview(ctx context.Context, category string, newsLimit int) (Overview, error) {
	if strings.TrimSpace(category) == "" {
		category = "general"
	}
	if newsLimit <= 0 {
		newsLimit = 12
	}
	query := url.Values{}
	query.Set("category", category)
	query.Set("news_limit", strconv.Itoa(newsLimit))
	var out Overview
	if err := c.get(ctx, "/api/market/overview", query, &out); err != nil {
		return Overview{}, err
	}
	return out, nil
}

// QuoteSymbol fetches a single realtime quote.
func (c *Client) QuoteSymbol(ctx context.Context, symbol string) (Quote, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return Quote{}, fmt.Errorf("symbol is empty")
	}
	query := url.Values{}
	query.Set("symbol", sym)
	var out Quote
	if err := c.get(ctx, "/api/tools/quote", query, &out); err != nil {
		return Quote{}, err
	}
	return out, nil
}

// Login authenticates against the backend; the session cookie (if any)
// lives in the underlying http.Client jar owned by the caller's process.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.post(ctx, "/api/login", loginRequest{Username: username, Password: password}, nil)
}

// Logout 尽力通知服务端；失败由调用方忽略
// Logout is best-effort: callers ignore the error and proceed regardless.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/api/logout", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response %s: %w", req.URL.Path, err)
	}
	return nil
}
