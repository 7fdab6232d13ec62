package api

import "marketchat/internal/chat"

// Session 会话目录条目（服务端所有）
// Session is one entry of the server-side session directory.
type Session struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type sessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

type sessionMessagesResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

type chatRequest struct {
	Messages  []chat.Message `json:"messages"`
	SessionID string         `json:"session_id"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

type reportRequest struct {
	SessionID string `json:"session_id"`
	// Symbol is accepted by an older variant of the endpoint; the current
	// backend derives the symbol from the session context.
	Symbol string `json:"symbol,omitempty"`
}

type reportResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Report    string `json:"report"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Quote Finnhub 风格的即时报价
// Quote is a Finnhub-style realtime quote.
type Quote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// SymbolQuote pairs a symbol with its quote; per-symbol failures are
// reported in Err instead of failing the whole batch.
type SymbolQuote struct {
	Symbol string `json:"symbol"`
	Quote  *Quote `json:"quote,omitempty"`
	Err    string `json:"error,omitempty"`
}

// NewsItem is one market news entry.
type NewsItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"`
}

// Overview 市场总览：指数代理报价 + 新闻
// Overview is the market dashboard payload: index-proxy quotes plus news.
type Overview struct {
	Quotes []SymbolQuote `json:"quotes"`
	News   []NewsItem    `json:"news"`
}
