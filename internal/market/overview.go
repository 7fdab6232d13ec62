package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketchat/internal/api"
	"marketchat/internal/config"
)

// Labels maps the index-proxy ETF symbols to display names.
var Labels = map[string]string{
	"IVV": "S&P 500",
	"SPY": "S&P 500",
	"VOO": "S&P 500",
	"QQQ": "NASDAQ 100",
	"DIA": "Dow Jones",
	"IWM": "Russell 2000",
	"TLT": "US 20Y Treasury",
	"GLD": "Gold",
	"USO": "WTI Oil",
}

// Backend covers the market endpoints of the chat service.
type Backend interface {
	MarketOverview(ctx context.Context, category string, newsLimit int) (api.Overview, error)
	QuoteSymbol(ctx context.Context, symbol string) (api.Quote, error)
}

// Client 市场总览客户端：短 TTL 缓存避免高频刷新打满配额
// Client serves the market dashboard. Responses are memoized with a short
// TTL, mirroring the vendor-side quote cache, so hammering the refresh
// button does not burn quota.
type Client struct {
	backend   Backend
	cache     *gocache.Cache
	symbols   []string
	category  string
	newsLimit int
	logger    *zap.Logger
}

func NewClient(backend Backend, cfg config.MarketConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := time.Duration(cfg.CacheTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Client{
		backend:   backend,
		cache:     gocache.New(ttl, 2*ttl),
		symbols:   append([]string(nil), cfg.Symbols...),
		category:  cfg.Category,
		newsLimit: cfg.NewsLimit,
		logger:    logger,
	}
}

// Overview fetches index-proxy quotes plus news for a category. The empty
// category falls back to the configured default.
func (c *Client) Overview(ctx context.Context, category string) (api.Overview, error) {
	if strings.TrimSpace(category) == "" {
		category = c.category
	}
	key := "overview|" + category
	if hit, ok := c.cache.Get(key); ok {
		return hit.(api.Overview), nil
	}
	overview, err := c.backend.MarketOverview(ctx, category, c.newsLimit)
	if err != nil {
		return api.Overview{}, fmt.Errorf("market overview: %w", err)
	}
	c.cache.SetDefault(key, overview)
	return overview, nil
}

// Quotes fetches quotes for the given symbols concurrently. Per-symbol
// failures degrade to an error entry; the batch itself never fails.
// Results keep the input order.
func (c *Client) Quotes(ctx context.Context, symbols []string) []api.SymbolQuote {
	if len(symbols) == 0 {
		symbols = c.symbols
	}
	results := make([]api.SymbolQuote, len(symbols))
	g, ctx := errgroup.WithContext(ctx)
	for i, raw := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		results[i] = api.SymbolQuote{Symbol: sym}
		g.Go(func() error {
			key := "quote|" + sym
			if hit, ok := c.cache.Get(key); ok {
				quote := hit.(api.Quote)
				results[i].Quote = &quote
				return nil
			}
			quote, err := c.backend.QuoteSymbol(ctx, sym)
			if err != nil {
				results[i].Err = err.Error()
				c.logger.Debug("quote fetch failed", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			c.cache.SetDefault(key, quote)
			results[i].Quote = &quote
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// PercentChange formats the change against the previous close as a signed
// percentage, or "-" when the inputs cannot produce one.
func PercentChange(current, previousClose float64) string {
	if previousClose == 0 {
		return "-"
	}
	v := (current - previousClose) / previousClose * 100
	sign := ""
	if v >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, v)
}
