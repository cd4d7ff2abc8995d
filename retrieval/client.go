package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/retrieval/scraper"
	"github.com/bububa/deep-researcher/retrieval/searxng"
)

const (
	// position-based relevance mirrors the search engine's own ordering
	relevanceStep  = 0.1
	relevanceFloor = 0.1
)

type Config struct {
	callTimeout time.Duration
	logger      *zap.Logger
}

// Client is the Gateway implementation composing a SearxNG search client
// and the page scraper. One Client is shared by all sessions.
type Client struct {
	Config
	search  *searxng.Client
	scraper *scraper.Scraper
}

var _ Gateway = (*Client)(nil)

func NewClient(search *searxng.Client, scr *scraper.Scraper, opts ...Option) *Client {
	ret := &Client{search: search, scraper: scr}
	for _, opt := range opts {
		opt(&ret.Config)
	}
	if ret.callTimeout == 0 {
		ret.callTimeout = 30 * time.Second
	}
	if ret.logger == nil {
		ret.logger = zap.NewNop()
	}
	return ret
}

// Search queries the search provider and scores results by position:
// 1.0 - 0.1*rank, floored at 0.1.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	raw, err := c.search.Search(callCtx, query, searxng.GeneralCategory, topK)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(raw))
	for idx, item := range raw {
		relevance := 1.0 - float64(idx)*relevanceStep
		if relevance < relevanceFloor {
			relevance = relevanceFloor
		}
		results = append(results, Result{
			URL:       item.URL,
			Title:     item.Title,
			Snippet:   item.Content,
			Query:     item.Query,
			Rank:      idx,
			Relevance: relevance,
		})
	}
	return results, nil
}

// FetchAndExtract fetches one page with a per-call timeout. Never retried
// here.
func (c *Client) FetchAndExtract(ctx context.Context, link string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	page, err := c.scraper.Extract(callCtx, link)
	if err != nil {
		c.logger.Debug("page fetch failed", zap.String("url", link), zap.Error(err))
		return "", &FetchError{URL: link, Err: err}
	}
	return page.Content, nil
}
