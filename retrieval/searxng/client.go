// Package searxng is a search provider client for a SearxNG instance.
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type Category = string

const (
	GeneralCategory Category = "general"
	NewsCategory    Category = "news"
	EmptyCategory   Category = ""
)

// Result represents a single search result item
type Result struct {
	// URL The URL of the search result
	URL string `json:"url"`
	// Title The title of the search result
	Title string `json:"title"`
	// Content The content snippet of the search result
	Content string `json:"content,omitempty"`
	// Query The query used to obtain this search result
	Query string `json:"query"`
	// PublishedDate of the search result when known
	PublishedDate string `json:"publishedDate,omitempty"`
	// Score is the engine-reported ranking score
	Score float64 `json:"score,omitempty"`
}

// response is the entire payload returned by the search engine
type response struct {
	Query           string   `json:"query"`
	NumberOfResults int      `json:"number_of_results"`
	Results         []Result `json:"results"`
}

type Config struct {
	language   string
	baseURL    string
	engines    []string
	maxResults int
	httpClient *http.Client
}

// Client queries a SearxNG instance. A fresh Search call always re-queries;
// results are never cached or restartable.
type Client struct {
	Config
}

func New(opts ...Option) *Client {
	ret := new(Client)
	for _, opt := range opts {
		opt(&ret.Config)
	}
	if ret.maxResults == 0 {
		ret.maxResults = 10
	}
	if len(ret.engines) == 0 {
		ret.engines = []string{"bing", "duckduckgo", "google", "startpage", "yandex"}
	}
	if ret.httpClient == nil {
		ret.httpClient = http.DefaultClient
	}
	return ret
}

// Search returns up to topK ranked results for the query. topK <= 0 falls
// back to the configured max.
func (c *Client) Search(ctx context.Context, query string, category Category, topK int) ([]Result, error) {
	if topK <= 0 || topK > c.maxResults {
		topK = c.maxResults
	}
	results, err := c.fetchSearchResults(ctx, query, category)
	if err != nil {
		return nil, err
	}
	// drop entries missing the fields downstream consumers rely on
	kept := make([]Result, 0, len(results))
	for _, item := range results {
		if item.URL == "" || item.Title == "" {
			continue
		}
		kept = append(kept, item)
		if len(kept) >= topK {
			break
		}
	}
	return kept, nil
}

// fetchSearchResults queries the search engine and returns the parsed search response
func (c *Client) fetchSearchResults(ctx context.Context, query string, category Category) ([]Result, error) {
	values := url.Values{}
	values.Set("q", query)
	values.Set("safesearch", "0")
	values.Set("format", "json")
	values.Set("engines", strings.Join(c.engines, ","))
	if c.language != "" {
		values.Set("language", c.language)
	}
	if category != "" {
		values.Set("categories", category)
	}
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, values.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error querying search engine: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 response from search engine: %d", httpResp.StatusCode)
	}

	var searchResponse response
	if err := json.NewDecoder(httpResp.Body).Decode(&searchResponse); err != nil {
		return nil, err
	}
	for idx := range searchResponse.Results {
		searchResponse.Results[idx].Query = query
	}
	return searchResponse.Results, nil
}
