// Package retrieval is the capability gateway over a web search provider
// and a page-content extractor. Failures here are per-source and never
// fatal to a research session.
package retrieval

import (
	"context"
	"fmt"
)

// Result is one ranked search hit. Snippet carries the search engine's own
// content extract, usable as degraded evidence when the page fetch fails.
type Result struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet,omitempty"`
	Query     string  `json:"query"`
	Rank      int     `json:"rank"`
	Relevance float64 `json:"relevance"`
}

// Gateway exposes the two retrieval capabilities the research core needs.
// Implementations must be safe for concurrent use by many sessions and
// must NOT retry fetches on their own; retrying is the controller's policy
// decision.
type Gateway interface {
	// Search returns up to topK ranked results. A fresh call re-queries
	// the provider.
	Search(ctx context.Context, query string, topK int) ([]Result, error)
	// FetchAndExtract returns the page's main content as markdown, or a
	// *FetchError.
	FetchAndExtract(ctx context.Context, link string) (string, error)
}

// FetchError is a per-source retrieval failure: timeout, HTTP error or
// non-text content. Sources failing this way are logged and skipped.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
