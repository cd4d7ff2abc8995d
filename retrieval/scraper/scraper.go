// Package scraper fetches a web page and converts its main content to
// markdown.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
)

// Metadata describes the scraped webpage.
type Metadata struct {
	// Title is the title of the webpage.
	Title string `json:"title,omitempty"`
	// Author is the author of the webpage content.
	Author string `json:"author,omitempty"`
	// Description is the meta description of the webpage.
	Description string `json:"description,omitempty"`
	// SiteName is the name of the website.
	SiteName string `json:"sitename,omitempty"`
	// Domain is the domain name of the website.
	Domain string `json:"domain,omitempty"`
}

// Page is the extraction result.
type Page struct {
	// Content is the scraped content in markdown format.
	Content string `json:"content,omitempty"`
	// Metadata about the scraped webpage.
	Metadata *Metadata `json:"metadata,omitempty"`
}

type Config struct {
	// userAgent User agent string to use for requests.
	userAgent string
	// timeout for HTTP requests
	timeout time.Duration
	// maxContentLength Maximum content length in bytes to process.
	maxContentLength int64
	httpClient       *http.Client
}

type Scraper struct {
	Config
}

func New(opts ...Option) *Scraper {
	ret := new(Scraper)
	for _, opt := range opts {
		opt(&ret.Config)
	}
	if ret.userAgent == "" {
		ret.userAgent = DefaultUserAgent
	}
	if ret.timeout == 0 {
		ret.timeout = 30 * time.Second
	}
	if ret.maxContentLength == 0 {
		ret.maxContentLength = 1_000_000
	}
	if ret.httpClient == nil {
		ret.httpClient = &http.Client{Timeout: ret.timeout}
	}
	return ret
}

// Extract fetches the page and returns its main content as markdown.
// Non-HTML payloads and HTTP errors fail; the caller decides whether that
// is fatal.
func (s *Scraper) Extract(ctx context.Context, link string) (*Page, error) {
	parsedURL, err := url.ParseRequestURI(link)
	if err != nil {
		return nil, err
	}
	doc, err := s.fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	mainContent := s.extractMainContent(doc)
	markdown, err := htmltomarkdown.ConvertString(
		mainContent,
		converter.WithDomain(fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)),
	)
	if err != nil {
		return nil, err
	}
	markdown = s.cleanMarkdownContent(markdown)
	meta := new(Metadata)
	meta.Domain = parsedURL.Host
	s.extractMetadata(doc, meta)
	return &Page{Content: markdown, Metadata: meta}, nil
}

func (s *Scraper) fetch(ctx context.Context, link string) (*goquery.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Accept", DefaultAccept)
	httpReq.Header.Set("Connection", "keep-alive")
	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", httpResp.StatusCode, link)
	}
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, s.maxContentLength))
	if err != nil {
		return nil, err
	}
	if mime := mimetype.Detect(body); !strings.HasPrefix(mime.String(), "text/") && !mime.Is("application/xhtml+xml") && !mime.Is("application/xml") {
		return nil, fmt.Errorf("non-text content %s at %s", mime.String(), link)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(string(body)))
}

// extractMetadata extracts metadata from the webpage
func (s *Scraper) extractMetadata(doc *goquery.Document, meta *Metadata) {
	meta.Title = doc.Find("head title").Text()
	meta.Author, _ = doc.Find("meta[name='author']").Attr("content")
	meta.Description, _ = doc.Find("meta[name='description']").Attr("content")
	meta.SiteName, _ = doc.Find("meta[property='og:site_name']").Attr("content")
}

// extractMainContent extracts the main content from the webpage using custom heuristics
func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	for _, tag := range []string{"script", "style", "nav", "header", "footer"} {
		doc.Find(tag).Remove()
	}
	contentCandidates := []string{
		"main",
		"#content, #main",
		".content, .main",
		"article",
		"body",
	}
	var mainContent string
	for _, selector := range contentCandidates {
		sel := doc.Find(selector)
		if sel.Length() > 0 {
			if txt, err := sel.Html(); err == nil {
				mainContent = txt
				break
			}
		}
	}
	if mainContent == "" {
		mainContent, _ = doc.Html()
	}
	return mainContent
}

var blankLines = regexp.MustCompile(`\r?\n{2,}`)

// cleanMarkdownContent removes excessive whitespace and normalizes formatting
func (s *Scraper) cleanMarkdownContent(content string) string {
	content = blankLines.ReplaceAllString(content, "\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	return strings.TrimSpace(content) + "\n"
}
