package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Sample Article</title>
<meta name="author" content="Jane Roe">
<meta name="description" content="A sample article for tests.">
<meta property="og:site_name" content="Example News">
</head>
<body>
<nav>ignore this navigation</nav>
<article>
<h1>Heading</h1>
<p>First paragraph of the article.</p>
<p>Second paragraph with a <a href="/relative">relative link</a>.</p>
</article>
<footer>ignore this footer</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()
	s := New()
	page, err := s.Extract(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("Error extracting page: %v", err)
	}
	if !strings.Contains(page.Content, "First paragraph of the article.") {
		t.Errorf("Expect article text in markdown, got %q", page.Content)
	}
	if strings.Contains(page.Content, "ignore this navigation") {
		t.Errorf("Expect navigation stripped, got %q", page.Content)
	}
	if page.Metadata.Title != "Sample Article" {
		t.Errorf("Expect title Sample Article, but got %s", page.Metadata.Title)
	}
	if page.Metadata.Author != "Jane Roe" {
		t.Errorf("Expect author Jane Roe, but got %s", page.Metadata.Author)
	}
	if page.Metadata.SiteName != "Example News" {
		t.Errorf("Expect sitename Example News, but got %s", page.Metadata.SiteName)
	}
}

func TestExtractNonText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00})
	}))
	defer srv.Close()
	s := New()
	if _, err := s.Extract(context.Background(), srv.URL+"/image.png"); err == nil {
		t.Fatal("expected error for non-text content")
	}
}

func TestExtractHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	s := New()
	if _, err := s.Extract(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
