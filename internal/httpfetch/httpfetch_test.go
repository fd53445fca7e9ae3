package httpfetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mlld-lang/mlld/internal/httpfetch"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	got, err := httpfetch.Fetch(context.Background(), srv.URL, httpfetch.Options{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", got.Status)
	}
	if got.Body != "hello world" {
		t.Fatalf("Body = %q", got.Body)
	}
	if got.ContentType != "text/plain" {
		t.Fatalf("ContentType = %q", got.ContentType)
	}
}

func TestFetchRespectsMaxSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := httpfetch.Fetch(context.Background(), srv.URL, httpfetch.Options{MaxSize: 10})
	if err == nil {
		t.Fatal("expected error when response exceeds MaxSize")
	}
}

func TestFetchRespectsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("too slow"))
	}))
	defer srv.Close()

	_, err := httpfetch.Fetch(context.Background(), srv.URL, httpfetch.Options{Timeout: 5 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestExtractHTML(t *testing.T) {
	html := `<html><head><title>  My Page  </title>
	<meta name="description" content="a test page"></head>
	<body><p>Hello <b>World</b></p></body></html>`

	title, description, plainText := httpfetch.ExtractHTML(html)
	if title != "My Page" {
		t.Fatalf("title = %q", title)
	}
	if description != "a test page" {
		t.Fatalf("description = %q", description)
	}
	if !strings.Contains(plainText, "Hello") || !strings.Contains(plainText, "World") {
		t.Fatalf("plainText = %q", plainText)
	}
	if strings.Contains(plainText, "<") {
		t.Fatalf("plainText should have all tags stripped: %q", plainText)
	}
}

func TestToMarkdown(t *testing.T) {
	html := `<h1>Title</h1><p>Some <a href="https://example.com">link</a> text.</p>`
	got := httpfetch.ToMarkdown(html)

	if !strings.Contains(got, "# Title") {
		t.Fatalf("ToMarkdown() missing heading: %q", got)
	}
	if !strings.Contains(got, "[link](https://example.com)") {
		t.Fatalf("ToMarkdown() missing converted link: %q", got)
	}
}
