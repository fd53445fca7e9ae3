// Package httpfetch implements the HTTP-backed content source for mlld's
// alligator `<https://...>` loader references: GET with timeout and
// max-size limits, content-type dispatch (HTML title/meta-description
// extraction, tag-stripping), and Markdown conversion. Grounded on
// pkg/pipeline/handlers/http.go's context.WithTimeout + io.ReadAll request
// shape.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultMaxSize = 10 << 20 // 10MiB
)

// Fetched is the raw result of an HTTP content fetch, pre-extraction.
type Fetched struct {
	URL         string
	Status      int
	ContentType string
	Body        string
	Headers     map[string]string
}

// Options configures Fetch.
type Options struct {
	Timeout time.Duration
	MaxSize int64
}

// Fetch performs a GET against urlStr, bounding both wall-clock time and
// response size.
func Fetch(ctx context.Context, urlStr string, opts Options) (Fetched, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return Fetched{}, fmt.Errorf("httpfetch: build request for %q: %w", urlStr, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Fetched{}, fmt.Errorf("httpfetch: GET %q: %w", urlStr, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Fetched{}, fmt.Errorf("httpfetch: read body of %q: %w", urlStr, err)
	}
	if int64(len(data)) > maxSize {
		return Fetched{}, fmt.Errorf("httpfetch: response from %q exceeds max size %d bytes", urlStr, maxSize)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return Fetched{
		URL:         urlStr,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        string(data),
		Headers:     headers,
	}, nil
}

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaRe  = regexp.MustCompile(`(?is)<meta\s+name=["']description["']\s+content=["'](.*?)["']`)
	tagRe   = regexp.MustCompile(`(?s)<[^>]+>`)
	wsRe    = regexp.MustCompile(`\s+`)
)

// ExtractHTML pulls a page title, meta description, and a tag-stripped
// plain-text body out of raw HTML, populating the Ctx fields
// internal/value.Ctx names for web-sourced content.
func ExtractHTML(html string) (title, description, plainText string) {
	if m := titleRe.FindStringSubmatch(html); len(m) == 2 {
		title = strings.TrimSpace(wsRe.ReplaceAllString(m[1], " "))
	}
	if m := metaRe.FindStringSubmatch(html); len(m) == 2 {
		description = strings.TrimSpace(m[1])
	}
	stripped := tagRe.ReplaceAllString(html, " ")
	plainText = strings.TrimSpace(wsRe.ReplaceAllString(stripped, " "))
	return title, description, plainText
}

// ToMarkdown does a best-effort HTML-to-Markdown conversion for the common
// tags mlld content loading is expected to see (headings, paragraphs,
// line breaks, links); any other tag, lists included, is stripped and its
// text kept.
func ToMarkdown(html string) string {
	s := html
	for level := 1; level <= 6; level++ {
		hashes := strings.Repeat("#", level)
		open := regexp.MustCompile(fmt.Sprintf(`(?is)<h%d[^>]*>`, level))
		close := regexp.MustCompile(fmt.Sprintf(`(?is)</h%d>`, level))
		s = open.ReplaceAllString(s, "\n"+hashes+" ")
		s = close.ReplaceAllString(s, "\n")
	}
	s = regexp.MustCompile(`(?is)<p[^>]*>`).ReplaceAllString(s, "\n\n")
	s = regexp.MustCompile(`(?is)</p>`).ReplaceAllString(s, "")
	s = regexp.MustCompile(`(?is)<br\s*/?>`).ReplaceAllString(s, "\n")
	s = regexp.MustCompile(`(?is)<a[^>]+href=["'](.*?)["'][^>]*>(.*?)</a>`).ReplaceAllString(s, "[$2]($1)")
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
