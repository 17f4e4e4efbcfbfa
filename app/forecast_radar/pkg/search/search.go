package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

// Searcher 定义通用的搜索接口
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Request 通用搜索请求
type Request struct {
	Query             string
	Topic             string // "news" or "general"
	MaxResults        int
	IncludeRawContent bool
	StartDate         string // Format: YYYY-MM-DD
	EndDate           string // Format: YYYY-MM-DD
}

// Response 通用搜索响应
type Response struct {
	Results []Result
}

// Result 单条搜索结果
type Result struct {
	Title         string
	URL           string
	Content       string
	RawContent    string
	Score         float64
	PublishedDate string
}

// Fetcher 抓取网页正文
type Fetcher func(ctx context.Context, url string) (string, error)

// ReadabilityFetcher 使用 go-readability 抽取正文，请求随 ctx 取消
func ReadabilityFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context, pageURL string) (string, error) {
		parsed, err := url.ParseRequestURI(pageURL)
		if err != nil {
			return "", fmt.Errorf("failed to parse URL: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to fetch the page: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to fetch the page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("failed to fetch the page: status %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
			return "", fmt.Errorf("URL is not a HTML document: %s", ct)
		}
		article, err := readability.FromReader(resp.Body, parsed)
		if err != nil {
			return "", err
		}
		return article.TextContent, nil
	}
}

// NewsWindow 返回最近 days 天的起止日期
func NewsWindow(now time.Time, days int) (start, end string) {
	if days < 1 {
		days = 1
	}
	return now.AddDate(0, 0, -days).Format(time.DateOnly), now.Format(time.DateOnly)
}
