package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/extract"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/search"
)

const (
	// 摘要短于该长度时尝试抓取正文
	minSnippetLen = 500
	maxContentLen = 5000
	maxNewsItems  = 20
	// 额外按实体搜索的数量
	entityQueries = 3
)

// searchNews 阶段 4：搜索服务结果加上模型整理的新闻列表，条数不足不算失败
func (p *Pipeline) searchNews(ctx context.Context, rc *Context) error {
	log := p.log.WithField("stage", StageNews.String())

	searched := p.searchArticles(ctx, rc, log)
	rc.NewsItems = append(rc.NewsItems, searched...)

	var searchContext string
	if len(searched) > 0 {
		var sb strings.Builder
		sb.WriteString(searchContextHeader)
		sb.WriteString(formatNews(searched))
		sb.WriteString("\n")
		searchContext = sb.String()
	}

	entities := "none identified"
	if len(rc.Entities) > 0 {
		entities = strings.Join(rc.Entities, ", ")
	}
	text, err := p.invoke(ctx, fmt.Sprintf(newsPrompt,
		rc.Question,
		rc.Field,
		entities,
		p.opts.Now().Format(time.DateOnly),
		searchContext,
		p.opts.NewsTarget,
		p.opts.NewsDays,
	))
	if err != nil {
		log.Warnf("新闻整理失败，保留 %d 条搜索结果: %v", len(searched), err)
		return nil
	}

	for _, item := range extract.ListItems(text) {
		if len(rc.NewsItems) >= maxNewsItems {
			break
		}
		title, summary := splitHeadline(item)
		rc.NewsItems = append(rc.NewsItems, model.NewsItem{
			Title:   title,
			Source:  "model",
			Content: summary,
		})
	}

	if len(rc.NewsItems) < p.opts.NewsTarget {
		log.WithField("news_items", len(rc.NewsItems)).Warn("新闻条数少于目标值")
	}
	return nil
}

// searchArticles 调用搜索服务，按 URL 去重，过短的摘要用正文补全
func (p *Pipeline) searchArticles(ctx context.Context, rc *Context, log logrus.FieldLogger) []model.NewsItem {
	if p.opts.Searcher == nil {
		return nil
	}

	startDate, endDate := search.NewsWindow(p.opts.Now(), p.opts.NewsDays)
	queries := []string{truncate(rc.Question, 300)}
	for i, e := range rc.Entities {
		if i >= entityQueries {
			break
		}
		queries = append(queries, e+" "+rc.Field)
	}

	seen := make(map[string]struct{})
	var items []model.NewsItem
	for _, q := range queries {
		if len(items) >= p.opts.NewsTarget {
			break
		}
		resp, err := p.opts.Searcher.Search(ctx, &search.Request{
			Query:      q,
			Topic:      "news",
			MaxResults: p.opts.NewsTarget,
			StartDate:  startDate,
			EndDate:    endDate,
		})
		if err != nil {
			log.WithField("query", q).Warnf("搜索失败: %v", err)
			continue
		}

		for _, r := range resp.Results {
			if len(items) >= p.opts.NewsTarget {
				break
			}
			if _, dup := seen[r.URL]; dup || r.Title == "" {
				continue
			}
			seen[r.URL] = struct{}{}
			items = append(items, model.NewsItem{
				Title:   r.Title,
				Link:    r.URL,
				Source:  "search",
				PubDate: r.PublishedDate,
				Content: p.enrich(ctx, r, log),
			})
		}
	}
	log.WithField("news_items", len(items)).Debug("搜索完成")
	return items
}

func (p *Pipeline) enrich(ctx context.Context, r search.Result, log logrus.FieldLogger) string {
	content := r.Content
	if r.RawContent != "" && len(r.RawContent) > len(content) {
		content = r.RawContent
	}
	if p.opts.Fetch != nil && len(content) < minSnippetLen && r.URL != "" {
		fetched, err := p.opts.Fetch(ctx, r.URL)
		if err != nil {
			log.WithField("url", r.URL).Debugf("抓取正文失败: %v", err)
		} else if len(fetched) > len(content) {
			content = fetched
		}
	}
	return truncate(strings.TrimSpace(content), maxContentLen)
}

// splitHeadline 拆分 "标题 - 说明" 形式的条目
func splitHeadline(item string) (string, string) {
	for _, sep := range []string{" — ", " – ", " - ", ": "} {
		if i := strings.Index(item, sep); i > 0 {
			return strings.TrimSpace(item[:i]), strings.TrimSpace(item[i+len(sep):])
		}
	}
	return item, ""
}
