package output

import (
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// Summary 一批预测的汇总，用于渲染 HTML
type Summary struct {
	Date      string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Records   []model.ForecastRecord
}

// NewSummary 按记录统计成功和失败数
func NewSummary(now time.Time, records []model.ForecastRecord, skipped int) Summary {
	s := Summary{Date: now.Format(time.DateOnly), Total: len(records), Skipped: skipped, Records: records}
	for _, r := range records {
		if r.Error != "" {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}

var funcs = template.FuncMap{"headline": headline}

var page = template.Must(template.New("summary").Funcs(funcs).Parse(htmlTpl))

// RenderHTML 渲染汇总页
func RenderHTML(w io.Writer, s Summary) error {
	return page.Execute(w, s)
}

// WriteHTML 渲染到文件
func WriteHTML(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return RenderHTML(f, s)
}

// headline 取评论的第一行，即聚合结果
func headline(comment string) string {
	first, _, _ := strings.Cut(comment, "\n")
	return first
}

const htmlTpl = `
<!DOCTYPE html>
<html lang="zh-CN">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>预测雷达 | {{ .Date }}</title>
    <script src="https://cdn.jsdelivr.net/npm/marked/marked.min.js"></script>
    <style>
        :root {
            --primary-color: #2563eb;
            --bg-color: #f8fafc;
            --card-bg: #ffffff;
            --text-main: #1e293b;
            --text-secondary: #64748b;
            --border-color: #e2e8f0;
        }
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            background-color: var(--bg-color);
            color: var(--text-main);
            line-height: 1.6;
            margin: 0;
            padding: 20px;
        }
        .container { max-width: 900px; margin: 0 auto; }
        header { text-align: center; margin-bottom: 40px; padding: 20px 0; }
        h1 { font-size: 2.5rem; margin: 0 0 10px 0; }
        .date-info { color: var(--text-secondary); }
        .card {
            background: var(--card-bg);
            border-radius: 12px;
            padding: 24px;
            margin-bottom: 30px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.05);
            border: 1px solid var(--border-color);
        }
        .card-header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 16px;
            border-bottom: 1px solid #f1f5f9;
            padding-bottom: 12px;
        }
        .card-title { font-size: 1.3rem; font-weight: 700; color: #0f172a; }
        .badge { padding: 4px 12px; border-radius: 20px; font-weight: bold; background: #dcfce7; color: #166534; }
        .badge-failed { background: #fee2e2; color: #991b1b; }
        .estimate { font-size: 1.1rem; font-weight: 600; color: var(--primary-color); margin-bottom: 12px; }
        .runs { color: var(--text-secondary); font-size: 0.9rem; }
        details summary { cursor: pointer; color: var(--text-secondary); }
    </style>
</head>
<body>
    <div class="container">
        <header>
            <h1>📡 预测雷达</h1>
            <div class="date-info">{{ .Date }} • 共 {{ .Total }} 题 • 成功 {{ .Succeeded }} • 失败 {{ .Failed }}{{ if .Skipped }} • 跳过 {{ .Skipped }}{{ end }}</div>
        </header>

        {{range .Records}}
        <div class="card">
            <div class="card-header">
                <div class="card-title">{{.Title}}</div>
                {{if .Error}}<div class="badge badge-failed">失败</div>{{else}}<div class="badge">{{.Type}}</div>{{end}}
            </div>
            {{if .Error}}
            <div class="runs">{{.Error}}</div>
            {{else}}
            <div class="estimate">{{headline .Comment}}</div>
            <div class="runs">问题 {{.QuestionID}} • 成功运行 {{.RunsOK}} • 失败运行 {{.RunsFailed}}</div>
            <details>
                <summary>推理过程</summary>
                <div class="markdown-content"></div>
                <div style="display:none" class="raw-comment">{{.Comment}}</div>
            </details>
            {{end}}
        </div>
        {{end}}
    </div>

    <script>
        document.addEventListener('DOMContentLoaded', function() {
            document.querySelectorAll('.raw-comment').forEach(el => {
                el.previousElementSibling.innerHTML = marked.parse(el.textContent);
            });
        });
    </script>
</body>
</html>
`
