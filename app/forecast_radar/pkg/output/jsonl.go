// Package output 把预测结果写成 JSON Lines 文件和 HTML 汇总页。
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// JSONWriter 每条记录一行 JSON，可并发写入
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	count   int
}

// NewJSONWriter 创建文件，父目录不存在时一并创建
func NewJSONWriter(path string) (*JSONWriter, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &JSONWriter{file: f, encoder: json.NewEncoder(f)}, nil
}

// Write 写入一条记录
func (w *JSONWriter) Write(r model.ForecastRecord) error {
	r.Title = sanitize(r.Title)
	r.Comment = sanitize(r.Comment)
	r.Error = sanitize(r.Error)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(r); err != nil {
		return fmt.Errorf("write record %s: %w", r.QuestionID, err)
	}
	w.count++
	return nil
}

// Count 已写入的记录数
func (w *JSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close 关闭文件
func (w *JSONWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// sanitize 移除无效的 UTF-8 字符和 NULL 字节
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r == utf8.RuneError {
				continue
			}
			v = append(v, r)
		}
		s = string(v)
	}
	return strings.ReplaceAll(s, "\x00", "")
}
