// Package question 从本地文件读取待预测的问题。
package question

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

var (
	// ErrInvalidQuestion 问题字段不完整或不合法
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrNotFound 指定 ID 的问题不存在
	ErrNotFound = errors.New("question not found")
)

// File 问题文件的结构，YAML 和 JSON 均可
type File struct {
	Questions []model.Question `yaml:"questions"`
}

// Load 读取并校验问题文件
func Load(path string) ([]model.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	return Parse(data)
}

// Parse 解析问题列表，ID 重复或任一问题不合法时返回错误
func Parse(data []byte) ([]model.Question, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	seen := make(map[string]bool, len(f.Questions))
	for i := range f.Questions {
		q := &f.Questions[i]
		if err := Validate(q); err != nil {
			return nil, fmt.Errorf("question #%d: %w", i+1, err)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("question #%d: %w: duplicate id %s", i+1, ErrInvalidQuestion, q.ID)
		}
		seen[q.ID] = true
	}
	return f.Questions, nil
}

// Validate 检查题型相关的必填字段
func Validate(q *model.Question) error {
	switch {
	case q.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidQuestion)
	case q.Title == "":
		return fmt.Errorf("%w: %s missing title", ErrInvalidQuestion, q.ID)
	case !q.Type.Valid():
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidQuestion, q.ID, q.Type)
	}
	switch q.Type {
	case model.MultipleChoice:
		if err := model.CheckOptions(q.Options); err != nil {
			return fmt.Errorf("%w: %s %v", ErrInvalidQuestion, q.ID, err)
		}
	case model.Numeric, model.Discrete:
		s := q.Scaling
		if (s.RangeMin != 0 || s.RangeMax != 0) && s.RangeMax <= s.RangeMin {
			return fmt.Errorf("%w: %s range [%v, %v]", ErrInvalidQuestion, q.ID, s.RangeMin, s.RangeMax)
		}
	}
	return nil
}

// Select 按 ID 过滤问题，ids 为空时选择全部；
// skipForecasted 为 true 时跳过已预测过的问题，返回被跳过的数量
func Select(qs []model.Question, ids []string, skipForecasted bool) ([]model.Question, int, error) {
	pool := qs
	if len(ids) > 0 {
		pool = make([]model.Question, 0, len(ids))
		for _, id := range ids {
			q, err := Find(qs, id)
			if err != nil {
				return nil, 0, err
			}
			pool = append(pool, *q)
		}
	}

	var (
		out     []model.Question
		skipped int
	)
	for _, q := range pool {
		if skipForecasted && q.AlreadyForecasted {
			skipped++
			continue
		}
		out = append(out, q)
	}
	return out, skipped, nil
}

// Find 按 ID 查找问题
func Find(qs []model.Question, id string) (*model.Question, error) {
	for i := range qs {
		if qs[i].ID == id {
			return &qs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
