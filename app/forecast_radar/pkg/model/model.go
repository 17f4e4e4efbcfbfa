package model

import (
	"fmt"
	"strings"
	"time"
)

// QuestionType 问题类型
type QuestionType string

const (
	Binary         QuestionType = "binary"
	Numeric        QuestionType = "numeric"
	Discrete       QuestionType = "discrete"
	MultipleChoice QuestionType = "multiple_choice"
)

// Valid 是否为支持的问题类型
func (t QuestionType) Valid() bool {
	switch t {
	case Binary, Numeric, Discrete, MultipleChoice:
		return true
	}
	return false
}

// Details 问题的判定细节，调研和预测 prompt 都会引用
type Details struct {
	ResolutionCriteria string `yaml:"resolution_criteria" json:"resolution_criteria,omitempty"`
	Description        string `yaml:"description" json:"description,omitempty"`
	FinePrint          string `yaml:"fine_print" json:"fine_print,omitempty"`
	// Field 可选的领域提示
	Field string `yaml:"field" json:"field,omitempty"`
}

// Scaling 数值问题的取值范围
type Scaling struct {
	RangeMin float64 `yaml:"range_min" json:"range_min"`
	RangeMax float64 `yaml:"range_max" json:"range_max"`
	// ZeroPoint 非空时 CDF 横轴使用对数刻度
	ZeroPoint           *float64 `yaml:"zero_point" json:"zero_point,omitempty"`
	InboundOutcomeCount int      `yaml:"inbound_outcome_count" json:"inbound_outcome_count,omitempty"`
}

// Question 待预测的问题
type Question struct {
	ID      string       `yaml:"id" json:"id"`
	Type    QuestionType `yaml:"type" json:"type"`
	Title   string       `yaml:"title" json:"title"`
	Details `yaml:",inline"`

	Unit           string   `yaml:"unit" json:"unit,omitempty"`
	Options        []string `yaml:"options" json:"options,omitempty"`
	Scaling        Scaling  `yaml:"scaling" json:"scaling"`
	OpenUpperBound bool     `yaml:"open_upper_bound" json:"open_upper_bound,omitempty"`
	OpenLowerBound bool     `yaml:"open_lower_bound" json:"open_lower_bound,omitempty"`

	AlreadyForecasted bool `yaml:"already_forecasted" json:"already_forecasted,omitempty"`
}

// CheckOptions 多选题至少两个选项，选项不能为空也不能重复
func CheckOptions(options []string) error {
	if len(options) < 2 {
		return fmt.Errorf("needs at least 2 options, got %d", len(options))
	}
	seen := make(map[string]struct{}, len(options))
	for i, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option #%d is empty", i+1)
		}
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("duplicate option %q", opt)
		}
		seen[opt] = struct{}{}
	}
	return nil
}

// NewsItem 调研阶段收集到的一条新闻
type NewsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link,omitempty"`
	Source  string `json:"source,omitempty"`
	PubDate string `json:"pub_date,omitempty"`
	Content string `json:"content,omitempty"`
}

// ForecastRecord 一次预测的输出记录，按行写入 JSONL
type ForecastRecord struct {
	ID         string       `json:"id"`
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	Title      string       `json:"title"`
	Estimate   any          `json:"estimate,omitempty"`
	CDF        []float64    `json:"cdf,omitempty"`
	Comment    string       `json:"comment,omitempty"`
	RunsOK     int          `json:"runs_ok"`
	RunsFailed int          `json:"runs_failed"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
