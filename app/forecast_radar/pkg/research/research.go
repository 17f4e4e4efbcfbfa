// Package research 在预测前为问题生成调研报告。
//
// Pipeline 按 分类 -> 实体 -> 实体分析 -> 新闻 -> 汇总 五个阶段严格顺序执行，
// 每个阶段的 prompt 依赖前面阶段的结果。只有最后的汇总阶段失败会导致整次调研失败，
// 其余阶段失败时降级继续。DirectProvider 则只做一次带系统提示词的调用。
package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// GeneralField 分类失败时使用的领域
const GeneralField = "general"

// Provider 调研服务
type Provider interface {
	Run(ctx context.Context, question string, details model.Details) (string, error)
}

// Stage 流水线阶段
type Stage int

const (
	StageClassify Stage = iota + 1
	StageEntities
	StageAnalyze
	StageNews
	StageSynthesize
)

var stageNames = map[Stage]string{
	StageClassify:   "classify",
	StageEntities:   "entities",
	StageAnalyze:    "analyze",
	StageNews:       "news",
	StageSynthesize: "synthesize",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ErrEmptyQuestion 问题为空
var ErrEmptyQuestion = errors.New("research: empty question")

// StageError 阶段失败
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("research stage %d/%d (%s) failed: %v", int(e.Stage), int(StageSynthesize), e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// EntityAnalysis 单个实体的分析
type EntityAnalysis struct {
	Entity   string `json:"entity"`
	Analysis string `json:"analysis"`
}

// Context 一次调研过程中逐阶段累积的结果，每次运行新建
type Context struct {
	Question       string           `json:"question"`
	Details        model.Details    `json:"details"`
	Field          string           `json:"field"`
	FieldRationale string           `json:"field_rationale,omitempty"`
	Entities       []string         `json:"entities"`
	EntityAnalysis []EntityAnalysis `json:"entity_analysis"`
	NewsItems      []model.NewsItem `json:"news_items"`
	Report         string           `json:"report"`
}
