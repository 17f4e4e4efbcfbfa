package research

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/logger"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

// DirectProvider 单次调用的调研，适合自带联网检索的模型
type DirectProvider struct {
	client      llm.Client
	model       string
	temperature *float64
	log         logrus.FieldLogger
}

// Ensure DirectProvider implements Provider
var _ Provider = (*DirectProvider)(nil)

// NewDirectProvider 创建 DirectProvider
func NewDirectProvider(client llm.Client, modelName string, temperature *float64, log logrus.FieldLogger) *DirectProvider {
	return &DirectProvider{
		client:      client,
		model:       modelName,
		temperature: temperature,
		log:         logger.Or(log),
	}
}

// Run implements Provider
func (d *DirectProvider) Run(ctx context.Context, question string, details model.Details) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	text, err := d.client.Invoke(ctx, llm.Request{
		Prompt:      directQuery(question, details),
		System:      directSystemPrompt,
		Model:       d.model,
		Temperature: d.temperature,
	})
	if err != nil {
		return "", &StageError{Stage: StageSynthesize, Err: err}
	}
	d.log.WithField("question", truncate(question, 80)).Info("调研完成")
	return strings.TrimSpace(text), nil
}

func directQuery(question string, details model.Details) string {
	var sb strings.Builder
	sb.WriteString("The question is: ")
	sb.WriteString(question)
	if details.ResolutionCriteria != "" {
		sb.WriteString("\n\nThis question's outcome will be determined by the specific criteria below:\n")
		sb.WriteString(details.ResolutionCriteria)
	}
	if details.FinePrint != "" {
		sb.WriteString("\n\nFine Print: ")
		sb.WriteString(details.FinePrint)
	}
	return sb.String()
}
