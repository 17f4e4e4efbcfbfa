package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/config"
	"github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/llm"
	dm "github.com/iWorld-y/forecast_radar/app/forecast_radar/pkg/model"
)

const questionsDoc = `
questions:
  - id: "1"
    type: binary
    title: Will it rain tomorrow?
    resolution_criteria: Resolves Yes if any rain is recorded.
  - id: "2"
    type: numeric
    title: How many launches this year?
    scaling:
      range_min: 0
      range_max: 100
  - id: "3"
    type: multiple_choice
    title: Which color wins?
    options: [Red, Green, Blue]
  - id: "4"
    type: binary
    title: Already done?
    already_forecasted: true
`

// fakeLocalLLM 按 prompt 内容返回对应题型的回复
type fakeLocalLLM struct {
	calls      atomic.Int64
	binaryText string
}

func (f *fakeLocalLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/models" {
		w.WriteHeader(http.StatusOK)
		return
	}
	f.calls.Add(1)
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prompt := req.Messages[len(req.Messages)-1].Content

	var text string
	switch {
	case strings.Contains(prompt, "Probability: ZZ%"):
		text = f.binaryText
	case strings.Contains(prompt, "Percentile 10: XX"):
		text = "Percentile 10: 10\nPercentile 25: 20\nPercentile 50: 30\nPercentile 75: 40\nPercentile 90: 50"
	case strings.Contains(prompt, "Probability_Red"):
		text = "Red: 50\nGreen: 30\nBlue: 20"
	default:
		text = "Research report: nothing unusual."
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": text}}},
	})
}

func writeConfig(t *testing.T, serverURL string) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	qPath := filepath.Join(dir, "questions.yaml")
	require.NoError(t, os.WriteFile(qPath, []byte(questionsDoc), 0o644))

	doc := fmt.Sprintf(`
log:
  level: error
llm:
  max_retries: 0
forecast:
  backend: local
  num_runs: 2
  questions_file: %s
research:
  provider: direct
local_llm:
  base_url: %s
  model: test-model
  max_retries: 0
concurrency:
  limit: 2
  questions: 2
output:
  file: %s
  html_file: %s
`, qPath, serverURL, filepath.Join(dir, "out", "forecasts.jsonl"), filepath.Join(dir, "out", "index.html"))
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func readRecords(t *testing.T, path string) []dm.ForecastRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var recs []dm.ForecastRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var r dm.ForecastRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.NoError(t, sc.Err())
	return recs
}

func TestForecastCommand_LocalBackend(t *testing.T) {
	fake := &fakeLocalLLM{binaryText: "Rationale.\nProbability: 40%"}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfgPath, dir := writeConfig(t, srv.URL)

	out, err := execute(t, "forecast", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "3 succeeded, 0 failed, 1 skipped")

	recs := readRecords(t, filepath.Join(dir, "out", "forecasts.jsonl"))
	require.Len(t, recs, 3)
	byID := map[string]dm.ForecastRecord{}
	for _, r := range recs {
		assert.Empty(t, r.Error)
		assert.Equal(t, 2, r.RunsOK)
		assert.NotEmpty(t, r.ID)
		byID[r.QuestionID] = r
	}
	assert.InDelta(t, 0.4, byID["1"].Estimate, 1e-9)
	assert.Len(t, byID["2"].CDF, 201)
	assert.NotContains(t, byID, "4")

	// 每个问题一次调研，再加每题两次预测
	assert.Equal(t, int64(3+3*2), fake.calls.Load())

	_, err = os.Stat(filepath.Join(dir, "out", "index.html"))
	assert.NoError(t, err)
}

func TestForecastCommand_FailureExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(&fakeLocalLLM{binaryText: "I cannot say."})
	defer srv.Close()
	cfgPath, dir := writeConfig(t, srv.URL)

	out, err := execute(t, "forecast", "--config", cfgPath, "--ids", "1,3", "--runs", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 forecasts failed")
	assert.Contains(t, out, "[FAIL] 1")

	recs := readRecords(t, filepath.Join(dir, "out", "forecasts.jsonl"))
	require.Len(t, recs, 2)
	for _, r := range recs {
		if r.QuestionID == "1" {
			assert.Contains(t, r.Error, "no run produced a usable estimate")
			assert.Equal(t, 1, r.RunsFailed)
		} else {
			assert.Empty(t, r.Error)
		}
	}
}

func TestForecastCommand_UnknownID(t *testing.T) {
	srv := httptest.NewServer(&fakeLocalLLM{})
	defer srv.Close()
	cfgPath, _ := writeConfig(t, srv.URL)

	_, err := execute(t, "forecast", "--config", cfgPath, "--ids", "404")
	assert.Error(t, err)
}

func TestResearchCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeLocalLLM{})
	defer srv.Close()
	cfgPath, _ := writeConfig(t, srv.URL)

	out, err := execute(t, "research", "1", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Research report: nothing unusual.")

	out, err = execute(t, "research", "--config", cfgPath, "--title", "Will the dam hold?")
	require.NoError(t, err)
	assert.Contains(t, out, "Research report")

	_, err = execute(t, "research", "--config", cfgPath)
	assert.Error(t, err)
}

// stubChatModel 代替托管 API 的 eino ChatModel
type stubChatModel struct {
	reply string
	err   error
}

func (s *stubChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *stubChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestPingCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeLocalLLM{})
	defer srv.Close()
	cfgPath, _ := writeConfig(t, srv.URL)

	orig := newChatModel
	defer func() { newChatModel = orig }()
	newChatModel = func(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
		return &stubChatModel{reply: "OK"}, nil
	}

	out, err := execute(t, "ping", "--config", cfgPath, "--backend", "hosted,local")
	require.NoError(t, err)
	assert.Contains(t, out, "hosted  OK")
	assert.Contains(t, out, "local   OK")

	newChatModel = func(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
		return &stubChatModel{err: errors.New("401 unauthorized")}, nil
	}
	out, err = execute(t, "ping", "--config", cfgPath, "--backend", "hosted")
	require.Error(t, err)
	assert.Contains(t, out, "hosted  FAIL")
}

func TestWithClients_MixedBackends(t *testing.T) {
	srv := httptest.NewServer(&fakeLocalLLM{})
	defer srv.Close()

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.LLM.APIKey = "k"
	cfg.LocalLLM.BaseURL = srv.URL
	cfg.Forecast.Backend = "hosted"
	cfg.Forecast.ResearchBackend = "local"

	orig := newChatModel
	defer func() { newChatModel = orig }()
	newChatModel = func(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
		return &stubChatModel{reply: "Probability: 10%"}, nil
	}

	a := newApp(cfg)
	err := a.withClients(context.Background(), func(ctx context.Context, c clients) error {
		text, err := c.research.Invoke(ctx, llm.Request{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "Research report: nothing unusual.", text)

		text, err = c.forecast.Invoke(ctx, llm.Request{Prompt: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "Probability: 10%", text)
		return nil
	})
	require.NoError(t, err)

	cfg.Forecast.Backend = "remote"
	err = newApp(cfg).withClients(context.Background(), func(ctx context.Context, c clients) error { return nil })
	assert.Error(t, err)
}
