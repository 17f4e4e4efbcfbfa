package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 项目配置结构体
type Config struct {
	Defaults    DefaultsConfig    `yaml:"defaults"`
	LLM         LLMConfig         `yaml:"llm"`
	LocalLLM    LocalLLMConfig    `yaml:"local_llm"`
	Research    ResearchConfig    `yaml:"research"`
	Forecast    ForecastConfig    `yaml:"forecast"`
	Search      SearchConfig      `yaml:"search"`
	Log         LogConfig         `yaml:"log"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Output      OutputConfig      `yaml:"output"`
}

// DefaultsConfig 进程级默认模型与温度，后端未配置时回退到这里
type DefaultsConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// LLMConfig 托管 API (OpenAI 兼容) 配置
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxRetries  int      `yaml:"max_retries"`
	// RetryDelay 为 0 时重试之间不等待
	RetryDelay               time.Duration `yaml:"retry_delay"`
	MaxRetryDelay            time.Duration `yaml:"max_retry_delay"`
	CallTimeout              time.Duration `yaml:"call_timeout"`
	ModelsWithoutTemperature []string      `yaml:"models_without_temperature"`
}

// LocalLLMConfig 本地推理服务配置
type LocalLLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	Temperature   *float64      `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	NoThink       bool          `yaml:"no_think"`
	NoThinkSuffix string        `yaml:"no_think_suffix"`
}

// ResearchConfig 调研流水线配置
type ResearchConfig struct {
	// Provider: "pipeline" 五阶段流水线, "direct" 单次调用
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxEntities int      `yaml:"max_entities"`
	NewsTarget  int      `yaml:"news_target"`
	NewsDays    int      `yaml:"news_days"`
	// FetchContent 为 true 时对过短的搜索摘要抓取正文
	FetchContent bool `yaml:"fetch_content"`
}

// ForecastConfig 预测配置
type ForecastConfig struct {
	Backend                  string   `yaml:"backend"`
	Model                    string   `yaml:"model"`
	Temperature              *float64 `yaml:"temperature"`
	NumRuns                  int      `yaml:"num_runs"`
	QuestionsFile            string   `yaml:"questions_file"`
	SkipPreviouslyForecasted bool     `yaml:"skip_previously_forecasted"`
	// ResearchBackend 为空时与 Backend 相同
	ResearchBackend string `yaml:"research_backend"`
}

// SearchConfig 搜索相关配置
type SearchConfig struct {
	Provider string        `yaml:"provider"`
	Tavily   TavilyConfig  `yaml:"tavily"`
	SearXNG  SearXNGConfig `yaml:"searxng"`
}

// TavilyConfig Tavily 配置
type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig SearXNG 配置
type SearXNGConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"`
}

// LogConfig 日志相关配置
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConcurrencyConfig 并发控制配置
type ConcurrencyConfig struct {
	// Limit 同时在途的模型调用上限
	Limit int `yaml:"limit"`
	// RPM 为 0 时不限速
	RPM int `yaml:"rpm"`
	QPS int `yaml:"qps"`
	// Questions 同时处理的问题数
	Questions int `yaml:"questions"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	File string `yaml:"file"`
	// HTMLFile 为空时不生成 HTML 汇总页
	HTMLFile string `yaml:"html_file"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Model:       "openai/gpt-5.2",
			Temperature: 0.3,
		},
		LLM: LLMConfig{
			MaxRetries:    5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 30 * time.Second,
			CallTimeout:   5 * time.Minute,
			ModelsWithoutTemperature: []string{
				"openai/o4-mini-deep-research",
				"anthropic/claude-sonnet-4.5",
			},
		},
		LocalLLM: LocalLLMConfig{
			Model:         "Qwen/Qwen3-32B",
			Temperature:   Float(0.2),
			MaxTokens:     5000,
			MaxRetries:    3,
			RetryDelay:    time.Second,
			MaxRetryDelay: 10 * time.Second,
			CallTimeout:   10 * time.Minute,
			NoThinkSuffix: "/no_think",
		},
		Research: ResearchConfig{
			Provider:    "pipeline",
			Model:       "openai/o4-mini-deep-research",
			MaxEntities: 8,
			NewsTarget:  15,
			NewsDays:    7,
		},
		Forecast: ForecastConfig{
			Backend:                  "hosted",
			NumRuns:                  1,
			QuestionsFile:            "configs/questions.yaml",
			SkipPreviouslyForecasted: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Concurrency: ConcurrencyConfig{
			Limit:     5,
			QPS:       1,
			Questions: 2,
		},
		Output: OutputConfig{
			File:     "output/forecasts.jsonl",
			HTMLFile: "output/index.html",
		},
	}
}

// LoadConfig 从指定路径加载配置，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用环境变量补齐密钥与地址，配置文件中已有的值优先
func (c *Config) ApplyEnv() {
	setIfEmpty(&c.LLM.APIKey, "OPENROUTER_API_KEY")
	setIfEmpty(&c.LLM.BaseURL, "OPENROUTER_BASE_URL")
	setIfEmpty(&c.LocalLLM.BaseURL, "LOCAL_LLM_BASE_URL")
	setIfEmpty(&c.Search.Tavily.APIKey, "TAVILY_API_KEY")
	setIfEmpty(&c.Search.SearXNG.BaseURL, "SEARXNG_BASE_URL")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Concurrency.Limit < 1 {
		return fmt.Errorf("concurrency.limit must be >= 1, got %d", c.Concurrency.Limit)
	}
	if c.Concurrency.RPM < 0 || c.Concurrency.QPS < 0 {
		return fmt.Errorf("concurrency.rpm and concurrency.qps must be >= 0")
	}
	if c.LLM.MaxRetries < 0 || c.LocalLLM.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.Forecast.NumRuns < 1 {
		return fmt.Errorf("forecast.num_runs must be >= 1, got %d", c.Forecast.NumRuns)
	}
	temps := map[string]*float64{
		"defaults.temperature":  &c.Defaults.Temperature,
		"llm.temperature":       c.LLM.Temperature,
		"local_llm.temperature": c.LocalLLM.Temperature,
		"research.temperature":  c.Research.Temperature,
		"forecast.temperature":  c.Forecast.Temperature,
	}
	for name, t := range temps {
		if t != nil && (*t < 0 || *t > 2) {
			return fmt.Errorf("%s must be within [0, 2], got %v", name, *t)
		}
	}
	switch c.Forecast.Backend {
	case "hosted", "local":
	default:
		return fmt.Errorf("unknown forecast.backend: %s", c.Forecast.Backend)
	}
	switch c.Research.Provider {
	case "pipeline", "direct":
	default:
		return fmt.Errorf("unknown research.provider: %s", c.Research.Provider)
	}
	return nil
}

// Float 返回 v 的指针，便于填充可选温度
func Float(v float64) *float64 {
	return &v
}

func setIfEmpty(dst *string, env string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
