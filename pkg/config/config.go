// Package config centralizes the environment-driven settings that
// cmd/agent's main previously read one os.Getenv call at a time, generalized
// into a single viper-backed, mapstructure-tagged struct so new knobs (vector
// memory, output device selection, observability) have one place to live.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/duplexcall/duplexcall/pkg/orchestrator"
)

// AppConfig is the full set of settings duplexcall reads at startup.
type AppConfig struct {
	GroqAPIKey       string `mapstructure:"groq_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	GoogleAPIKey     string `mapstructure:"google_api_key"`
	DeepgramAPIKey   string `mapstructure:"deepgram_api_key"`
	AssemblyAIAPIKey string `mapstructure:"assemblyai_api_key"`
	LokutorAPIKey    string `mapstructure:"lokutor_api_key"`

	STTProvider   string `mapstructure:"stt_provider"`
	LLMProvider   string `mapstructure:"llm_provider"`
	GroqSTTModel  string `mapstructure:"groq_stt_model"`
	AgentLanguage string `mapstructure:"agent_language"`

	SampleRate int `mapstructure:"sample_rate"`

	MaxContextTokens    int    `mapstructure:"max_context_tokens"`
	VectorMemoryEnabled bool   `mapstructure:"vector_memory_enabled"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`

	OutputMode string `mapstructure:"output_mode"`
	OutputFile string `mapstructure:"output_file"`

	MetricsPort        int     `mapstructure:"metrics_port"`
	TracingSampleRatio float64 `mapstructure:"tracing_sample_ratio"`
}

// envKeys lists every environment variable Load binds, spanning the
// teacher's original provider-key/provider-name set plus the knobs the
// expanded pipeline adds.
var envKeys = []string{
	"GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY",
	"DEEPGRAM_API_KEY", "ASSEMBLYAI_API_KEY", "LOKUTOR_API_KEY",
	"STT_PROVIDER", "LLM_PROVIDER", "GROQ_STT_MODEL", "AGENT_LANGUAGE",
	"SAMPLE_RATE", "MAX_CONTEXT_TOKENS", "VECTOR_MEMORY_ENABLED",
	"POSTGRES_DSN", "EMBEDDING_DIMENSIONS", "OUTPUT_MODE", "OUTPUT_FILE",
	"METRICS_PORT", "TRACING_SAMPLE_RATIO",
}

// Load reads a .env file if present, same as the teacher's main.go, then
// layers environment variables over a set of defaults mirroring the
// teacher's os.Getenv fallbacks ("groq" providers, 44100Hz, Spanish).
func Load() (*AppConfig, error) {
	_ = godotenv.Load() // no .env file found: fall through to process env, same as the teacher

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(strings.ToLower(key), key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	v.SetDefault("stt_provider", "groq")
	v.SetDefault("llm_provider", "groq")
	v.SetDefault("groq_stt_model", "whisper-large-v3-turbo")
	v.SetDefault("agent_language", "es")
	v.SetDefault("sample_rate", 44100)
	v.SetDefault("max_context_tokens", 4096)
	v.SetDefault("vector_memory_enabled", false)
	v.SetDefault("embedding_dimensions", 1536)
	v.SetDefault("output_mode", "local")
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("tracing_sample_ratio", 0.1)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Language returns the configured agent language.
func (c *AppConfig) Language() orchestrator.Language {
	if c.AgentLanguage == "" {
		return orchestrator.LanguageEs
	}
	return orchestrator.Language(c.AgentLanguage)
}

// OrchestratorConfig builds the pipeline-core Config from the loaded
// settings, starting from orchestrator.DefaultConfig and overriding the
// fields this loader controls.
func (c *AppConfig) OrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.SampleRate = c.SampleRate
	cfg.Language = c.Language()
	cfg.MaxContextTokens = c.MaxContextTokens
	return cfg
}
