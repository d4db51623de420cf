package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Sources   SourcesConfig
	RateLimit RateLimitConfig
	Nightly   NightlyConfig
	Admin     AdminConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	Development  bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

type LLMConfig struct {
	Anthropic AnthropicConfig
	OpenAI    OpenAIConfig
	Ollama    OllamaConfig
}

type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	TimeoutSec  int
}

type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	TimeoutSec  int
}

type OllamaConfig struct {
	BaseURL    string
	Model      string
	MaxTokens  int
	TimeoutSec int
}

type SourcesConfig struct {
	MaxResults int
	TimeoutSec int
	OpenAlex   SourceCredentials
	PubMed     SourceCredentials
	Patents    SourceCredentials
	MailTo     string
}

// SourceCredentials holds an optional API key. Every source works without
// one; a key only raises upstream rate limits.
type SourceCredentials struct {
	APIKey string
}

type RateLimitConfig struct {
	QueriesPerHour int
}

type NightlyConfig struct {
	Enabled      bool
	RunHour      int
	TopicLimit   int
	SearchLimit  int
	LookbackDays int
}

type AdminConfig struct {
	Token string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/acm-research")

	viper.SetEnvPrefix("ACM_RESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)
	viper.SetDefault("server.development", false)

	viper.SetDefault("sqlite.path", "./data/research.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("llm.anthropic.model", "claude-sonnet-4-20250514")
	viper.SetDefault("llm.anthropic.maxTokens", 4000)
	viper.SetDefault("llm.anthropic.temperature", 0.7)
	viper.SetDefault("llm.anthropic.timeoutSec", 60)

	viper.SetDefault("llm.openai.model", "gpt-4-turbo-preview")
	viper.SetDefault("llm.openai.maxTokens", 4000)
	viper.SetDefault("llm.openai.temperature", 0.7)
	viper.SetDefault("llm.openai.timeoutSec", 60)

	viper.SetDefault("llm.ollama.baseURL", "http://localhost:11434")
	viper.SetDefault("llm.ollama.model", "llama2")
	viper.SetDefault("llm.ollama.maxTokens", 2000)
	viper.SetDefault("llm.ollama.timeoutSec", 120)

	viper.SetDefault("sources.maxResults", 25)
	viper.SetDefault("sources.timeoutSec", 15)
	viper.SetDefault("sources.mailTo", "research@acm-platform.dev")

	viper.SetDefault("rateLimit.queriesPerHour", 20)

	viper.SetDefault("nightly.enabled", true)
	viper.SetDefault("nightly.runHour", 2)
	viper.SetDefault("nightly.topicLimit", 20)
	viper.SetDefault("nightly.searchLimit", 5)
	viper.SetDefault("nightly.lookbackDays", 7)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
