// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"captain-agent/internal/core"
)

const (
	FlowAgent  = "agent"
	FlowGuided = "guided"

	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
	StoreFile     = "file"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	ComplianceHeuristic = "heuristic"
	ComplianceRAG       = "rag"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	// PublicBaseURL prefixes links handed to users, e.g. bill downloads.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`
	// LambdaFunction is set by the Lambda runtime.
	LambdaFunction string `envconfig:"AWS_LAMBDA_FUNCTION_NAME"`
	ParamPrefix    string `envconfig:"PARAM_PREFIX"`

	Chat       ChatConfig
	Store      StoreConfig
	LLM        LLMConfig
	Compliance ComplianceConfig
	Bills      BillConfig
}

type ChatConfig struct {
	Flow             string `envconfig:"CHAT_FLOW" default:"agent"`
	MaxMessageLength int    `envconfig:"MAX_MESSAGE_LENGTH" default:"1000"`
	HistoryMessages  int    `envconfig:"LLM_HISTORY_MESSAGES" default:"6"`
	DefaultUser      string `envconfig:"DEFAULT_USER" default:"demo"`
}

type StoreConfig struct {
	Backend       string        `envconfig:"STORE_BACKEND" default:"file"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	TTL           time.Duration `envconfig:"CONVERSATION_TTL" default:"720h"`
	DynamoTable   string        `envconfig:"STATE_TABLE"`
	FilePath      string        `envconfig:"STATE_FILE" default:"data/captain_state.json"`
}

type LLMConfig struct {
	Provider      string  `envconfig:"LLM_PROVIDER" default:"openai"`
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey  string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL string  `envconfig:"GEMINI_BASE_URL"`
	Temperature   float32 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	MaxTokens     int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	Moderation    bool    `envconfig:"LLM_MODERATION" default:"false"`
}

type ComplianceConfig struct {
	Mode      string  `envconfig:"COMPLIANCE_MODE" default:"heuristic"`
	Threshold float64 `envconfig:"RAG_THRESHOLD" default:"0.7"`
	// DocumentDir bounds document mode; empty disables it.
	DocumentDir string `envconfig:"COMPLIANCE_DOCUMENT_DIR" default:"uploads"`
}

type BillConfig struct {
	Dir       string `envconfig:"BILL_DIR" default:"generated_bills"`
	S3Bucket  string `envconfig:"BILL_S3_BUCKET"`
	S3Prefix  string `envconfig:"BILL_S3_PREFIX" default:"bills"`
	PublicURL string `envconfig:"BILL_PUBLIC_URL"`
}

// Load reads the optional dotenv files, then the environment. Variables
// already set in the environment win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Chat.Flow = strings.ToLower(strings.TrimSpace(c.Chat.Flow))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Compliance.Mode = strings.ToLower(strings.TrimSpace(c.Compliance.Mode))
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Chat.Flow {
	case FlowAgent, FlowGuided:
	default:
		return fmt.Errorf("config: CHAT_FLOW must be %q or %q, got %q", FlowAgent, FlowGuided, c.Chat.Flow)
	}
	if c.Chat.MaxMessageLength <= 0 {
		return errors.New("config: MAX_MESSAGE_LENGTH must be positive")
	}
	if c.Chat.HistoryMessages < 0 {
		return errors.New("config: LLM_HISTORY_MESSAGES must not be negative")
	}

	switch c.Store.Backend {
	case StoreRedis, StoreFile:
	case StoreDynamoDB:
		if strings.TrimSpace(c.Store.DynamoTable) == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Compliance.Mode {
	case ComplianceHeuristic, ComplianceRAG:
	default:
		return fmt.Errorf("config: unknown COMPLIANCE_MODE %q", c.Compliance.Mode)
	}

	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.NeedsLLM() && c.LLM.OpenAIAPIKey == "" && c.ParamPrefix == "" {
			return errors.New("config: OPENAI_API_KEY or PARAM_PREFIX is required for the openai provider")
		}
	case ProviderGemini:
		if c.NeedsLLM() && c.LLM.GeminiAPIKey == "" && c.ParamPrefix == "" {
			return errors.New("config: GEMINI_API_KEY or PARAM_PREFIX is required for the gemini provider")
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	return nil
}

// Env returns the parsed application environment.
func (c Config) Env() core.Environment {
	return core.ParseEnvironment(c.Environment)
}

// OnLambda reports whether the process runs inside AWS Lambda.
func (c Config) OnLambda() bool {
	return c.LambdaFunction != ""
}

// NeedsLLM reports whether any configured component calls a model.
func (c Config) NeedsLLM() bool {
	return c.Chat.Flow == FlowAgent || c.Compliance.Mode == ComplianceRAG
}
