// Package config loads process configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

// DefaultQdrantGRPCPort is the port the gRPC client dials when QDRANT_URL
// names the REST port or none.
const DefaultQdrantGRPCPort = "6334"

type Config struct {
	// OpenAI
	OpenAIAPIKey       string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimension int     `envconfig:"EMBEDDING_DIMENSION" default:"1536"`
	LLMModel           string  `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMTemperature     float64 `envconfig:"LLM_TEMPERATURE" default:"0.3"`
	LLMMaxTokens       int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`

	// Qdrant
	QdrantURL      string `envconfig:"QDRANT_URL"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	QdrantInsecure bool   `envconfig:"QDRANT_INSECURE" default:"false"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"portfolio-chat"`

	// Retrieval
	RetrieverK         int     `envconfig:"RETRIEVER_K" default:"4"`
	ScoreThreshold     float32 `envconfig:"SCORE_THRESHOLD" default:"0.7"`
	ContextTokenBudget int     `envconfig:"CONTEXT_TOKEN_BUDGET" default:"3000"`
	OwnerName          string  `envconfig:"PORTFOLIO_OWNER" default:"the portfolio owner"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`

	// Sources
	ResumePath          string `envconfig:"RESUME_PATH" default:"data/resume.pdf"`
	ResumeTextPath      string `envconfig:"RESUME_TEXT_PATH" default:"data/resume.txt"`
	PortfolioConfigPath string `envconfig:"PORTFOLIO_CONFIG_PATH" default:"data/gitprofile.config.ts"`
	GitHubUsername      string `envconfig:"GITHUB_USERNAME"`
	GitHubToken         string `envconfig:"GITHUB_TOKEN"`
	MaxRepos            int    `envconfig:"MAX_REPOS" default:"4"`
	DevToUsername       string `envconfig:"DEV_TO_USERNAME"`
	MaxArticles         int    `envconfig:"MAX_ARTICLES" default:"5"`

	// Server
	Port            int           `envconfig:"PORT" default:"8000"`
	MetricsPort     int           `envconfig:"METRICS_PORT" default:"9091"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ChatRatePerSec  float64       `envconfig:"CHAT_RATE_PER_SEC" default:"2"`
	ChatBurst       int           `envconfig:"CHAT_BURST" default:"5"`
	ExternalTimeout time.Duration `envconfig:"EXTERNAL_TIMEOUT" default:"10s"`

	// Messaging and graph, both optional.
	NATSURL            string `envconfig:"NATS_URL"`
	NATSRefreshSubject string `envconfig:"NATS_REFRESH_SUBJECT" default:"portfolio.refresh"`
	NATSEventsSubject  string `envconfig:"NATS_EVENTS_SUBJECT" default:"portfolio.ingested"`
	Neo4jURL           string `envconfig:"NEO4J_URL"`
	Neo4jUser          string `envconfig:"NEO4J_USER"`
	Neo4jPass          string `envconfig:"NEO4J_PASS"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env if present, processes the environment and validates.
func Load() (*Config, error) {
	// env vars may come from the shell; a missing .env is fine
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.QdrantURL == "" {
		missing = append(missing, "QDRANT_URL")
	}
	if c.QdrantAPIKey == "" && !c.QdrantInsecure {
		missing = append(missing, "QDRANT_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.RetrieverK <= 0 {
		return fmt.Errorf("config: RETRIEVER_K must be positive, got %d", c.RetrieverK)
	}
	return nil
}

// QdrantTarget turns QDRANT_URL into a gRPC dial address. A REST URL such
// as https://host:6333 becomes host:6334 with TLS.
func (c *Config) QdrantTarget() (addr string, useTLS bool, err error) {
	return ParseQdrantURL(c.QdrantURL)
}

// ParseQdrantURL is QdrantTarget for a bare string.
func ParseQdrantURL(raw string) (addr string, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("%w: QDRANT_URL", ErrMissingRequired)
	}
	if !strings.Contains(raw, "://") {
		raw = "grpc://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("config: QDRANT_URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", false, fmt.Errorf("config: QDRANT_URL %q has no host", raw)
	}
	port := u.Port()
	if port == "" || port == "6333" {
		port = DefaultQdrantGRPCPort
	}
	return net.JoinHostPort(host, port), u.Scheme == "https" || u.Scheme == "grpcs", nil
}

// Logger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return NewLogger(w, c.LogFormat, c.LogLevel)
}

// NewLogger returns a JSON logger unless format is "text".
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
