package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// HTTPConfig defines the API server.
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// IngestConfig bounds what a single request may submit.
type IngestConfig struct {
	MaxPDFPages    int
	MinPageChars   int
	MaxUploadBytes int64
}

// OCRConfig selects and tunes the OCR backend.
type OCRConfig struct {
	Backend        string // "azure"|"tesseract"
	RequestTimeout time.Duration

	AzureEndpoint     string
	AzureKey          string
	AzureModel        string
	AzureAPIVersion   string
	AzurePollInterval time.Duration

	TesseractLanguages []string
	TesseractDPI       int

	BreakerEnabled  bool
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// UsageConfig defines the usage log and cost assumptions.
type UsageConfig struct {
	DBPath             string
	LLMCostPer1KTokens float64
	OCRCostPerPage     float64
}

// RateLimitConfig defines per-tenant request limits. An empty RedisURL keeps
// the limiter in process.
type RateLimitConfig struct {
	RedisURL          string
	RequestsPerMinute int
	Burst             int
}

// S3Config defines access for s3:// document URLs.
type S3Config struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// FetchConfig bounds remote document URLs. http(s) URLs are refused unless
// their host is listed.
type FetchConfig struct {
	AllowedHosts []string
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	HTTP      HTTPConfig
	Ingest    IngestConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Usage     UsageConfig
	RateLimit RateLimitConfig
	S3        S3Config
	Fetch     FetchConfig
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/notesingest.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_notesingest",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "8080"),
		ReadTimeout:     parseDuration(getEnv("HTTP_READ_TIMEOUT", "30s"), 30*time.Second),
		WriteTimeout:    parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "180s"), 180*time.Second),
		ShutdownTimeout: parseDuration(getEnv("HTTP_SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Ingest = IngestConfig{
		MaxPDFPages:    parseInt(getEnv("MAX_PDF_PAGES", "20"), 20),
		MinPageChars:   parseInt(getEnv("INGEST_MIN_PAGE_CHARS", "40"), 40),
		MaxUploadBytes: int64(parseInt(getEnv("INGEST_MAX_UPLOAD_BYTES", "15728640"), 15<<20)),
	}

	cfg.OCR = OCRConfig{
		Backend:            strings.ToLower(getEnv("OCR_BACKEND", "azure")),
		RequestTimeout:     parseDuration(getEnv("OCR_TIMEOUT", "120s"), 120*time.Second),
		AzureEndpoint:      getEnv("AZURE_DOC_INTEL_ENDPOINT", ""),
		AzureKey:           getEnv("AZURE_DOC_INTEL_KEY", ""),
		AzureModel:         getEnv("AZURE_DOC_INTEL_MODEL", "prebuilt-read"),
		AzureAPIVersion:    getEnv("AZURE_DOC_INTEL_API_VERSION", "2023-07-31"),
		AzurePollInterval:  parseDuration(getEnv("AZURE_DOC_INTEL_POLL_INTERVAL", "1s"), time.Second),
		TesseractLanguages: parseList(getEnv("TESSERACT_LANGUAGES", "eng")),
		TesseractDPI:       parseInt(getEnv("TESSERACT_DPI", "300"), 300),
		BreakerEnabled:     parseBool(getEnv("OCR_BREAKER_ENABLED", "0")),
		BreakerFailures:    parseInt(getEnv("OCR_BREAKER_FAILURES", "5"), 5),
		BreakerTimeout:     parseDuration(getEnv("OCR_BREAKER_TIMEOUT", "30s"), 30*time.Second),
	}

	cfg.LLM = LLMConfig{
		BaseURL:     getEnv("LLM_BASE_URL", getEnv("AZURE_OPENAI_BASE_URL", "")),
		APIKey:      getEnv("LLM_API_KEY", getEnv("AZURE_OPENAI_API_KEY", "")),
		Model:       getEnv("LLM_MODEL", getEnv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-mini")),
		Temperature: parseFloat(getEnv("LLM_TEMPERATURE", "0.2"), 0.2),
		Timeout:     parseDuration(getEnv("LLM_TIMEOUT", "60s"), 60*time.Second),
	}

	cfg.Usage = UsageConfig{
		DBPath:             getEnv("USAGE_DB_PATH", "data/usage.db"),
		LLMCostPer1KTokens: parseFloat(getEnv("LLM_COST_PER_1K_TOKENS_USD", "0"), 0),
		OCRCostPerPage:     parseFloat(getEnv("OCR_COST_PER_PAGE_USD", "0"), 0),
	}

	cfg.RateLimit = RateLimitConfig{
		RedisURL:          getEnv("REDIS_URL", ""),
		RequestsPerMinute: parseInt(getEnv("RATE_LIMIT_PER_MINUTE", "60"), 60),
		Burst:             parseInt(getEnv("RATE_LIMIT_BURST", "10"), 10),
	}

	cfg.S3 = S3Config{
		Region:       getEnv("S3_REGION", getEnv("AWS_REGION", "us-east-1")),
		Endpoint:     getEnv("S3_ENDPOINT", ""),
		AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("S3_SECRET_KEY", ""),
		UsePathStyle: parseBool(getEnv("S3_USE_PATH_STYLE", "0")),
	}

	cfg.Fetch = FetchConfig{
		AllowedHosts: parseList(getEnv("FETCH_ALLOWED_HOSTS", "")),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
