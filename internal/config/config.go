package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for shopbot.
type Config struct {
	General     GeneralConfig             `json:"general"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Completion  CompletionConfig          `json:"completion"`
	Embedding   EmbeddingConfig           `json:"embedding"`
	VectorStore VectorStoreConfig         `json:"vectorStore"`
	Retrieval   RetrievalConfig           `json:"retrieval"`
	Catalog     CatalogConfig             `json:"catalog"`
	Dedup       DedupConfig               `json:"dedup"`
	Kapso       KapsoConfig               `json:"kapso"`
	Notify      NotifyConfig              `json:"notify"`
	Storage     StorageConfig             `json:"storage"`
	Server      ServerConfig              `json:"server"`
	Agent       AgentConfig               `json:"agent"`
	Metrics     MetricsConfig             `json:"metrics"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel"`
	LogFile         string   `json:"logFile,omitempty"`       // optional log file path
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"` // provider failover order
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	Kind            string `json:"kind,omitempty"` // "openai" | "ollama" | "claude" | "langchain" | "langchain-ollama"; defaults to the map key
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

// CompletionConfig tunes the classifier / idea generator / assistant calls.
type CompletionConfig struct {
	TimeoutSeconds      int     `json:"timeoutSeconds"`
	MaxTokens           int     `json:"maxTokens"`
	ClassifyTemperature float64 `json:"classifyTemperature"`
	IdeasTemperature    float64 `json:"ideasTemperature"`
	AskTemperature      float64 `json:"askTemperature"`
}

type EmbeddingConfig struct {
	Kind           string `json:"kind"` // "openai" | "ollama" | "langchain" | "hashing"
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model,omitempty"`
	Dimension      int    `json:"dimension"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type VectorStoreConfig struct {
	Kind           string `json:"kind"` // "qdrant" | "memory"
	URL            string `json:"url,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Collection     string `json:"collection"`
	VectorName     string `json:"vectorName"`
	SeedFile       string `json:"seedFile,omitempty"` // YAML catalog fixture loaded into the memory store
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type RetrievalConfig struct {
	MaxQueries int `json:"maxQueries"`
	PerQuery   int `json:"perQuery"`
	MaxResults int `json:"maxResults"`
}

// CatalogConfig lists the categories the classifier is told we carry.
type CatalogConfig struct {
	Categories []string `json:"categories"`
}

type DedupConfig struct {
	TTLSeconds int `json:"ttlSeconds"`
}

type KapsoConfig struct {
	Enabled        bool   `json:"enabled"`
	BaseURL        string `json:"baseUrl,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	WebhookSecret  string `json:"webhookSecret,omitempty"` // HMAC secret for X-Webhook-Signature
	WebhookPath    string `json:"webhookPath"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MarkAsRead     bool   `json:"markAsRead"`
	Reply          bool   `json:"reply"`
	HistoryFromAPI bool   `json:"historyFromApi"`
	HistoryLimit   int    `json:"historyLimit"`
}

type NotifyConfig struct {
	Enabled        bool           `json:"enabled"`
	MinConfidence  float64        `json:"minConfidence"`
	Sinks          []string       `json:"sinks"` // "log" | "kapso" | "telegram" | "slack" | "discord"
	TimeoutSeconds int            `json:"timeoutSeconds"`
	Telegram       TelegramConfig `json:"telegram,omitempty"`
	Slack          SlackConfig    `json:"slack,omitempty"`
	Discord        DiscordConfig  `json:"discord,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chatId,omitempty"`
}

type SlackConfig struct {
	BotToken string `json:"botToken,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type DiscordConfig struct {
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

type StorageConfig struct {
	Enabled       bool   `json:"enabled"`
	Driver        string `json:"driver"` // "sqlite" | "postgres"
	DBPath        string `json:"dbPath"`
	DatabaseURL   string `json:"databaseUrl,omitempty"`
	HistoryLimit  int    `json:"historyLimit"`
	RetentionDays int    `json:"retentionDays"`
}

type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"apiKey,omitempty"`
}

type AgentConfig struct {
	MaxConcurrentTurns int `json:"maxConcurrentTurns"`
	ReadMarkWorkers    int `json:"readMarkWorkers"`
	TurnTimeoutSeconds int `json:"turnTimeoutSeconds"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type TelemetryConfig struct {
	ServiceName string `json:"serviceName"`
}

// DefaultConfigDir returns the default config directory (~/.shopbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopbot"
	}
	return filepath.Join(home, ".shopbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ResolveEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ResolveEnv expands ${VAR} references left in values that came from
// Defaults rather than from the file, and resolves ~/ paths.
func ResolveEnv(cfg *Config) {
	for name, pc := range cfg.Providers {
		pc.APIKey = ExpandEnvVars(pc.APIKey)
		pc.APIBase = ExpandEnvVars(pc.APIBase)
		cfg.Providers[name] = pc
	}
	for _, s := range []*string{
		&cfg.Embedding.APIKey,
		&cfg.Embedding.APIBase,
		&cfg.VectorStore.URL,
		&cfg.VectorStore.APIKey,
		&cfg.Kapso.BaseURL,
		&cfg.Kapso.APIKey,
		&cfg.Kapso.WebhookSecret,
		&cfg.Notify.Telegram.Token,
		&cfg.Notify.Slack.BotToken,
		&cfg.Notify.Discord.Token,
		&cfg.Storage.DatabaseURL,
		&cfg.Server.APIKey,
	} {
		*s = ExpandEnvVars(*s)
	}
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.VectorStore.SeedFile = ExpandPath(cfg.VectorStore.SeedFile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

var (
	validProviderKinds  = map[string]bool{"openai": true, "ollama": true, "claude": true, "langchain": true, "langchain-ollama": true}
	validEmbeddingKinds = map[string]bool{"openai": true, "ollama": true, "langchain": true, "hashing": true}
	validSinks          = map[string]bool{"log": true, "kapso": true, "telegram": true, "slack": true, "discord": true}
)

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if !validProviderKinds[pc.KindOr(name)] && pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown kind %q needs an apiBase", name, pc.KindOr(name)))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	if cfg.Completion.TimeoutSeconds < 1 || cfg.Completion.TimeoutSeconds > 300 {
		errs = append(errs, "completion.timeoutSeconds must be between 1 and 300")
	}
	for field, t := range map[string]float64{
		"classifyTemperature": cfg.Completion.ClassifyTemperature,
		"ideasTemperature":    cfg.Completion.IdeasTemperature,
		"askTemperature":      cfg.Completion.AskTemperature,
	} {
		if t < 0 || t > 2 {
			errs = append(errs, fmt.Sprintf("completion.%s must be between 0 and 2", field))
		}
	}

	if !validEmbeddingKinds[cfg.Embedding.Kind] {
		errs = append(errs, "embedding.kind must be one of: openai, ollama, langchain, hashing")
	}
	if cfg.Embedding.Dimension < 1 {
		errs = append(errs, "embedding.dimension must be >= 1")
	}

	switch cfg.VectorStore.Kind {
	case "qdrant":
		if cfg.VectorStore.URL == "" {
			errs = append(errs, "vectorStore.url is required for qdrant")
		}
	case "memory":
	default:
		errs = append(errs, "vectorStore.kind must be one of: qdrant, memory")
	}
	if cfg.VectorStore.Collection == "" {
		errs = append(errs, "vectorStore.collection is required")
	}

	if cfg.Retrieval.MaxQueries < 1 || cfg.Retrieval.MaxQueries > 4 {
		errs = append(errs, "retrieval.maxQueries must be between 1 and 4")
	}
	if cfg.Retrieval.PerQuery < 1 || cfg.Retrieval.PerQuery > 50 {
		errs = append(errs, "retrieval.perQuery must be between 1 and 50")
	}
	if cfg.Retrieval.MaxResults < 1 || cfg.Retrieval.MaxResults > 50 {
		errs = append(errs, "retrieval.maxResults must be between 1 and 50")
	}

	if cfg.Dedup.TTLSeconds < 1 {
		errs = append(errs, "dedup.ttlSeconds must be >= 1")
	}

	if cfg.Kapso.Enabled && cfg.Kapso.BaseURL == "" {
		errs = append(errs, "kapso.baseUrl is required when kapso is enabled")
	}

	if cfg.Notify.MinConfidence < 0 || cfg.Notify.MinConfidence > 1 {
		errs = append(errs, "notify.minConfidence must be between 0 and 1")
	}
	for _, s := range cfg.Notify.Sinks {
		if !validSinks[s] {
			errs = append(errs, fmt.Sprintf("notify.sinks: unknown sink %q", s))
		}
	}

	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Storage.Enabled && cfg.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.databaseUrl is required for postgres")
		}
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, postgres")
	}
	if cfg.Storage.HistoryLimit < 0 {
		errs = append(errs, "storage.historyLimit must be >= 0")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, "storage.retentionDays must be >= 1")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Agent.MaxConcurrentTurns < 1 || cfg.Agent.MaxConcurrentTurns > 100 {
		errs = append(errs, "agent.maxConcurrentTurns must be between 1 and 100")
	}
	if cfg.Agent.ReadMarkWorkers < 1 {
		errs = append(errs, "agent.readMarkWorkers must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// KindOr returns the provider kind, defaulting to the provider's config key.
func (pc ProviderConfig) KindOr(name string) string {
	if pc.Kind != "" {
		return pc.Kind
	}
	return name
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
