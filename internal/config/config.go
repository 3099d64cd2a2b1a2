// ABOUTME: Configuration loading and parsing for errand-bot
// ABOUTME: Reads TOML or YAML by extension, expands ${VAR}, parses durations and fills defaults

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/errand/internal/speech"
)

// Transport kinds.
const (
	TransportTelegram = "telegram"
	TransportMatrix   = "matrix"
)

// Reentry policies for an entry trigger sent while a conversation is active.
const (
	ReentryReject  = "reject"
	ReentryRestart = "restart"
)

// Config represents the complete errand-bot configuration
type Config struct {
	Transport    TransportConfig    `toml:"transport" yaml:"transport"`
	Telegram     TelegramConfig     `toml:"telegram" yaml:"telegram"`
	Matrix       MatrixConfig       `toml:"matrix" yaml:"matrix"`
	LLM          LLMConfig          `toml:"llm" yaml:"llm"`
	Web          WebConfig          `toml:"web" yaml:"web"`
	Speech       SpeechConfig       `toml:"speech" yaml:"speech"`
	Alerts       AlertsConfig       `toml:"alerts" yaml:"alerts"`
	Conversation ConversationConfig `toml:"conversation" yaml:"conversation"`
	Files        FilesConfig        `toml:"files" yaml:"files"`
	Database     DatabaseConfig     `toml:"database" yaml:"database"`
	Metrics      MetricsConfig      `toml:"metrics" yaml:"metrics"`
	Tracing      TracingConfig      `toml:"tracing" yaml:"tracing"`
	Logging      LoggingConfig      `toml:"logging" yaml:"logging"`
}

// TransportConfig selects the single messaging transport the process serves.
type TransportConfig struct {
	Kind string `toml:"kind" yaml:"kind"`
}

// TelegramConfig holds Telegram Bot API settings
type TelegramConfig struct {
	BotToken       string  `toml:"bot_token" yaml:"bot_token"`
	BaseURL        string  `toml:"base_url" yaml:"base_url"`
	AllowedChatIDs []int64 `toml:"allowed_chat_ids" yaml:"allowed_chat_ids"`

	PollTimeout    time.Duration `toml:"-" yaml:"-"`
	PollTimeoutRaw string        `toml:"poll_timeout" yaml:"poll_timeout"`
}

// MatrixConfig holds Matrix homeserver settings
type MatrixConfig struct {
	Homeserver   string   `toml:"homeserver" yaml:"homeserver"`
	UserID       string   `toml:"user_id" yaml:"user_id"`
	AccessToken  string   `toml:"access_token" yaml:"access_token"`
	RecoveryKey  string   `toml:"recovery_key" yaml:"recovery_key"` // enables E2EE when set
	AllowedRooms []string `toml:"allowed_rooms" yaml:"allowed_rooms"`
	DataDir      string   `toml:"data_dir" yaml:"data_dir"` // crypto store location
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint
type LLMConfig struct {
	APIKey        string `toml:"api_key" yaml:"api_key"`
	BaseURL       string `toml:"base_url" yaml:"base_url"`
	Model         string `toml:"model" yaml:"model"`
	SummaryPrompt string `toml:"summary_prompt" yaml:"summary_prompt"`
}

// WebConfig controls page fetching
type WebConfig struct {
	UserAgent    string `toml:"user_agent" yaml:"user_agent"`
	MaxBodyBytes int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`

	// Zero means no timeout.
	Timeout    time.Duration `toml:"-" yaml:"-"`
	TimeoutRaw string        `toml:"timeout" yaml:"timeout"`
}

// SpeechConfig describes the external synthesizer command. The text arrives on
// stdin; Args must contain {output} and may contain {text} only after "--".
type SpeechConfig struct {
	Command   string   `toml:"command" yaml:"command"`
	Args      []string `toml:"args" yaml:"args"`
	Extension string   `toml:"extension" yaml:"extension"`
}

// AlertsConfig holds price watcher settings
type AlertsConfig struct {
	PriceAPIURL string            `toml:"price_api_url" yaml:"price_api_url"`
	Currency    string            `toml:"currency" yaml:"currency"`
	Symbols     map[string]string `toml:"symbols" yaml:"symbols"` // symbol -> price feed coin id

	PollInterval    time.Duration `toml:"-" yaml:"-"`
	PollIntervalRaw string        `toml:"poll_interval" yaml:"poll_interval"`
}

// ConversationConfig holds dispatcher policy
type ConversationConfig struct {
	Reentry string `toml:"reentry" yaml:"reentry"`
}

// FilesConfig holds the scratch directory for downloaded PDFs and generated files
type FilesConfig struct {
	WorkDir string `toml:"work_dir" yaml:"work_dir"`
}

// DatabaseConfig holds the optional ledger location. Empty disables the ledger.
type DatabaseConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// TracingConfig holds OTLP export settings. Empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"insecure" yaml:"insecure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// DefaultSymbols maps the supported alert symbols to price feed coin ids.
func DefaultSymbols() map[string]string {
	return map[string]string{
		"btc": "bitcoin",
		"eth": "ethereum",
		"sol": "solana",
		"bnb": "binancecoin",
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes. name is only used to choose the format.
func Parse(name string, data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportTelegram
	}
	c.Transport.Kind = strings.ToLower(c.Transport.Kind)

	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30 * time.Second
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3-8b-8192"
	}
	if c.LLM.SummaryPrompt == "" {
		c.LLM.SummaryPrompt = "Summarize this:"
	}

	if c.Web.UserAgent == "" {
		c.Web.UserAgent = "Mozilla/5.0"
	}
	if c.Web.MaxBodyBytes == 0 {
		c.Web.MaxBodyBytes = 5 << 20
	}

	if c.Speech.Command == "" {
		c.Speech.Command = "espeak-ng"
		if len(c.Speech.Args) == 0 {
			c.Speech.Args = append([]string(nil), speech.DefaultArgs...)
		}
	}
	if c.Speech.Extension == "" {
		c.Speech.Extension = "wav"
	}
	c.Speech.Extension = strings.TrimPrefix(c.Speech.Extension, ".")

	if c.Alerts.PriceAPIURL == "" {
		c.Alerts.PriceAPIURL = "https://api.coingecko.com/api/v3"
	}
	if c.Alerts.Currency == "" {
		c.Alerts.Currency = "usd"
	}
	if len(c.Alerts.Symbols) == 0 {
		c.Alerts.Symbols = DefaultSymbols()
	} else {
		normalized := make(map[string]string, len(c.Alerts.Symbols))
		for sym, id := range c.Alerts.Symbols {
			normalized[strings.ToLower(strings.TrimSpace(sym))] = id
		}
		c.Alerts.Symbols = normalized
	}
	if c.Alerts.PollInterval == 0 {
		c.Alerts.PollInterval = 30 * time.Second
	}

	if c.Conversation.Reentry == "" {
		c.Conversation.Reentry = ReentryReject
	}

	if c.Files.WorkDir == "" {
		c.Files.WorkDir = filepath.Join(os.TempDir(), "errand-bot")
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportTelegram:
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required")
		}
		if err := validateHTTPURL("telegram.base_url", c.Telegram.BaseURL); err != nil {
			return err
		}
	case TransportMatrix:
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required")
		}
		if err := validateHTTPURL("matrix.homeserver", c.Matrix.Homeserver); err != nil {
			return err
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required")
		}
	default:
		return fmt.Errorf("transport.kind must be %q or %q, got %q", TransportTelegram, TransportMatrix, c.Transport.Kind)
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if err := validateHTTPURL("llm.base_url", c.LLM.BaseURL); err != nil {
		return err
	}
	if err := validateHTTPURL("alerts.price_api_url", c.Alerts.PriceAPIURL); err != nil {
		return err
	}
	if c.Alerts.PollInterval < 0 {
		return fmt.Errorf("alerts.poll_interval must be positive")
	}
	for sym, id := range c.Alerts.Symbols {
		if sym == "" || id == "" {
			return fmt.Errorf("alerts.symbols entries need both a symbol and a coin id")
		}
	}

	if c.Web.MaxBodyBytes < 0 {
		return fmt.Errorf("web.max_body_bytes must not be negative")
	}

	if !containsArg(c.Speech.Args, speech.OutputPlaceholder) {
		return fmt.Errorf("speech.args must contain the {output} placeholder")
	}
	if err := speech.CheckArgs(c.Speech.Args); err != nil {
		return fmt.Errorf("invalid speech.args: %w", err)
	}

	switch c.Conversation.Reentry {
	case ReentryReject, ReentryRestart:
	default:
		return fmt.Errorf("conversation.reentry must be %q or %q, got %q", ReentryReject, ReentryRestart, c.Conversation.Reentry)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// LedgerEnabled reports whether the audit ledger should be opened.
func (c *Config) LedgerEnabled() bool {
	return c.Database.Path != ""
}

func containsArg(args []string, placeholder string) bool {
	for _, a := range args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeoutRaw, &cfg.Telegram.PollTimeout},
		{"web.timeout", cfg.Web.TimeoutRaw, &cfg.Web.Timeout},
		{"alerts.poll_interval", cfg.Alerts.PollIntervalRaw, &cfg.Alerts.PollInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config file location.
// Priority: ERRAND_CONFIG env var > XDG_CONFIG_HOME/errand/bot.toml > ~/.config/errand/bot.toml
func DefaultPath() string {
	if p := os.Getenv("ERRAND_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "errand", "bot.toml")
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "errand", "bot.toml")
}

// Template is the commented config written by `errand-bot init`.
const Template = `# errand-bot configuration
# Values of the form ${VAR} are read from the environment.

[transport]
kind = "telegram" # telegram | matrix

[telegram]
bot_token = "${TELEGRAM_BOT_TOKEN}"
poll_timeout = "30s"
# allowed_chat_ids = [123456789]

[matrix]
homeserver = "https://matrix.org"
user_id = "@errand:matrix.org"
access_token = "${MATRIX_ACCESS_TOKEN}"
# recovery_key = "${MATRIX_RECOVERY_KEY}"
# allowed_rooms = ["!room:matrix.org"]

[llm]
api_key = "${GROQ_API_KEY}"
base_url = "https://api.groq.com/openai/v1"
model = "llama3-8b-8192"

[web]
user_agent = "Mozilla/5.0"
timeout = "30s"

[speech]
command = "espeak-ng"
args = ["-w", "{output}", "--stdin"] # text arrives on stdin; {text} is only allowed after "--"
extension = "wav"

[alerts]
poll_interval = "30s"
price_api_url = "https://api.coingecko.com/api/v3"
currency = "usd"

[alerts.symbols]
btc = "bitcoin"
eth = "ethereum"
sol = "solana"
bnb = "binancecoin"

[conversation]
reentry = "reject" # reject | restart

[files]
# work_dir = "/var/tmp/errand-bot"

[database]
# path = "~/.local/share/errand/ledger.db"

[metrics]
enabled = false
addr = "127.0.0.1:9464"

[tracing]
# endpoint = "localhost:4317"

[logging]
level = "info"
format = "text"
`

// WriteTemplate writes Template to path, refusing to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(Template), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
