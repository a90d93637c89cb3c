package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Discord     DiscordConfig             `json:"discord"`
	Tunnel      TunnelConfig              `json:"tunnel"`
	Redis       RedisConfig               `json:"redis"`
	OCR         OCRConfig                 `json:"ocr"`
	Log         LogConfig                 `json:"log"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Environment   string `json:"environment"`
	// Provider names the entry of Providers used for summaries.
	Provider string `json:"provider" validate:"required,oneof=openai gemini claude"`

	FileBaseDir     string `json:"file_base_dir"`
	UploadRetention string `json:"upload_retention" validate:"omitempty,oneof=delete keep"`
	// TempFileTTL and TempCleanInterval are minutes; only used with "keep" retention.
	TempFileTTL       int `json:"temp_file_ttl"`
	TempCleanInterval int `json:"temp_clean_interval"`

	MinWorkers        int `json:"min_workers" validate:"gte=0"`
	MaxWorkers        int `json:"max_workers" validate:"gte=0"`
	QueueSize         int `json:"queue_size" validate:"gte=0"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"`

	SummaryTimeoutSeconds  int `json:"summary_timeout_seconds"`
	DeliveryTimeoutSeconds int `json:"delivery_timeout_seconds"`
}

type DiscordConfig struct {
	Token   string `json:"token" validate:"required"`
	GuildID string `json:"guild_id" validate:"required,numeric"`
}

type TunnelConfig struct {
	AuthToken string `json:"auth_token"`
	Disabled  bool   `json:"disabled"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type OCRConfig struct {
	Tesseract   string `json:"tesseract"`
	Language    string `json:"language"`
	TessdataDir string `json:"tessdata_dir"`
}

type LogConfig struct {
	FilePath string `json:"file_path"`
	Debug    bool   `json:"debug"`
}

// ErrMissingGuildID is returned when DISCORD_GUILD_ID is unset.
var ErrMissingGuildID = errors.New("DISCORD_GUILD_ID must be configured")

var validate = validator.New()

// Load reads configuration from the provided path, then the process
// environment (and a .env file when present). An empty path falls back to
// config.json, which may be absent.
func Load(path string) (*Config, error) {
	cfg := &Config{Providers: make(map[string]ProviderConfig)}

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := readFile(absPath, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	// existing environment wins over .env
	_ = godotenv.Load()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := cfg.Providers[cfg.BasicConfig.Provider]; !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.BasicConfig.Provider)
	}
	return cfg, nil
}

func readFile(absPath string, cfg *Config) error {
	file, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if cfg.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.FileBaseDir)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setProviderKey(cfg, "openai", "OPENAI_API_KEY")
	setProviderKey(cfg, "gemini", "GEMINI_API_KEY")
	setProviderKey(cfg, "claude", "ANTHROPIC_API_KEY")

	overrideString(&cfg.BasicConfig.Provider, "CATCHUP_PROVIDER")
	if model, ok := lookup("CATCHUP_MODEL"); ok {
		provider := cfg.BasicConfig.Provider
		if provider == "" {
			provider = "openai"
		}
		p := cfg.Providers[provider]
		p.Model = model
		cfg.Providers[provider] = p
	}
	overrideString(&cfg.BasicConfig.ServerAddress, "CATCHUP_ADDR")
	overrideString(&cfg.BasicConfig.Environment, "CATCHUP_ENV")
	overrideString(&cfg.BasicConfig.FileBaseDir, "CATCHUP_UPLOAD_DIR")
	overrideString(&cfg.BasicConfig.UploadRetention, "CATCHUP_UPLOAD_RETENTION")
	if err := overrideInt(&cfg.BasicConfig.TempFileTTL, "CATCHUP_UPLOAD_TTL_MINUTES"); err != nil {
		return err
	}

	overrideString(&cfg.Discord.Token, "DISCORD_TOKEN")
	overrideString(&cfg.Discord.GuildID, "DISCORD_GUILD_ID")
	if cfg.Discord.GuildID == "" {
		return ErrMissingGuildID
	}
	if _, err := strconv.ParseUint(cfg.Discord.GuildID, 10, 64); err != nil {
		return fmt.Errorf("parse DISCORD_GUILD_ID %q: %w", cfg.Discord.GuildID, err)
	}

	overrideString(&cfg.Tunnel.AuthToken, "NGROK_AUTHTOKEN")

	if addr, ok := lookup("CATCHUP_REDIS_ADDR"); ok {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return fmt.Errorf("parse CATCHUP_REDIS_ADDR: %w", err)
		}
		cfg.Redis.Host = host
		cfg.Redis.Port = port
	}
	overrideString(&cfg.Redis.Password, "CATCHUP_REDIS_PASSWORD")

	overrideString(&cfg.OCR.Tesseract, "TESSERACT_PATH")
	overrideString(&cfg.OCR.Language, "TESSERACT_LANG")
	overrideString(&cfg.OCR.TessdataDir, "TESSDATA_PREFIX")

	overrideString(&cfg.Log.FilePath, "CATCHUP_LOG_FILE")
	if v, ok := lookup("CATCHUP_DEBUG"); ok {
		cfg.Log.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.Provider == "" {
		b.Provider = "openai"
	}
	if b.ServerAddress == "" {
		b.ServerAddress = ":8080"
	}
	if b.Environment == "" {
		b.Environment = "development"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "uploads"
	}
	if b.UploadRetention == "" {
		b.UploadRetention = "delete"
	}
	if b.MaxWorkers == 0 {
		b.MaxWorkers = 1
	}
	if b.MinWorkers == 0 {
		b.MinWorkers = 1
	}
	if b.QueueSize == 0 {
		b.QueueSize = 64
	}
	if b.SummaryTimeoutSeconds == 0 {
		b.SummaryTimeoutSeconds = 120
	}
	if b.DeliveryTimeoutSeconds == 0 {
		b.DeliveryTimeoutSeconds = 30
	}
	if p, ok := cfg.Providers["openai"]; ok && p.Model == "" {
		p.Model = "gpt-4o-mini"
		cfg.Providers["openai"] = p
	}
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
}

// IsProduction reports whether the service runs in release mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.BasicConfig.Environment, "production")
}

func setProviderKey(cfg *Config, provider, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	p := cfg.Providers[provider]
	p.APIKey = v
	cfg.Providers[provider] = p
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func overrideString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return addr, 6379, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
