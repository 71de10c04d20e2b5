package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

const (
	defaultLiveURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	defaultVoice     = "Zephyr"

	// DefaultSystemInstruction 是实时顾问的人设。
	DefaultSystemInstruction = "You are an elite Global Trade Advisor. Be concise, professional, and authoritative. Provide real-time regulatory guidance. Speak as if you are in a secure boardroom environment."
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig `toml:"server"`
	AI     AIConfig     `toml:"ai"`
	Live   LiveConfig   `toml:"live"`
	Store  StoreConfig  `toml:"store"`
	Share  ShareConfig  `toml:"share"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	PublicBaseURL  string   `toml:"public_base_url"`
}

// AIConfig 描述报告生成所用的大模型配置。
type AIConfig struct {
	APIKey        string   `toml:"api_key"`
	AccessKey     string   `toml:"access_key"`
	SecretKey     string   `toml:"secret_key"`
	Model         string   `toml:"model"`
	BaseURL       string   `toml:"base_url"`
	Region        string   `toml:"region"`
	Temperature   *float64 `toml:"temperature"`
	MaxTokens     *int     `toml:"max_tokens"`
	ReportTimeout Duration `toml:"report_timeout"`
}

// LiveConfig 描述实时语音端点。
type LiveConfig struct {
	APIKey            string   `toml:"api_key"`
	URL               string   `toml:"url"`
	Model             string   `toml:"model"`
	Voice             string   `toml:"voice"`
	SystemInstruction string   `toml:"system_instruction"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
}

// StoreConfig 选择历史记录的存储后端。
type StoreConfig struct {
	Driver string `toml:"driver"` // memory | sqlite
	Path   string `toml:"path"`
}

// ShareConfig 控制分享链接的体积与有效期。
type ShareConfig struct {
	MaxImageBytes int      `toml:"max_image_bytes"`
	MaxTokenBytes int      `toml:"max_token_bytes"`
	TTL           Duration `toml:"ttl"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration 允许在 TOML 中写 "30s" 这样的字符串。
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Enabled 表示实时语音是否可用。
func (c LiveConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

// Load 先读取 COMPLIANCE_CONFIG 指向的 TOML 文件（可选），再用环境变量覆盖。
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("COMPLIANCE_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := applyServerEnv(&cfg.Server); err != nil {
		return nil, err
	}
	if err := applyAIEnv(&cfg.AI); err != nil {
		return nil, err
	}
	if err := applyLiveEnv(&cfg.Live); err != nil {
		return nil, err
	}
	if err := applyStoreEnv(&cfg.Store); err != nil {
		return nil, err
	}
	if err := applyShareEnv(&cfg.Share); err != nil {
		return nil, err
	}
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		AI: AIConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			Region:  "cn-beijing",
		},
		Live: LiveConfig{
			URL:               defaultLiveURL,
			Model:             defaultLiveModel,
			Voice:             defaultVoice,
			SystemInstruction: DefaultSystemInstruction,
			HandshakeTimeout:  Duration{10 * time.Second},
		},
		Store: StoreConfig{Driver: "memory", Path: "compliance.db"},
		Share: ShareConfig{
			MaxImageBytes: 500_000,
			MaxTokenBytes: 2_000_000,
			TTL:           Duration{7 * 24 * time.Hour},
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyServerEnv 解析服务器监听地址。
func applyServerEnv(c *ServerConfig) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr, err := parseAddr(port)
		if err != nil {
			return err
		}
		c.Addr = addr
	}
	if origins := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	c.PublicBaseURL = getEnvOrDefault("PUBLIC_BASE_URL", c.PublicBaseURL)
	return nil
}

func parseAddr(port string) (string, error) {
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func applyAIEnv(c *AIConfig) error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		c.Temperature = temperature
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		c.MaxTokens = maxTokens
	}

	timeout, err := parseOptionalDurationEnv("REPORT_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		c.ReportTimeout = Duration{*timeout}
	}

	c.APIKey = getEnvOrDefault("ARK_API_KEY", c.APIKey)
	c.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", c.AccessKey)
	c.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", c.SecretKey)
	c.Model = getEnvOrDefault("ARK_MODEL", c.Model)
	c.BaseURL = getEnvOrDefault("ARK_BASE_URL", c.BaseURL)
	c.Region = getEnvOrDefault("ARK_REGION", c.Region)
	return nil
}

func applyLiveEnv(c *LiveConfig) error {
	timeout, err := parseOptionalDurationEnv("LIVE_HANDSHAKE_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		c.HandshakeTimeout = Duration{*timeout}
	}

	// 与前端一致，API_KEY 是实时语音的默认密钥
	c.APIKey = getEnvOrDefault("API_KEY", c.APIKey)
	c.APIKey = getEnvOrDefault("LIVE_API_KEY", c.APIKey)
	c.URL = getEnvOrDefault("LIVE_URL", c.URL)
	c.Model = getEnvOrDefault("LIVE_MODEL", c.Model)
	c.Voice = getEnvOrDefault("LIVE_VOICE", c.Voice)
	c.SystemInstruction = getEnvOrDefault("LIVE_SYSTEM_INSTRUCTION", c.SystemInstruction)
	return nil
}

func applyStoreEnv(c *StoreConfig) error {
	c.Driver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", c.Driver))
	c.Path = getEnvOrDefault("STORE_PATH", c.Path)
	switch c.Driver {
	case "memory", "sqlite":
		return nil
	default:
		return fmt.Errorf("invalid STORE_DRIVER value %q (want memory or sqlite)", c.Driver)
	}
}

func applyShareEnv(c *ShareConfig) error {
	maxImage, err := parseOptionalIntEnv("SHARE_MAX_IMAGE_BYTES")
	if err != nil {
		return err
	}
	if maxImage != nil {
		c.MaxImageBytes = *maxImage
	}

	maxToken, err := parseOptionalIntEnv("SHARE_MAX_TOKEN_BYTES")
	if err != nil {
		return err
	}
	if maxToken != nil {
		c.MaxTokenBytes = *maxToken
	}

	ttl, err := parseOptionalDurationEnv("SHARE_TTL")
	if err != nil {
		return err
	}
	if ttl != nil {
		c.TTL = Duration{*ttl}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lookupTrimmed(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	return value, value != ""
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
