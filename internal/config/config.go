package config

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig
	Server  ServerConfig
	Storage StorageConfig
	Speech  SpeechConfig
	Export  ExportConfig
	Log     LogConfig
}

// LLMConfig holds the model backend configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StorageConfig describes the local slot sessions are persisted to.
type StorageConfig struct {
	Path       string `mapstructure:"path"`
	Slot       string `mapstructure:"slot"`
	QuotaBytes int    `mapstructure:"quota_bytes"`
}

// SpeechConfig holds the text-to-speech configuration
type SpeechConfig struct {
	Engine     string   `mapstructure:"engine"`
	APIKey     string   `mapstructure:"api_key"`
	BaseURL    string   `mapstructure:"base_url"`
	Model      string   `mapstructure:"model"`
	Voice      string   `mapstructure:"voice"`
	Locale     string   `mapstructure:"locale"`
	Rate       float64  `mapstructure:"rate"`
	MaxSegment int      `mapstructure:"max_segment"`
	Sink       string   `mapstructure:"sink"`
	OutputDir  string   `mapstructure:"output_dir"`
	Player     []string `mapstructure:"player"`
}

// ExportConfig holds where exported chats are written
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	// registered so PARLEY_LLM_* overrides reach Unmarshal
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("storage.path", "parley.db")
	v.SetDefault("storage.slot", "chat_sessions")
	v.SetDefault("storage.quota_bytes", 5*1024*1024)
	v.SetDefault("speech.engine", "openai")
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.base_url", "")
	v.SetDefault("speech.model", "tts-1")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("speech.locale", "en-US")
	v.SetDefault("speech.rate", 1.0)
	v.SetDefault("speech.max_segment", 200)
	v.SetDefault("speech.sink", "file")
	v.SetDefault("speech.output_dir", "speech")
	v.SetDefault("speech.player", []string{"mpv", "--really-quiet", "-"})
	v.SetDefault("export.output_dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads the configuration. The file is taken from path, then
// CONFIG_PATH, then config.yaml in the working directory; a missing
// config.yaml is not an error. PARLEY_* environment variables override
// file values (PARLEY_LLM_API_KEY -> llm.api_key).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("parley")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
