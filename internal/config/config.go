package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/satriahrh/livecaption/domain/repositories"
	"github.com/satriahrh/livecaption/internal/audio"
)

// DefaultAutoDelete keeps finished sessions for a month
const DefaultAutoDelete = "30days"

// System audio modes
const (
	SystemAudioScreenCapture = "screen_capture"
	SystemAudioVirtual       = "virtual_audio"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"
)

// Config holds every runtime setting
type Config struct {
	MicInput    string `mapstructure:"mic_input"`
	SystemAudio string `mapstructure:"system_audio"`

	STTProvider    string `mapstructure:"stt_provider"`
	STTModel       string `mapstructure:"stt_model"`
	STTLanguage    string `mapstructure:"stt_language"`
	ChunkMs        int    `mapstructure:"chunk_ms"`
	InterimResults bool   `mapstructure:"interim_results"`
	EndpointingMs  int    `mapstructure:"endpointing"`

	DeepgramAPIKey string `mapstructure:"deepgram_api_key"`
	DeepgramURL    string `mapstructure:"deepgram_url"`

	LocalSTTPython      string `mapstructure:"local_stt_python"`
	LocalSTTScript      string `mapstructure:"local_stt_script"`
	LocalSTTDevice      string `mapstructure:"local_stt_device"`
	LocalSTTComputeType string `mapstructure:"local_stt_compute_type"`

	ScreenCaptureCommand string `mapstructure:"screen_capture_command"`

	Storage           string `mapstructure:"storage"`
	SQLitePath        string `mapstructure:"sqlite_path"`
	MongoURI          string `mapstructure:"mongodb_uri"`
	MongoDatabase     string `mapstructure:"mongodb_database"`
	LLMProvider       string `mapstructure:"llm_provider"`
	LLMModel          string `mapstructure:"llm_model"`
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	GoogleCredentials string `mapstructure:"google_credentials_file"`
	AutoDelete        string `mapstructure:"auto_delete"`

	Port           string `mapstructure:"port"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	ViewerPasscode string `mapstructure:"viewer_passcode"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		MicInput:             "default",
		SystemAudio:          SystemAudioScreenCapture,
		STTProvider:          "deepgram",
		STTModel:             "nova-3",
		STTLanguage:          "en",
		ChunkMs:              320,
		InterimResults:       true,
		EndpointingMs:        300,
		DeepgramURL:          "wss://api.deepgram.com/v1/listen",
		LocalSTTPython:       "python3",
		LocalSTTScript:       "faster_whisper_stream.py",
		LocalSTTDevice:       "auto",
		LocalSTTComputeType:  "int8",
		ScreenCaptureCommand: "screen-audio-capture",
		Storage:              StorageMemory,
		SQLitePath:           "livecaption.db",
		MongoURI:             "mongodb://localhost:27017",
		MongoDatabase:        "livecaption",
		LLMProvider:          "gemini",
		AutoDelete:           DefaultAutoDelete,
		Port:                 "8080",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// well-known variables read without the LIVECAPTION_ prefix
var envAliases = map[string]string{
	"deepgram_api_key":        "DEEPGRAM_API_KEY",
	"gemini_api_key":          "GEMINI_API_KEY",
	"openai_api_key":          "OPENAI_API_KEY",
	"llm_provider":            "LLM_PROVIDER",
	"mongodb_uri":             "MONGODB_URI",
	"mongodb_database":        "MONGODB_DATABASE",
	"port":                    "PORT",
	"jwt_secret":              "JWT_SECRET",
	"local_stt_script":        "LOCAL_STT_SCRIPT",
	"google_credentials_file": "GOOGLE_APPLICATION_CREDENTIALS",
}

// Load reads an optional YAML file, then the environment (including a .env
// file in the working directory). An explicit cfgFile must exist.
func Load(cfgFile string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	cfg := Default()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("livecaption")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix("LIVECAPTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		if err := v.BindEnv(key, "LIVECAPTION_"+strings.ToUpper(key), alias); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mic_input", cfg.MicInput)
	v.SetDefault("system_audio", cfg.SystemAudio)
	v.SetDefault("stt_provider", cfg.STTProvider)
	v.SetDefault("stt_model", cfg.STTModel)
	v.SetDefault("stt_language", cfg.STTLanguage)
	v.SetDefault("chunk_ms", cfg.ChunkMs)
	v.SetDefault("interim_results", cfg.InterimResults)
	v.SetDefault("endpointing", cfg.EndpointingMs)
	v.SetDefault("deepgram_api_key", "")
	v.SetDefault("deepgram_url", cfg.DeepgramURL)
	v.SetDefault("local_stt_python", cfg.LocalSTTPython)
	v.SetDefault("local_stt_script", cfg.LocalSTTScript)
	v.SetDefault("local_stt_device", cfg.LocalSTTDevice)
	v.SetDefault("local_stt_compute_type", cfg.LocalSTTComputeType)
	v.SetDefault("screen_capture_command", cfg.ScreenCaptureCommand)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("sqlite_path", cfg.SQLitePath)
	v.SetDefault("mongodb_uri", cfg.MongoURI)
	v.SetDefault("mongodb_database", cfg.MongoDatabase)
	v.SetDefault("llm_provider", cfg.LLMProvider)
	v.SetDefault("llm_model", "")
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("google_credentials_file", "")
	v.SetDefault("auto_delete", cfg.AutoDelete)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("viewer_passcode", "")
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".livecaption")
}

// StreamingConfig derives the backend settings
func (c *Config) StreamingConfig() repositories.StreamingConfig {
	return repositories.StreamingConfig{
		Provider:       strings.ToLower(strings.TrimSpace(c.STTProvider)),
		Model:          c.STTModel,
		Language:       c.STTLanguage,
		SampleRate:     audio.SampleRate,
		ChunkMs:        c.ChunkMs,
		InterimResults: c.InterimResults,
		EndpointingMs:  c.EndpointingMs,
	}
}

// Retention returns how long finished sessions are kept, 0 for forever.
// AutoDelete must have passed Validate.
func (c *Config) Retention() time.Duration {
	d, _ := ParseRetention(c.AutoDelete)
	return d
}

// ParseRetention reads an auto_delete value: "never" or "off" keeps
// sessions forever, "<N>days" or "<N>d" keeps them N days, and anything
// time.ParseDuration accepts is used as is.
func ParseRetention(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "never", "off":
		return 0, nil
	}

	for _, suffix := range []string{"days", "day", "d"} {
		if n, ok := strings.CutSuffix(v, suffix); ok {
			days, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil || days <= 0 {
				return 0, fmt.Errorf("invalid auto_delete %q", value)
			}
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid auto_delete %q", value)
	}
	return d, nil
}

// UsesScreenCapture reports whether system audio comes from the capture helper
func (c *Config) UsesScreenCapture() bool {
	return strings.EqualFold(strings.TrimSpace(c.SystemAudio), SystemAudioScreenCapture)
}
