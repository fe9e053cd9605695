package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bookworld/bookworld/internal/slogging"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	World     WorldConfig     `yaml:"world"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Redis     RedisConfig     `yaml:"redis"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port" env:"SERVER_PORT"`
	Interface    string        `yaml:"interface" env:"SERVER_INTERFACE"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

// WorldConfig holds simulation world configuration
type WorldConfig struct {
	PresetPath      string        `yaml:"preset_path" env:"WORLD_PRESET_PATH"`
	Genre           string        `yaml:"genre" env:"WORLD_GENRE"`
	Rounds          int           `yaml:"rounds" env:"WORLD_ROUNDS"`
	SaveDir         string        `yaml:"save_dir" env:"WORLD_SAVE_DIR"`
	Mode            string        `yaml:"mode" env:"WORLD_MODE"`
	SceneMode       string        `yaml:"scene_mode" env:"WORLD_SCENE_MODE"`
	EventDelay      time.Duration `yaml:"event_delay" env:"WORLD_EVENT_DELAY"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" env:"WORLD_GENERATE_TIMEOUT"`
}

// LLMConfig holds language model configuration
type LLMConfig struct {
	Provider       string `yaml:"provider" env:"LLM_PROVIDER"`
	WorldModel     string `yaml:"world_model" env:"LLM_WORLD_MODEL"`
	RoleModel      string `yaml:"role_model" env:"LLM_ROLE_MODEL"`
	OpenAIKey      string `yaml:"openai_key" env:"OPENAI_API_KEY"`
	AnthropicKey   string `yaml:"anthropic_key" env:"ANTHROPIC_API_KEY"`
	OllamaHost     string `yaml:"ollama_host" env:"LLM_OLLAMA_HOST"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"LLM_REQUEST_TIMEOUT"`
}

// RetrievalConfig holds retrieval store configuration
type RetrievalConfig struct {
	EmbeddingModel string `yaml:"embedding_model" env:"RETRIEVAL_EMBEDDING_MODEL"`
	TopK           int    `yaml:"top_k" env:"RETRIEVAL_TOP_K"`
}

// RedisConfig holds Redis configuration for the history store
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     string `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// MediaConfig holds static asset configuration
type MediaConfig struct {
	FrontendDir string   `yaml:"frontend_dir" env:"MEDIA_FRONTEND_DIR"`
	IndexFile   string   `yaml:"index_file" env:"MEDIA_INDEX_FILE"`
	DefaultIcon string   `yaml:"default_icon" env:"MEDIA_DEFAULT_ICON"`
	DataRoots   []string `yaml:"data_roots" env:"MEDIA_DATA_ROOTS"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level" env:"LOGGING_LEVEL"`
	IsDev            bool   `yaml:"is_dev" env:"LOGGING_IS_DEV"`
	LogDir           string `yaml:"log_dir" env:"LOGGING_LOG_DIR"`
	MaxAgeDays       int    `yaml:"max_age_days" env:"LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB        int    `yaml:"max_size_mb" env:"LOGGING_MAX_SIZE_MB"`
	MaxBackups       int    `yaml:"max_backups" env:"LOGGING_MAX_BACKUPS"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console" env:"LOGGING_ALSO_LOG_TO_CONSOLE"`
}

// Load loads configuration from YAML file with environment variable overrides
func Load(configFile string) (*Config, error) {
	config := getDefaultConfig()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromYAML(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Interface:    "0.0.0.0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		World: WorldConfig{
			Rounds:          10,
			SaveDir:         "saves/default",
			Mode:            "free",
			SceneMode:       "auto",
			EventDelay:      time.Second,
			GenerateTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			WorldModel:     "gpt-4o",
			RoleModel:      "gpt-4o-mini",
			OllamaHost:     "http://localhost:11434",
			RequestTimeout: 60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			EmbeddingModel: "openai",
			TopK:           5,
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    "6379",
			DB:      0,
		},
		Media: MediaConfig{
			FrontendDir: "frontend",
			IndexFile:   "frontend/index.html",
			DefaultIcon: "frontend/assets/images/default-icon.jpg",
			DataRoots:   []string{"data"},
		},
		Logging: LoggingConfig{
			Level:            "info",
			IsDev:            true,
			LogDir:           "logs",
			MaxAgeDays:       7,
			MaxSizeMB:        100,
			MaxBackups:       10,
			AlsoLogToConsole: true,
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(config *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// overrideWithEnv overrides configuration values with environment variables
func overrideWithEnv(config *Config) error {
	return overrideStructWithEnv(reflect.ValueOf(config).Elem())
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(int64(intVal))
	case reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int64 value: %s", value)
			}
			field.SetInt(intVal)
		}
	case reflect.Slice:
		// Handle string slices (comma-separated values)
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := make([]string, 0, len(parts))
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					slice = append(slice, trimmed)
				}
			}
			field.Set(reflect.ValueOf(slice))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be numeric: %s", c.Server.Port)
	}
	if c.World.PresetPath == "" && c.World.Genre == "" {
		return fmt.Errorf("either world preset_path or genre must be set")
	}
	if c.World.EventDelay <= 0 {
		return fmt.Errorf("world event_delay must be positive")
	}
	if c.Media.DefaultIcon == "" {
		return fmt.Errorf("media default_icon is required")
	}
	return nil
}

// ResolvePresetPath returns the preset file to load, preferring an explicit
// preset path over the genre-derived experiment preset
func (c *Config) ResolvePresetPath() string {
	if c.World.PresetPath != "" {
		return c.World.PresetPath
	}
	return fmt.Sprintf("config/experiment_%s.json", c.World.Genre)
}

// GetLogLevel converts the string log level to slogging.LogLevel
func (c *Config) GetLogLevel() slogging.LogLevel {
	return slogging.ParseLogLevel(c.Logging.Level)
}

// RedisAddr returns the host:port address for the history store
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}
