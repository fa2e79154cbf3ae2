package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Perception PerceptionConfig `json:"perception"`
	Security   SecurityConfig   `json:"security"`
	Redis      RedisConfig      `json:"redis"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Logging    LoggingConfig    `json:"logging"`
	Analysis   AnalysisConfig   `json:"analysis"`
	Processor  ProcessorConfig  `json:"processor"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type PerceptionConfig struct {
	BaseURL             string        `json:"base_url"`
	Timeout             time.Duration `json:"timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	// LocalDecode walks videos with the gocv decoder instead of uploading
	// them whole to the perception service.
	LocalDecode bool `json:"local_decode"`
}

type SecurityConfig struct {
	JWTSecretKey   string        `json:"jwt_secret_key"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	MaxRequestSize int64         `json:"max_request_size"`
	RequestTimeout time.Duration `json:"request_timeout"`
	EnableHTTPS    bool          `json:"enable_https"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
	TokenTTL       time.Duration `json:"token_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type MQTTConfig struct {
	Enabled  bool          `json:"enabled"`
	Broker   string        `json:"broker"`
	ClientID string        `json:"client_id"`
	Topic    string        `json:"topic"`
	QoS      byte          `json:"qos"`
	Timeout  time.Duration `json:"timeout"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

type AnalysisConfig struct {
	FrameStride     int           `json:"frame_stride"`
	ModalityTimeout time.Duration `json:"modality_timeout"`
	RulesFile       string        `json:"rules_file"`
	TrackTremor     bool          `json:"track_tremor"`
	UploadDir       string        `json:"upload_dir"`
}

type ProcessorConfig struct {
	Workers      int           `json:"workers"`
	QueueSize    int           `json:"queue_size"`
	CacheSize    int           `json:"cache_size"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	JobRetention time.Duration `json:"job_retention"`
}

// LoadConfig reads a .env file when present, then the environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Perception: PerceptionConfig{
			BaseURL:             getEnv("PERCEPTION_BASE_URL", "http://localhost:5000"),
			Timeout:             getEnvAsDuration("PERCEPTION_TIMEOUT", 60*time.Second),
			MaxRetries:          getEnvAsInt("PERCEPTION_MAX_RETRIES", 3),
			RetryDelay:          getEnvAsDuration("PERCEPTION_RETRY_DELAY", 1*time.Second),
			HealthCheckInterval: getEnvAsDuration("PERCEPTION_HEALTH_CHECK_INTERVAL", 30*time.Second),
			LocalDecode:         getEnvAsBool("PERCEPTION_LOCAL_DECODE", false),
		},
		Security: SecurityConfig{
			JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 100*1024*1024), // 100MB, videos included
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 120*time.Second),
			EnableHTTPS:    getEnvAsBool("ENABLE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			TokenTTL:       getEnvAsDuration("ADMIN_TOKEN_TTL", 24*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		MQTT: MQTTConfig{
			Enabled:  getEnvAsBool("MQTT_ENABLED", false),
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "medassist"),
			Topic:    getEnv("MQTT_TOPIC", "medassist/reports"),
			QoS:      byte(getEnvAsInt("MQTT_QOS", 1)),
			Timeout:  getEnvAsDuration("MQTT_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Analysis: AnalysisConfig{
			FrameStride:     getEnvAsInt("FRAME_STRIDE", 5),
			ModalityTimeout: getEnvAsDuration("MODALITY_TIMEOUT", 60*time.Second),
			RulesFile:       getEnv("RULES_FILE", ""),
			TrackTremor:     getEnvAsBool("TRACK_TREMOR", false),
			UploadDir:       getEnv("UPLOAD_DIR", os.TempDir()),
		},
		Processor: ProcessorConfig{
			Workers:      getEnvAsInt("PROCESSOR_WORKERS", 4),
			QueueSize:    getEnvAsInt("PROCESSOR_QUEUE_SIZE", 64),
			CacheSize:    getEnvAsInt("CACHE_SIZE", 500),
			CacheTTL:     getEnvAsDuration("CACHE_TTL", 10*time.Minute),
			JobRetention: getEnvAsDuration("JOB_RETENTION", 1*time.Hour),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Perception.BaseURL == "" {
		errors = append(errors, "perception base URL is required")
	}

	if c.Security.JWTSecretKey == "" {
		logger.Warn("JWT secret key not set, using random key")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.EnableHTTPS && (c.Security.CertFile == "" || c.Security.KeyFile == "") {
		errors = append(errors, "HTTPS requires both cert and key files")
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			errors = append(errors, "Redis host is required")
		}
		if c.Redis.Port < 1 || c.Redis.Port > 65535 {
			errors = append(errors, "Redis port must be between 1 and 65535")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errors = append(errors, "MQTT broker is required")
		}
		if c.MQTT.QoS > 2 {
			errors = append(errors, "MQTT QoS must be 0, 1 or 2")
		}
	}

	if c.Analysis.FrameStride < 1 {
		logger.Warn("Frame stride below 1, every frame will be analyzed", zap.Int("frame_stride", c.Analysis.FrameStride))
	}

	if c.Processor.Workers < 1 {
		errors = append(errors, "processor workers must be at least 1")
	}

	if c.Processor.QueueSize < 1 {
		errors = append(errors, "processor queue size must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
