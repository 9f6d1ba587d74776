package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 3318
	DefaultHistoryLimit = 150
	DefaultSendRPS      = 2.0
	DefaultSendBurst    = 5
	DefaultKafkaTopic   = "kpuvote.events"
	DefaultS3Bucket     = "chat-files"
)

type Config struct {
	Port         int
	DatabaseURL  string
	DatabaseType string
	JWTSecret    string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	HistoryLimit int
	SendRPS      float64
	SendBurst    int

	LogLevel  string
	LogFormat string

	ConfigFile string
}

// FileConfig is the optional YAML config file. Secrets are not read from it.
type FileConfig struct {
	Port         int      `yaml:"port"`
	DatabaseType string   `yaml:"database_type"`
	RedisAddr    string   `yaml:"redis_addr"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	S3Endpoint   string   `yaml:"s3_endpoint"`
	S3Bucket     string   `yaml:"s3_bucket"`
	S3UseSSL     bool     `yaml:"s3_use_ssl"`
	HistoryLimit int      `yaml:"history_limit"`
	SendRPS      float64  `yaml:"send_rps"`
	SendBurst    int      `yaml:"send_burst"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
}

// LoadDotEnv loads .env into the environment if present. Existing
// variables win.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, fmt.Errorf("config file not found: %s", path)
		}
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return fc, nil
}

// ParseFlags validates flags and fills the rest from the environment, the
// optional config file, then defaults, in that order.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var brokers string

	fs := flag.NewFlagSet("kpu-vote", flag.ContinueOnError)

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.ConfigFile, "c", "", "Path to YAML config file")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for realtime fan-out")
	fs.StringVar(&brokers, "kafka", "", "Comma-separated Kafka brokers")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "JWT signing secret (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.ConfigFile == "" {
		cfg.ConfigFile = os.Getenv("CONFIG_FILE")
	}
	var fc FileConfig
	if cfg.ConfigFile != "" {
		var err error
		if fc, err = LoadFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	// Fall back to environment variables, then the file
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else if fc.Port != 0 {
			cfg.Port = fc.Port
		} else {
			cfg.Port = DefaultPort
		}
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	cfg.DatabaseType = firstNonEmpty(cfg.DatabaseType, os.Getenv("DATABASE_TYPE"), fc.DatabaseType, "sqlite")
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	cfg.RedisAddr = firstNonEmpty(cfg.RedisAddr, os.Getenv("REDIS_ADDR"), fc.RedisAddr)

	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKERS")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	} else {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	cfg.KafkaTopic = firstNonEmpty(os.Getenv("KAFKA_TOPIC"), fc.KafkaTopic, DefaultKafkaTopic)

	cfg.S3Endpoint = firstNonEmpty(os.Getenv("S3_ENDPOINT"), fc.S3Endpoint)
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.S3Bucket = firstNonEmpty(os.Getenv("S3_BUCKET"), fc.S3Bucket, DefaultS3Bucket)
	cfg.S3UseSSL = fc.S3UseSSL
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.New("invalid S3_USE_SSL env variable")
		}
		cfg.S3UseSSL = b
	}

	var err error
	if cfg.HistoryLimit, err = envInt("HISTORY_LIMIT", fc.HistoryLimit, DefaultHistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.SendBurst, err = envInt("SEND_BURST", fc.SendBurst, DefaultSendBurst); err != nil {
		return Config{}, err
	}
	cfg.SendRPS = DefaultSendRPS
	if fc.SendRPS > 0 {
		cfg.SendRPS = fc.SendRPS
	}
	if v := os.Getenv("SEND_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps <= 0 {
			return Config{}, errors.New("invalid SEND_RPS env variable")
		}
		cfg.SendRPS = rps
	}

	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.LogLevel, "info")
	cfg.LogFormat = firstNonEmpty(os.Getenv("LOG_FORMAT"), fc.LogFormat, "text")

	// Secrets - MUST be provided
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET required")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string, fileValue, def int) (int, error) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid %s env variable", key)
		}
		return n, nil
	}
	if fileValue > 0 {
		return fileValue, nil
	}
	return def, nil
}
