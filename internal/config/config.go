package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Log      LogConfig
	Metrics  MetricsConfig
	CORS     CORSConfig
	Pipeline PipelineConfig
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig selects and configures the file status store
type DatabaseConfig struct {
	Driver     string // postgres, sqlite or memory
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	LogLevel   string
	SQLitePath string
}

// RedisConfig configures the redis series queue
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// QueueConfig selects the series queue
type QueueConfig struct {
	Type     string // redis or memory
	Key      string
	Capacity int
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig toggles /metrics
type MetricsConfig struct {
	Enabled bool
}

// CORSConfig configures the admin API CORS policy
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// PipelineConfig tunes the conversion pipeline
type PipelineConfig struct {
	WatcherPollInterval    time.Duration
	DispatcherPollInterval time.Duration
	IdleTimeout            time.Duration
	// InstanceNumberBase is the DICOM instance number that fills progress
	// slot 0 (PIPELINE_INSTANCE_NUMBER_BASE, default 1). Instances numbered
	// below it, including those with no InstanceNumber (read as 0), are still
	// converted but never count towards completion, so their series retires
	// on idle; set it to 0 for archives that number from 0.
	InstanceNumberBase     int
	PNGWorkers             int
	TagWorkers             int
	PoolQueueSize          int
	GridSize               int
	GridTileSize           int
	OutputRoot             string
	Tags                   bool
	DumpBinary             string
	DumpArgs               []string
	DumpWorkDir            string
	DumpTimeout            time.Duration
	LockFile               string
	ConfigFile             string
}

// Load reads .env (when present) and the environment, then applies the
// optional pipeline TOML file
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "dicom_renderer"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			LogLevel:   getEnv("DB_LOG_LEVEL", "warn"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "data/pipeline.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Type:     strings.ToLower(getEnv("QUEUE_TYPE", "memory")),
			Key:      getEnv("QUEUE_KEY", "dicom:series:new"),
			Capacity: getEnvInt("QUEUE_CAPACITY", 1024),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Request-ID"}),
		},
		Pipeline: PipelineConfig{
			WatcherPollInterval:    getEnvDuration("PIPELINE_WATCHER_POLL_INTERVAL", 5000*time.Millisecond),
			DispatcherPollInterval: getEnvDuration("PIPELINE_DISPATCHER_POLL_INTERVAL", 500*time.Millisecond),
			IdleTimeout:            getEnvDuration("PIPELINE_IDLE_TIMEOUT", 30*time.Second),
			InstanceNumberBase:     getEnvInt("PIPELINE_INSTANCE_NUMBER_BASE", 1),
			PNGWorkers:             getEnvInt("PIPELINE_PNG_WORKERS", 20),
			TagWorkers:             getEnvInt("PIPELINE_TAG_WORKERS", 20),
			PoolQueueSize:          getEnvInt("PIPELINE_POOL_QUEUE_SIZE", 40),
			GridSize:               getEnvInt("PIPELINE_GRID_SIZE", 16),
			GridTileSize:           getEnvInt("PIPELINE_GRID_TILE_SIZE", 256),
			OutputRoot:             getEnv("PIPELINE_OUTPUT_ROOT", "data/rendered"),
			Tags:                   getEnvBool("PIPELINE_TAGS", true),
			DumpBinary:             getEnv("PIPELINE_DUMP_BINARY", ""),
			DumpArgs:               getEnvList("PIPELINE_DUMP_ARGS", nil),
			DumpWorkDir:            getEnv("PIPELINE_DUMP_WORKDIR", ""),
			DumpTimeout:            getEnvDuration("PIPELINE_DUMP_TIMEOUT", 60*time.Second),
			LockFile:               getEnv("PIPELINE_LOCK_FILE", "data/pipeline.lock"),
			ConfigFile:             getEnv("PIPELINE_CONFIG_FILE", ""),
		},
	}

	if cfg.Pipeline.ConfigFile != "" {
		if err := cfg.Pipeline.ApplyFile(cfg.Pipeline.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", c.Server.Port))
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for postgres"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("DB_SQLITE_PATH is required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	switch c.Queue.Type {
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis queue"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown queue type %q", c.Queue.Type))
	}

	p := c.Pipeline
	if p.OutputRoot == "" {
		errs = append(errs, errors.New("PIPELINE_OUTPUT_ROOT is required"))
	}
	if p.PNGWorkers <= 0 || p.TagWorkers <= 0 {
		errs = append(errs, errors.New("pipeline worker counts must be positive"))
	}
	if p.GridSize <= 0 {
		errs = append(errs, errors.New("PIPELINE_GRID_SIZE must be positive"))
	}
	if p.WatcherPollInterval <= 0 || p.DispatcherPollInterval <= 0 || p.IdleTimeout <= 0 {
		errs = append(errs, errors.New("pipeline intervals must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds ("5000")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
