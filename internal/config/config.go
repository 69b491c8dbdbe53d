package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	ObjectStore ObjectStoreConfig         `json:"object_store"`
	Worker      WorkerConfig              `json:"worker"`
}

type BasicConfig struct {
	ServerAddress      string   `json:"server_address"`
	FolderPath         string   `json:"folder_path"`
	SessionStore       string   `json:"session_store"`
	SessionTTLHours    int      `json:"session_ttl_hours"`
	MaxUploadBytes     int64    `json:"max_upload_bytes"`
	LoginRatePerMinute int      `json:"login_rate_per_minute"`
	CORSOrigins        []string `json:"cors_origins"`
	LogLevel           string   `json:"log_level"`
	LogFormat          string   `json:"log_format"`
}

// DatabaseConfig describes one entry of the databases map. SQLite only uses DSN.
type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ObjectStoreConfig selects where raw file bytes live: "local" or "s3".
type ObjectStoreConfig struct {
	Backend string   `json:"backend"`
	S3      S3Config `json:"s3"`
}

type S3Config struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix"`
}

// WorkerConfig controls the derivative job queue and its consumers.
type WorkerConfig struct {
	Queue       string `json:"queue"`
	QueueKey    string `json:"queue_key"`
	Concurrency int    `json:"concurrency"`
	MaxAttempts int    `json:"max_attempts"`
	QueueSize   int    `json:"queue_size"`
}

const (
	DefaultServerAddress  = ":5000"
	DefaultFolderPath     = "/tmp/files_manager"
	DefaultSessionTTL     = 24
	DefaultMaxUploadBytes = 10 << 20
	DefaultQueueKey       = "fileQueue"
)

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields the defaults; environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if dbCfg, ok := cfg.Databases["sqlite3"]; ok && dbCfg.DSN != "" && dbCfg.DSN != ":memory:" &&
		!strings.HasPrefix(dbCfg.DSN, "file:") && !filepath.IsAbs(dbCfg.DSN) {
		dbCfg.DSN = filepath.Join(filepath.Dir(absPath), dbCfg.DSN)
		cfg.Databases["sqlite3"] = dbCfg
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FOLDER_PATH"); v != "" {
		c.BasicConfig.FolderPath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			c.BasicConfig.ServerAddress = ":" + v
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.FolderPath == "" {
		b.FolderPath = DefaultFolderPath
	}
	if b.SessionStore == "" {
		b.SessionStore = "sql"
	}
	if b.SessionTTLHours <= 0 {
		b.SessionTTLHours = DefaultSessionTTL
	}
	if b.MaxUploadBytes <= 0 {
		b.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(b.CORSOrigins) == 0 {
		b.CORSOrigins = []string{"*"}
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "files_manager.db"}
	}
	if c.ObjectStore.Backend == "" {
		c.ObjectStore.Backend = "local"
	}
	w := &c.Worker
	if w.Queue == "" {
		w.Queue = "memory"
	}
	if w.QueueKey == "" {
		w.QueueKey = DefaultQueueKey
	}
	if w.Concurrency <= 0 {
		w.Concurrency = 2
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 3
	}
	if w.QueueSize <= 0 {
		w.QueueSize = 256
	}
}
