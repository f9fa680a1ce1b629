package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// StorageMemory keeps session state in process memory only.
	StorageMemory = "memory"
	// StorageFile persists session state as JSON files under a directory.
	StorageFile = "file"
	// StorageRedis persists session state in Redis.
	StorageRedis = "redis"
	// StoragePostgres persists session state in a PostgreSQL table.
	StoragePostgres = "postgres"
	// StorageObject persists session state in an S3-compatible bucket.
	StorageObject = "object"
	// StorageGit persists session state in a git working tree.
	StorageGit = "git"
)

const (
	// DuplicateLoginKeepExisting leaves an existing session for the same user untouched.
	DuplicateLoginKeepExisting = "keep-existing"
	// DuplicateLoginRefresh overwrites the existing session with the new login result.
	DuplicateLoginRefresh = "refresh"

	// MissingSessionError makes updates against a missing active session fail.
	MissingSessionError = "error"
	// MissingSessionIgnore makes updates against a missing active session silent no-ops.
	MissingSessionIgnore = "ignore"
)

const (
	defaultStorageDir       = "~/.authbridge"
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 30
	defaultRequestTimeout   = 30
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under the logs directory.
	// When exceeded, the oldest log files are deleted until within the limit. Set to 0 to disable.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// Storage selects and configures the persistence backend for session state.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Sessions configures multi-session policies.
	Sessions SessionsConfig `yaml:"sessions" json:"sessions"`
}

// StorageConfig selects a key/value backend for the persisted auth state.
type StorageConfig struct {
	// Type is one of memory, file, redis, postgres, object or git.
	Type string `yaml:"type" json:"type"`

	// Dir is the directory used by the file backend and as the spool root for git.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Key overrides the key under which the auth state is stored.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`

	// Fallback wraps the backend with an in-memory fallback used after the first failure.
	Fallback bool `yaml:"fallback" json:"fallback"`

	Redis    RedisStorageConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	Postgres PostgresStorageConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	Object   ObjectStorageConfig   `yaml:"object,omitempty" json:"object,omitempty"`
	Git      GitStorageConfig      `yaml:"git,omitempty" json:"git,omitempty"`
}

// RedisStorageConfig configures the Redis backend.
type RedisStorageConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// PostgresStorageConfig configures the PostgreSQL backend.
type PostgresStorageConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty"`
}

// ObjectStorageConfig configures the S3-compatible object storage backend.
type ObjectStorageConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	PathStyle bool   `yaml:"path-style" json:"path-style"`
}

// GitStorageConfig configures the git backend.
type GitStorageConfig struct {
	RemoteURL string `yaml:"remote-url,omitempty" json:"remote-url,omitempty"`
	Username  string `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
}

// SessionsConfig names the policies for the two ambiguous session operations.
type SessionsConfig struct {
	// DuplicateLogin is keep-existing (default) or refresh.
	DuplicateLogin string `yaml:"duplicate-login" json:"duplicate-login"`

	// MissingSession is error (default) or ignore.
	MissingSession string `yaml:"missing-session" json:"missing-session"`
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies environment overrides and defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but returns defaults when optional
// is true and the file does not exist.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnv(os.LookupEnv)
			cfg.applyDefaults()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from AUTHBRIDGE_* environment variables.
// lookup mirrors os.LookupEnv so tests can pass a map-backed function.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}
	if v, ok := lookupEnv("AUTHBRIDGE_LOGIN_ROUTE"); ok {
		cfg.Routes.Login = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_REFRESH_ROUTE"); ok {
		cfg.Routes.RefreshToken = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_CHECK_ROUTE"); ok {
		cfg.Routes.InitialAuthCheck = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_PROXY_URL", "HTTPS_PROXY", "https_proxy"); ok {
		cfg.ProxyURL = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_DEBUG"); ok {
		if parsed, errParse := strconv.ParseBool(v); errParse == nil {
			cfg.Debug = parsed
		}
	}
	if v, ok := lookupEnv("AUTHBRIDGE_STORAGE"); ok {
		cfg.Storage.Type = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_STORAGE_DIR"); ok {
		cfg.Storage.Dir = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_REDIS_ADDR", "REDIS_ADDR"); ok {
		cfg.Storage.Redis.Addr = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_PG_DSN", "PGSTORE_DSN"); ok {
		cfg.Storage.Postgres.DSN = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_OBJECT_ENDPOINT", "OBJECTSTORE_ENDPOINT"); ok {
		cfg.Storage.Object.Endpoint = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_OBJECT_BUCKET", "OBJECTSTORE_BUCKET"); ok {
		cfg.Storage.Object.Bucket = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_OBJECT_ACCESS_KEY", "OBJECTSTORE_ACCESS_KEY"); ok {
		cfg.Storage.Object.AccessKey = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_OBJECT_SECRET_KEY", "OBJECTSTORE_SECRET_KEY"); ok {
		cfg.Storage.Object.SecretKey = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_GIT_URL", "GITSTORE_GIT_URL"); ok {
		cfg.Storage.Git.RemoteURL = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_GIT_USERNAME", "GITSTORE_GIT_USERNAME"); ok {
		cfg.Storage.Git.Username = v
	}
	if v, ok := lookupEnv("AUTHBRIDGE_GIT_TOKEN", "GITSTORE_GIT_TOKEN"); ok {
		cfg.Storage.Git.Password = v
	}
}

func (cfg *Config) applyDefaults() {
	cfg.Storage.Type = strings.ToLower(strings.TrimSpace(cfg.Storage.Type))
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = StorageFile
	}
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		cfg.Storage.Dir = defaultStorageDir
	}
	cfg.Sessions.DuplicateLogin = strings.ToLower(strings.TrimSpace(cfg.Sessions.DuplicateLogin))
	if cfg.Sessions.DuplicateLogin == "" {
		cfg.Sessions.DuplicateLogin = DuplicateLoginKeepExisting
	}
	cfg.Sessions.MissingSession = strings.ToLower(strings.TrimSpace(cfg.Sessions.MissingSession))
	if cfg.Sessions.MissingSession == "" {
		cfg.Sessions.MissingSession = MissingSessionError
	}
	if cfg.Refresh.BreakerThreshold == 0 {
		cfg.Refresh.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.Refresh.BreakerCooldownSeconds <= 0 {
		cfg.Refresh.BreakerCooldownSeconds = defaultBreakerCooldown
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}
}

// Validate reports unknown enumerated values.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Type {
	case StorageMemory, StorageFile, StorageRedis, StoragePostgres, StorageObject, StorageGit:
	default:
		return fmt.Errorf("config: unknown storage type %q", cfg.Storage.Type)
	}
	switch cfg.Sessions.DuplicateLogin {
	case DuplicateLoginKeepExisting, DuplicateLoginRefresh:
	default:
		return fmt.Errorf("config: unknown duplicate-login policy %q", cfg.Sessions.DuplicateLogin)
	}
	switch cfg.Sessions.MissingSession {
	case MissingSessionError, MissingSessionIgnore:
	default:
		return fmt.Errorf("config: unknown missing-session policy %q", cfg.Sessions.MissingSession)
	}
	return nil
}
