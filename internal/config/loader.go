package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Lu1s-png/fleetbackup/internal/archive"
	"github.com/Lu1s-png/fleetbackup/internal/logger"
	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// MongoURIEnv is the environment variable consulted for the connection string.
const MongoURIEnv = "MONGO_URI"

// Config represents the optional YAML configuration file. Every value can
// also come from the environment or a command-line flag.
type Config struct {
	Backup  BackupConfig  `mapstructure:"backup"  yaml:"backup"`
	Restore RestoreConfig `mapstructure:"restore" yaml:"restore"`
	Mongo   MongoConfig   `mapstructure:"mongo"   yaml:"mongo"`
	Vault   VaultConfig   `mapstructure:"vault"   yaml:"vault"`
	Log     LogConfig     `mapstructure:"log"     yaml:"log"`
}

// BackupConfig contains the inputs of a backup run.
type BackupConfig struct {
	OutputDirectory string   `mapstructure:"output_directory" yaml:"output_directory"`
	ConfigPaths     []string `mapstructure:"config_paths"     yaml:"config_paths"`
	ProjectDirs     []string `mapstructure:"project_dirs"     yaml:"project_dirs"`
	MinFreeBytes    int64    `mapstructure:"min_free_bytes"   yaml:"min_free_bytes"`
	Compression     string   `mapstructure:"compression"      yaml:"compression"`
	Progress        bool     `mapstructure:"progress"         yaml:"progress"`
}

// RestoreConfig contains the inputs of a restore run.
type RestoreConfig struct {
	Archive     string `mapstructure:"archive"     yaml:"archive"`
	Destination string `mapstructure:"destination" yaml:"destination"`
	Conflict    string `mapstructure:"conflict"    yaml:"conflict"`
}

// MongoConfig locates the application database. Timeout bounds each
// snapshot or restore; zero means no bound.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"      yaml:"uri"`
	Database string        `mapstructure:"database" yaml:"database,omitempty"`
	EnvFile  string        `mapstructure:"env_file" yaml:"env_file"`
	Timeout  time.Duration `mapstructure:"timeout"  yaml:"timeout"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When Address
// and MongoSecretPath are set, the Mongo URI can be read from Vault.
type VaultConfig struct {
	Address         string `mapstructure:"address"           yaml:"address"`
	Token           string `mapstructure:"token"             yaml:"token,omitempty"`
	RoleID          string `mapstructure:"role_id"           yaml:"role_id,omitempty"`
	RoleName        string `mapstructure:"role_name"         yaml:"role_name,omitempty"`
	MongoSecretPath string `mapstructure:"mongo_secret_path" yaml:"mongo_secret_path"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// LoadOption customizes Load.
type LoadOption func(*viper.Viper) error

// WithFlag binds a command-line flag to a configuration key. A flag the user
// actually set wins over the environment and the config file.
func WithFlag(key string, flag *pflag.Flag) LoadOption {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		return v.BindPFlag(key, flag)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backup.output_directory", "")
	v.SetDefault("backup.config_paths", []string{})
	v.SetDefault("backup.project_dirs", []string{})
	v.SetDefault("backup.min_free_bytes", 0)
	v.SetDefault("backup.compression", string(archive.MethodDeflate))
	v.SetDefault("backup.progress", false)
	v.SetDefault("restore.archive", "")
	v.SetDefault("restore.destination", "")
	v.SetDefault("restore.conflict", string(snapshot.ConflictAbort))
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "")
	v.SetDefault("mongo.env_file", "backend/.env")
	v.SetDefault("mongo.timeout", 0)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.role_name", "")
	v.SetDefault("vault.mongo_secret_path", "")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration using Viper. path may be empty, in which case
// only defaults, the environment and bound flags apply. Precedence, highest
// first: flags, environment, config file, defaults.
func (c *Config) Load(path string, opts ...LoadOption) error {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FLEETBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("mongo.uri", "FLEETBACKUP_MONGO_URI", MongoURIEnv); err != nil {
		return fmt.Errorf("%w: bind env: %v", ErrLoadConfig, err)
	}
	if err := v.BindEnv("vault.address", "FLEETBACKUP_VAULT_ADDRESS", "VAULT_ADDR"); err != nil {
		return fmt.Errorf("%w: bind env: %v", ErrLoadConfig, err)
	}
	if err := v.BindEnv("vault.token", "FLEETBACKUP_VAULT_TOKEN", "VAULT_TOKEN"); err != nil {
		return fmt.Errorf("%w: bind env: %v", ErrLoadConfig, err)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
		}
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	c.Backup.ConfigPaths = splitPaths(c.Backup.ConfigPaths)
	c.Backup.ProjectDirs = splitPaths(c.Backup.ProjectDirs)

	return c.Validate()
}

// Validate checks values that cannot be expressed in the YAML schema.
func (c *Config) Validate() error {
	if c.Backup.MinFreeBytes < 0 {
		return fmt.Errorf("%w: backup.min_free_bytes must not be negative", ErrValidateConfig)
	}
	if c.Mongo.Timeout < 0 {
		return fmt.Errorf("%w: mongo.timeout must not be negative", ErrValidateConfig)
	}
	if _, err := archive.ParseMethod(c.Backup.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	if _, err := snapshot.ParseConflictPolicy(c.Restore.Conflict); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrValidateConfig, err)
	}
	return nil
}

// splitPaths flattens comma-separated entries and drops empty ones, so that
// "a,b" from the environment and ["a", "b"] from YAML mean the same thing.
func splitPaths(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ReadEnvFile returns the value of key from a dotenv-style file.
func ReadEnvFile(path, key string) (string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("%w: read env file %s: %v", ErrLoadConfig, path, err)
	}
	return v.GetString(key), nil
}
