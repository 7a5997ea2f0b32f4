package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{MongoURIEnv, "FLEETBACKUP_MONGO_URI", "VAULT_ADDR", "VAULT_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	clearEnv(t)
	path := writeTemp(t, "cfg.yaml", `
backup:
  output_directory: "/tmp/backups"
  config_paths: ["/etc/fleet/app.env", "backend/.env"]
  project_dirs:
    - backend
    - frontend/src
  min_free_bytes: 1048576
  compression: zstd
restore:
  destination: /srv/restore
  conflict: skip
mongo:
  uri: "mongodb://db.example.com:27017/fleet"
  timeout: 90s
vault:
  address: "https://vault.example.com"
  mongo_secret_path: "secret/data/fleet/mongo"
log:
  level: debug
`)

	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "/tmp/backups", cfg.Backup.OutputDirectory)
	assert.Equal(t, []string{"/etc/fleet/app.env", "backend/.env"}, cfg.Backup.ConfigPaths)
	assert.Equal(t, []string{"backend", "frontend/src"}, cfg.Backup.ProjectDirs)
	assert.Equal(t, int64(1048576), cfg.Backup.MinFreeBytes)
	assert.Equal(t, "zstd", cfg.Backup.Compression)
	assert.Equal(t, 90*time.Second, cfg.Mongo.Timeout)
	assert.Equal(t, "skip", cfg.Restore.Conflict)
	assert.Equal(t, "mongodb://db.example.com:27017/fleet", cfg.Mongo.URI)
	assert.Equal(t, "secret/data/fleet/mongo", cfg.Vault.MongoSecretPath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	var cfg Config
	require.NoError(t, cfg.Load(""))

	assert.Equal(t, "deflate", cfg.Backup.Compression)
	assert.Equal(t, "abort", cfg.Restore.Conflict)
	assert.Equal(t, "backend/.env", cfg.Mongo.EnvFile)
	assert.Empty(t, cfg.Backup.ConfigPaths)
	assert.Zero(t, cfg.Backup.MinFreeBytes)
	assert.Empty(t, cfg.Mongo.URI)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(MongoURIEnv, "mongodb://from-env/fleet")
	t.Setenv("FLEETBACKUP_BACKUP_PROJECT_DIRS", "a,b")
	path := writeTemp(t, "cfg.yaml", "mongo:\n  uri: mongodb://from-file/fleet\n")

	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "mongodb://from-env/fleet", cfg.Mongo.URI)
	assert.Equal(t, []string{"a", "b"}, cfg.Backup.ProjectDirs)
}

func TestLoadConfig_FlagsOverrideEverything(t *testing.T) {
	clearEnv(t)
	t.Setenv(MongoURIEnv, "mongodb://from-env/fleet")

	flags := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	flags.String("mongoUri", "", "")
	flags.StringSlice("configPaths", nil, "")
	flags.Int64("minFreeBytes", 0, "")
	require.NoError(t, flags.Parse([]string{
		"--mongoUri=mongodb://from-flag/fleet",
		"--configPaths=/tmp/c,/tmp/d",
		"--minFreeBytes=9007199254740991",
	}))

	var cfg Config
	require.NoError(t, cfg.Load("",
		WithFlag("mongo.uri", flags.Lookup("mongoUri")),
		WithFlag("backup.config_paths", flags.Lookup("configPaths")),
		WithFlag("backup.min_free_bytes", flags.Lookup("minFreeBytes")),
		WithFlag("backup.project_dirs", flags.Lookup("notDefined")),
	))

	assert.Equal(t, "mongodb://from-flag/fleet", cfg.Mongo.URI)
	assert.Equal(t, []string{"/tmp/c", "/tmp/d"}, cfg.Backup.ConfigPaths)
	assert.Equal(t, int64(9007199254740991), cfg.Backup.MinFreeBytes)
}

func TestLoadConfig_UnsetFlagKeepsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(MongoURIEnv, "mongodb://from-env/fleet")

	flags := pflag.NewFlagSet("backup", pflag.ContinueOnError)
	flags.String("mongoUri", "", "")
	require.NoError(t, flags.Parse(nil))

	var cfg Config
	require.NoError(t, cfg.Load("", WithFlag("mongo.uri", flags.Lookup("mongoUri"))))
	assert.Equal(t, "mongodb://from-env/fleet", cfg.Mongo.URI)
}

func TestLoadConfig_Errors(t *testing.T) {
	clearEnv(t)

	var cfg Config
	err := cfg.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, ErrLoadConfig))

	unknown := writeTemp(t, "unknown.yaml", "backup:\n  retention: 3\n")
	err = cfg.Load(unknown)
	assert.True(t, errors.Is(err, ErrLoadConfig))

	invalid := writeTemp(t, "invalid.yaml", "backup:\n  compression: rar\n")
	err = cfg.Load(invalid)
	assert.True(t, errors.Is(err, ErrValidateConfig))

	negative := writeTemp(t, "negative.yaml", "backup:\n  min_free_bytes: -1\n")
	err = cfg.Load(negative)
	assert.True(t, errors.Is(err, ErrValidateConfig))
}

func TestReadEnvFile(t *testing.T) {
	path := writeTemp(t, ".env", "PORT=5000\nMONGO_URI=mongodb://localhost:27017/flota\n")

	uri, err := ReadEnvFile(path, MongoURIEnv)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017/flota", uri)

	missing, err := ReadEnvFile(path, "JWT_SECRET")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = ReadEnvFile(filepath.Join(t.TempDir(), "nope.env"), MongoURIEnv)
	assert.Error(t, err)
}
