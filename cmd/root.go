package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/Lu1s-png/fleetbackup/internal/config"
	"github.com/Lu1s-png/fleetbackup/internal/logger"
	"github.com/Lu1s-png/fleetbackup/internal/vault"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configFile string
	workDir    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "fleetbackup",
		Short: "Back up and restore the fleet application's files and database",
		Long: `fleetbackup snapshots configuration paths, project directories and the
application's MongoDB collections into one timestamped archive, and restores
such an archive to disk and back into a database.

Arguments may be given as --key=value or as bare key=value pairs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to an optional YAML config file")
	flags.StringVar(&opts.workDir, "workdir", "", "directory that relative paths are resolved against")
	flags.String("logLevel", "", "log level: debug, info, warn or error")
	_ = flags.MarkHidden("workdir")

	rootCmd.AddCommand(newBackupCmd(opts))
	rootCmd.AddCommand(newRestoreCmd(opts))
	return rootCmd
}

// Execute runs the CLI with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(NormalizeArgs(args))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

var bareArg = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*=`)

// NormalizeArgs turns bare key=value arguments into --key=value flags.
func NormalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if bareArg.MatchString(arg) {
			arg = "--" + arg
		}
		out[i] = arg
	}
	return out
}

// loadConfig reads the optional config file and applies the command's flags.
func (o *rootOptions) loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, string, error) {
	workDir := o.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}

	loadOpts := []config.LoadOption{
		config.WithFlag("log.level", cmd.Flag("logLevel")),
	}
	for key, flag := range bindings {
		loadOpts = append(loadOpts, config.WithFlag(key, cmd.Flag(flag)))
	}

	var cfg config.Config
	if err := cfg.Load(resolve(workDir, o.configFile), loadOpts...); err != nil {
		return nil, "", err
	}
	return &cfg, workDir, nil
}

// mongoURI picks the connection string: flag, environment and config file
// (already merged in cfg), then the dotenv file, then Vault. An empty result
// means the database stage is skipped.
func mongoURI(ctx context.Context, cfg *config.Config, workDir string, log logger.Logger) string {
	if cfg.Mongo.URI != "" {
		return cfg.Mongo.URI
	}

	if cfg.Mongo.EnvFile != "" {
		path := resolve(workDir, cfg.Mongo.EnvFile)
		if _, err := os.Stat(path); err == nil {
			uri, err := config.ReadEnvFile(path, config.MongoURIEnv)
			if err != nil {
				log.Warn("could not read env file", "path", path, "error", err.Error())
			} else if uri != "" {
				log.Debug("mongo uri taken from env file", "path", path)
				return uri
			}
		}
	}

	if cfg.Vault.Address == "" || cfg.Vault.MongoSecretPath == "" {
		return ""
	}
	client, err := vault.NewClient(ctx,
		vault.WithAddress(cfg.Vault.Address),
		vault.WithToken(cfg.Vault.Token),
		vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
	)
	if err != nil {
		log.Warn("vault unavailable, continuing without database", "error", err.Error())
		return ""
	}
	secret, err := client.ReadMongoSecret(ctx, cfg.Vault.MongoSecretPath)
	if err != nil {
		log.Warn("vault lookup failed, continuing without database",
			"path", cfg.Vault.MongoSecretPath,
			"error", err.Error(),
		)
		return ""
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = secret.Database
	}
	log.Debug("mongo uri taken from vault", "path", cfg.Vault.MongoSecretPath)
	return secret.URI
}

func consoleLogger(cmd *cobra.Command, cfg *config.Config) (logger.Logger, zapcore.Level, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, level, err
	}
	return logger.NewConsole(cmd.ErrOrStderr(), level), level, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolve(workDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workDir, p)
}
