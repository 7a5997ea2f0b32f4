package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Lu1s-png/fleetbackup/internal/archive"
	"github.com/Lu1s-png/fleetbackup/internal/operations"
)

var backupBindings = map[string]string{
	"backup.output_directory": "out",
	"backup.config_paths":     "configPaths",
	"backup.project_dirs":     "projectDirs",
	"backup.min_free_bytes":   "minFreeBytes",
	"backup.compression":      "compression",
	"backup.progress":         "progress",
	"mongo.uri":               "mongoUri",
	"mongo.database":          "mongoDb",
	"mongo.env_file":          "envFile",
	"mongo.timeout":           "timeout",
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up config paths, project directories and the database into one archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, workDir, err := opts.loadConfig(cmd, backupBindings)
			if err != nil {
				return err
			}
			console, level, err := consoleLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer console.Close()

			method, err := archive.ParseMethod(cfg.Backup.Compression)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			uri := mongoURI(ctx, cfg, workDir, console)

			operatorOpts := []operations.Option{
				operations.WithConsole(cmd.OutOrStdout()),
				operations.WithLogLevel(level),
				operations.WithCodec(archive.NewZip(archive.WithMethod(method))),
				operations.WithDatabase(cfg.Mongo.Database),
				operations.WithTimeout(cfg.Mongo.Timeout),
			}
			if cfg.Backup.Progress {
				operatorOpts = append(operatorOpts, operations.WithProgress(cmd.ErrOrStderr()))
			}

			res, err := operations.NewOperator(operatorOpts...).Backup(ctx, operations.BackupRequest{
				WorkDir:      workDir,
				OutRoot:      cfg.Backup.OutputDirectory,
				ConfigPaths:  cfg.Backup.ConfigPaths,
				ProjectDirs:  cfg.Backup.ProjectDirs,
				MongoURI:     uri,
				MinFreeBytes: cfg.Backup.MinFreeBytes,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	flags := backupCmd.Flags()
	flags.String("out", "", "output root directory (default <cwd>/backups)")
	flags.StringSlice("configPaths", nil, "comma-separated config files or directories")
	flags.StringSlice("projectDirs", nil, "comma-separated project directories")
	flags.String("mongoUri", "", "MongoDB connection string (default $MONGO_URI)")
	flags.String("mongoDb", "", "database name (default: taken from the connection string)")
	flags.String("envFile", "", "dotenv file consulted for MONGO_URI (default backend/.env)")
	flags.Int64("minFreeBytes", 0, "fail unless at least this many bytes are free")
	flags.String("compression", "", "archive entry compression: deflate or zstd")
	flags.Bool("progress", false, "show a copy progress bar on stderr")
	flags.Duration("timeout", 0, "bound on the database snapshot (0 = none)")

	return backupCmd
}
