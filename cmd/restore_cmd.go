package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lu1s-png/fleetbackup/internal/operations"
	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

var restoreBindings = map[string]string{
	"restore.archive":     "archive",
	"restore.destination": "dest",
	"restore.conflict":    "conflict",
	"mongo.uri":           "mongoUri",
	"mongo.database":      "mongoDb",
	"mongo.env_file":      "envFile",
	"mongo.timeout":       "timeout",
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	restoreCmd := &cobra.Command{
		Use:   "restore --archive=<path>",
		Short: "Expand a backup archive and reload its collections into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, workDir, err := opts.loadConfig(cmd, restoreBindings)
			if err != nil {
				return err
			}
			if cfg.Restore.Archive == "" {
				return fmt.Errorf("%w (usage: %s)", operations.ErrArchiveRequired, cmd.UseLine())
			}
			console, level, err := consoleLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer console.Close()

			conflict, err := snapshot.ParseConflictPolicy(cfg.Restore.Conflict)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			uri := mongoURI(ctx, cfg, workDir, console)

			op := operations.NewOperator(
				operations.WithConsole(cmd.OutOrStdout()),
				operations.WithLogLevel(level),
				operations.WithDatabase(cfg.Mongo.Database),
				operations.WithConflictPolicy(conflict),
				operations.WithTimeout(cfg.Mongo.Timeout),
			)
			res, err := op.Restore(ctx, operations.RestoreRequest{
				WorkDir:  workDir,
				Archive:  cfg.Restore.Archive,
				Dest:     cfg.Restore.Destination,
				MongoURI: uri,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	flags := restoreCmd.Flags()
	flags.String("archive", "", "path to the backup archive (required)")
	flags.String("dest", "", "destination directory (default <cwd>/restore)")
	flags.String("mongoUri", "", "MongoDB connection string (default $MONGO_URI)")
	flags.String("mongoDb", "", "database name (default: taken from the connection string)")
	flags.String("envFile", "", "dotenv file consulted for MONGO_URI (default backend/.env)")
	flags.String("conflict", "", "on duplicate _id: abort, skip or overwrite")
	flags.Duration("timeout", 0, "bound on the database restore (0 = none)")

	return restoreCmd
}
