package operations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/Lu1s-png/fleetbackup/internal/logger"
	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

// RestoreRequest holds the inputs of one restore run.
type RestoreRequest struct {
	WorkDir  string
	Archive  string
	Dest     string
	MongoURI string
}

// RestoreResult is printed on success.
type RestoreResult struct {
	OK       bool            `json:"ok"`
	Dest     string          `json:"dest"`
	Database snapshot.Result `json:"database"`
}

// Restore expands an archive into the destination directory and reloads the
// collections it carries into the database.
func (o *Operator) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	if req.Archive == "" {
		return nil, ErrArchiveRequired
	}
	workDir, err := resolveWorkDir(req.WorkDir)
	if err != nil {
		return nil, err
	}
	archivePath := resolvePath(workDir, req.Archive)
	dest := filepath.Join(workDir, "restore")
	if req.Dest != "" {
		dest = resolvePath(workDir, req.Dest)
	}

	log, err := o.newLogger(filepath.Join(dest, "logs", "restore.log"))
	if err != nil {
		return nil, err
	}
	defer log.Close()

	r := &run{log: log, state: StateInit}
	log.Info("restore started", "archive", archivePath, "dest", dest)

	if err := verifyArchive(log, archivePath); err != nil {
		return nil, r.fail(err)
	}

	// EXPAND
	if err := r.advance(ctx, StateExpand); err != nil {
		return nil, err
	}
	if err := o.codec.Expand(archivePath, dest); err != nil {
		return nil, r.fail(err)
	}
	log.Info("archive expanded", "dest", dest)

	// DB_RESTORE
	if err := r.advance(ctx, StateDBRestore); err != nil {
		return nil, err
	}
	dbResult := o.snapshotter(log).Restore(ctx, req.MongoURI, dest)
	if dbResult.Err != nil {
		log.Warn("database restore failed, files were restored", "error", dbResult.Err.Error())
	}

	r.enter(StateDone)
	log.Info("restore completed", "dest", dest, "database_skipped", dbResult.Skipped)

	return &RestoreResult{
		OK:       true,
		Dest:     dest,
		Database: dbResult,
	}, nil
}

// verifyArchive compares the archive with the checksum recorded by the run
// that produced it, when that run's metadata sits next to it.
func verifyArchive(log logger.Logger, archivePath string) error {
	metaPath := filepath.Join(filepath.Dir(archivePath), MetadataFilename)
	var meta Metadata
	if err := meta.Load(metaPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("ignoring unreadable backup metadata", "path", metaPath, "error", err.Error())
		}
		return nil
	}
	log.Info("backup metadata found",
		"run_id", meta.RunID,
		"token", meta.Token,
		"started_at", meta.StartedAt,
		"database_skipped", meta.Database.Skipped,
	)
	if meta.Checksum == "" || filepath.Base(meta.ArchivePath) != filepath.Base(archivePath) {
		return nil
	}
	sum, err := fileChecksum(archivePath)
	if err != nil {
		// Let EXPAND report an unreadable archive.
		return nil
	}
	if sum != meta.Checksum {
		return fmt.Errorf("%w: %s has sha256 %s, metadata records %s",
			ErrChecksumMismatch, archivePath, sum, meta.Checksum)
	}
	log.Debug("archive checksum verified", "sha256", sum)
	return nil
}
