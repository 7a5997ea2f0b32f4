package operations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Lu1s-png/fleetbackup/internal/fsutil"
	"github.com/Lu1s-png/fleetbackup/internal/logger"
	"github.com/Lu1s-png/fleetbackup/internal/progress"
	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

const (
	stagingDirName  = "staging"
	externalDirName = "external"
)

// BackupRequest holds the inputs of one backup run. Relative paths are
// resolved against WorkDir, which defaults to the process working directory.
type BackupRequest struct {
	WorkDir      string
	OutRoot      string
	ConfigPaths  []string
	ProjectDirs  []string
	MongoURI     string
	MinFreeBytes int64
}

// BackupResult is printed on success.
type BackupResult struct {
	OK       bool            `json:"ok"`
	OutDir   string          `json:"outDir"`
	ZipPath  string          `json:"zipPath"`
	Database snapshot.Result `json:"database"`
}

type pathSpec struct {
	path string
	kind Kind
	abs  string
	rel  string
}

// Backup stages the requested paths and the database collections under a new
// run directory and packs them into a single archive.
func (o *Operator) Backup(ctx context.Context, req BackupRequest) (*BackupResult, error) {
	workDir, err := resolveWorkDir(req.WorkDir)
	if err != nil {
		return nil, err
	}
	outRoot := filepath.Join(workDir, "backups")
	if req.OutRoot != "" {
		outRoot = resolvePath(workDir, req.OutRoot)
	}

	started := o.now()
	token := Timestamp(started)
	outDir := filepath.Join(outRoot, "backup-"+token)

	if err := EnsureDirectoryExist(outRoot); err != nil {
		return nil, err
	}
	if err := os.Mkdir(outDir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunExists, outDir)
		}
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	log, err := o.newLogger(filepath.Join(outDir, "logs", "backup.log"))
	if err != nil {
		return nil, err
	}
	defer log.Close()

	r := &run{log: log, state: StateInit}
	meta := &Metadata{
		RunID:     uuid.NewString(),
		Token:     token,
		StartedAt: started,
	}
	log.Info("backup started",
		"run_id", meta.RunID,
		"out_dir", outDir,
		"work_dir", workDir,
	)

	specs := buildSpecs(workDir, req)
	copier := fsutil.NewOSCopier()
	copier.Exclude = []string{outRoot}

	// PREFLIGHT
	r.enter(StatePreflight)
	paths := make([]string, 0, len(specs))
	for _, s := range specs {
		paths = append(paths, s.abs)
	}
	meta.EstimatedBytes = copier.TotalSize(paths)
	free, err := o.probe.FreeBytes(outDir)
	if err != nil {
		return nil, r.fail(err)
	}
	meta.FreeBytes = free
	log.Info("disk space checked",
		"estimated_bytes", meta.EstimatedBytes,
		"free_bytes", free,
		"min_free_bytes", req.MinFreeBytes,
	)
	if err := checkSpace(free, meta.EstimatedBytes, req.MinFreeBytes); err != nil {
		return nil, r.fail(err)
	}

	// STAGING_COPY
	if err := r.advance(ctx, StateStagingCopy); err != nil {
		return nil, err
	}
	staging := filepath.Join(outDir, stagingDirName)
	if err := EnsureDirectoryExist(staging); err != nil {
		return nil, r.fail(err)
	}
	if o.progress != nil {
		bar := progress.NewBar(o.progress, meta.EstimatedBytes, "staging files")
		copier.OnCopy = bar.IncrementBy
		defer bar.Finish()
	}
	records, err := stageAll(log, copier, specs, staging)
	meta.Paths = records
	if err != nil {
		return nil, r.fail(err)
	}

	// DB_SNAPSHOT
	if err := r.advance(ctx, StateDBSnapshot); err != nil {
		return nil, err
	}
	dbResult := o.snapshotter(log).Snapshot(ctx, req.MongoURI, staging)
	if dbResult.Err != nil {
		log.Warn("database snapshot failed, continuing with files only", "error", dbResult.Err.Error())
	}
	meta.Database = dbResult

	// COMPRESS
	if err := r.advance(ctx, StateCompress); err != nil {
		return nil, err
	}
	zipPath := filepath.Join(outDir, "backup-"+token+".zip")
	if err := o.codec.Compress(staging, zipPath); err != nil {
		return nil, r.fail(err)
	}

	r.enter(StateDone)
	meta.CompletedAt = o.now()
	meta.DurationMS = meta.CompletedAt.Sub(started).Milliseconds()
	if err := meta.describeArchive(zipPath); err != nil {
		log.Warn("could not describe archive", "error", err.Error())
	}
	if err := meta.Write(outDir); err != nil {
		log.Warn("could not write metadata", "error", err.Error())
	}
	log.Info("backup completed",
		"zip_path", zipPath,
		"size_bytes", meta.SizeBytes,
		"sha256", meta.Checksum,
		"database_skipped", dbResult.Skipped,
	)

	return &BackupResult{
		OK:       true,
		OutDir:   outDir,
		ZipPath:  zipPath,
		Database: dbResult,
	}, nil
}

// advance enters next unless ctx was cancelled in the meantime.
func (r *run) advance(ctx context.Context, next State) error {
	if ctx.Err() != nil {
		return r.fail(fmt.Errorf("run cancelled: %w", context.Cause(ctx)))
	}
	r.enter(next)
	return nil
}

// requiredBytes is estimated plus a 20% margin, rounded up.
func requiredBytes(estimated int64) int64 {
	return estimated + (estimated+4)/5
}

func checkSpace(free, estimated, minFree int64) error {
	if minFree > 0 && free < minFree {
		return &InsufficientSpaceError{
			Free:     free,
			Required: minFree,
			Reason:   "below the configured minimum free bytes",
		}
	}
	if required := requiredBytes(estimated); free < required {
		return &InsufficientSpaceError{
			Free:     free,
			Required: required,
			Reason:   fmt.Sprintf("estimated backup size %d bytes plus 20%% margin", estimated),
		}
	}
	return nil
}

func buildSpecs(workDir string, req BackupRequest) []pathSpec {
	specs := make([]pathSpec, 0, len(req.ConfigPaths)+len(req.ProjectDirs))
	add := func(paths []string, kind Kind) {
		for _, p := range paths {
			abs := resolvePath(workDir, p)
			specs = append(specs, pathSpec{
				path: p,
				kind: kind,
				abs:  abs,
				rel:  stagingPath(workDir, abs),
			})
		}
	}
	add(req.ConfigPaths, KindConfig)
	add(req.ProjectDirs, KindProject)
	return specs
}

// stagingPath returns where abs lands inside the staging tree: its location
// relative to workDir, or external/<abs> for paths outside workDir.
func stagingPath(workDir, abs string) string {
	rel, err := filepath.Rel(workDir, abs)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return rel
	}
	trimmed := strings.TrimPrefix(abs, filepath.VolumeName(abs))
	trimmed = strings.TrimLeft(trimmed, `/\`)
	return filepath.Join(externalDirName, trimmed)
}

func stageAll(log logger.Logger, copier *fsutil.Copier, specs []pathSpec, staging string) ([]PathRecord, error) {
	records := make([]PathRecord, 0, len(specs))
	for _, s := range specs {
		rec := PathRecord{Path: s.path, Kind: s.kind}
		if !copier.Exists(s.abs) {
			log.Warn("path not found, skipping", "path", s.path, "kind", string(s.kind))
			rec.Status = pathMissing
			records = append(records, rec)
			continue
		}
		if overlapsDBDir(s.rel) {
			log.Warn("path is staged inside the database directory, restore will treat its .json files as collections",
				"path", s.path,
				"staged_as", filepath.ToSlash(s.rel),
			)
		}
		dest := filepath.Join(staging, s.rel)
		n, err := copier.Copy(s.abs, dest)
		if err != nil {
			return records, fmt.Errorf("stage %s path %q: %w", s.kind, s.path, err)
		}
		log.Info("path staged", "path", s.path, "kind", string(s.kind), "bytes", n, "staged_as", filepath.ToSlash(s.rel))
		rec.StagedAs = filepath.ToSlash(s.rel)
		rec.Status = pathCopied
		rec.Bytes = n
		records = append(records, rec)
	}
	return records, nil
}

func overlapsDBDir(rel string) bool {
	return rel == snapshot.DirName || strings.HasPrefix(rel, snapshot.DirName+string(filepath.Separator))
}
