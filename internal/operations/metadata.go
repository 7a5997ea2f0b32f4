package operations

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Lu1s-png/fleetbackup/internal/snapshot"
)

const MetadataFilename = "metadata.json"

// Kind tags a backed-up path.
type Kind string

const (
	KindConfig  Kind = "config"
	KindProject Kind = "project"
)

// PathRecord is what happened to one configured path during a backup.
type PathRecord struct {
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	StagedAs string `json:"staged_as,omitempty"`
	Status   string `json:"status"`
	Bytes    int64  `json:"bytes"`
}

const (
	pathCopied  = "copied"
	pathMissing = "missing"
)

// Metadata describes a completed backup run. It is written next to the
// archive once the archive is complete.
type Metadata struct {
	RunID          string          `json:"run_id"`
	Token          string          `json:"token"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
	DurationMS     int64           `json:"duration_ms"`
	Paths          []PathRecord    `json:"paths"`
	EstimatedBytes int64           `json:"estimated_bytes"`
	FreeBytes      int64           `json:"free_bytes"`
	Database       snapshot.Result `json:"database"`
	ArchivePath    string          `json:"archive_path"`
	SizeBytes      int64           `json:"size_bytes"`
	Checksum       string          `json:"sha256"`
}

// Load reads a metadata file.
func (m *Metadata) Load(filePath string) error {
	jsonFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open metadata file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	decoder := json.NewDecoder(jsonFile)
	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("decode metadata JSON: %w", err)
	}
	return nil
}

// Write stores m as dirPath/metadata.json.
func (m *Metadata) Write(dirPath string) error {
	filePath := filepath.Join(dirPath, MetadataFilename)

	if err := EnsureDirectoryExist(dirPath); err != nil {
		return fmt.Errorf("ensure metadata directory: %w", err)
	}

	jsonFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("create metadata file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode metadata JSON: %w", err)
	}
	return jsonFile.Sync()
}

// describeArchive fills in the archive's location, size and checksum.
func (m *Metadata) describeArchive(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	sum, err := fileChecksum(path)
	if err != nil {
		return err
	}
	m.ArchivePath = path
	m.SizeBytes = info.Size()
	m.Checksum = sum
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q for checksum: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("calculate checksum of %q: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
