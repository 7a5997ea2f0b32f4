// Package archive defines the on-disk backup unit: one compressed bundle
// holding a whole staging tree.
package archive

import (
	"errors"
	"fmt"
	"strings"
)

// Codec turns a directory into one archive file and back.
type Codec interface {
	Compress(sourceDir, destArchive string) error
	Expand(archivePath, destDir string) error
}

// Method selects how file entries are compressed inside the archive.
type Method string

const (
	MethodDeflate Method = "deflate"
	MethodZstd    Method = "zstd"
)

// ErrUnsafePath is returned when an archive entry would land outside the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ParseMethod validates a compression method name. An empty name means deflate.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodDeflate:
		return MethodDeflate, nil
	case MethodZstd:
		return MethodZstd, nil
	default:
		return "", fmt.Errorf("unknown compression method %q (want deflate or zstd)", s)
	}
}

// ArchiveWriteError reports a compression step that did not complete.
type ArchiveWriteError struct {
	Path string
	Err  error
}

func (e *ArchiveWriteError) Error() string {
	return fmt.Sprintf("write archive %q: %v", e.Path, e.Err)
}

func (e *ArchiveWriteError) Unwrap() error { return e.Err }

// ArchiveReadError reports an expansion step that did not complete.
type ArchiveReadError struct {
	Path string
	Err  error
}

func (e *ArchiveReadError) Error() string {
	return fmt.Sprintf("read archive %q: %v", e.Path, e.Err)
}

func (e *ArchiveReadError) Unwrap() error { return e.Err }
