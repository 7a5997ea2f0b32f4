// Package fsutil mirrors file trees and measures how much data they hold.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Copier copies files and directories within one filesystem.
type Copier struct {
	fs afero.Fs

	// Exclude lists paths (and everything beneath them) that are never
	// copied or counted, e.g. the backup output root when it lives inside a
	// directory being backed up.
	Exclude []string

	// OnCopy, when set, is called with the byte count of every copied file.
	OnCopy func(n int64)
}

// NewCopier returns a Copier working on fs.
func NewCopier(fs afero.Fs) *Copier {
	return &Copier{fs: fs}
}

// NewOSCopier returns a Copier working on the host filesystem.
func NewOSCopier() *Copier {
	return NewCopier(afero.NewOsFs())
}

// Exists reports whether path can be stat'ed.
func (c *Copier) Exists(path string) bool {
	ok, err := afero.Exists(c.fs, path)
	return err == nil && ok
}

// Copy mirrors src into dest and returns the number of bytes written.
// A directory is recreated recursively; a file gets its parent directories
// created first. Existing files at dest are overwritten.
func (c *Copier) Copy(src, dest string) (int64, error) {
	if c.excluded(src) {
		return 0, nil
	}
	info, err := c.fs.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", src, err)
	}
	if !info.IsDir() {
		return c.copyFile(src, dest, info.Mode())
	}

	if err := c.fs.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %q: %w", dest, err)
	}
	entries, err := afero.ReadDir(c.fs, src)
	if err != nil {
		return 0, fmt.Errorf("read dir %q: %w", src, err)
	}
	var total int64
	for _, entry := range entries {
		n, err := c.Copy(filepath.Join(src, entry.Name()), filepath.Join(dest, entry.Name()))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *Copier) copyFile(src, dest string, mode os.FileMode) (int64, error) {
	if err := c.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	in, err := c.fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()|0o200)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", dest, err)
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("copy %q to %q: %w", src, dest, err)
	}

	if c.OnCopy != nil {
		c.OnCopy(n)
	}
	return n, nil
}

// TotalSize sums the sizes of every regular file reachable from paths.
// Symbolic links are followed the same way Copy follows them, so the result
// matches what Copy would write. Missing or unreadable paths contribute nothing.
func (c *Copier) TotalSize(paths []string) int64 {
	var total int64
	for _, p := range paths {
		total += c.size(p)
	}
	return total
}

func (c *Copier) size(path string) int64 {
	if c.excluded(path) {
		return 0
	}
	info, err := c.fs.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	entries, err := afero.ReadDir(c.fs, path)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		total += c.size(filepath.Join(path, entry.Name()))
	}
	return total
}

func (c *Copier) excluded(path string) bool {
	clean := filepath.Clean(path)
	for _, ex := range c.Exclude {
		ex = filepath.Clean(ex)
		if clean == ex || strings.HasPrefix(clean, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
