package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Zip writes and reads .zip archives. Entries are deflated unless the codec
// was built WithMethod(MethodZstd); Expand reads both.
type Zip struct {
	method Method
}

var _ Codec = (*Zip)(nil)

// Option configures a Zip codec.
type Option func(*Zip)

// WithMethod overrides the entry compression method.
func WithMethod(method Method) Option {
	return func(z *Zip) {
		if method != "" {
			z.method = method
		}
	}
}

// NewZip returns a Zip codec.
func NewZip(opts ...Option) *Zip {
	z := &Zip{method: MethodDeflate}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

func (z *Zip) entryMethod() uint16 {
	if z.method == MethodZstd {
		return zstd.ZipMethodWinZip
	}
	return zip.Deflate
}

// Compress archives every file under sourceDir into destArchive, using the
// paths relative to sourceDir as entry names. An existing destArchive is
// replaced only once the new archive has been fully written.
func (z *Zip) Compress(sourceDir, destArchive string) error {
	if err := z.compress(sourceDir, destArchive); err != nil {
		return &ArchiveWriteError{Path: destArchive, Err: err}
	}
	return nil
}

func (z *Zip) compress(sourceDir, destArchive string) (err error) {
	srcAbs, err := filepath.Abs(sourceDir)
	if err != nil {
		return err
	}
	destAbs, err := filepath.Abs(destArchive)
	if err != nil {
		return err
	}
	info, err := os.Stat(srcAbs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", sourceDir)
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return err
	}

	partial := destAbs + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(partial)
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())

	walkErr := filepath.WalkDir(srcAbs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcAbs || path == destAbs || path == partial {
			return nil
		}
		rel, err := filepath.Rel(srcAbs, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			hdr, err := zip.FileInfoHeader(fi)
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			hdr.Method = zip.Store
			_, err = zw.CreateHeader(hdr)
			return err
		}
		return z.addFile(zw, path, name)
	})

	closeErr := zw.Close()
	if fileErr := out.Close(); closeErr == nil {
		closeErr = fileErr
	}
	if walkErr != nil {
		return walkErr
	}
	if closeErr != nil {
		return closeErr
	}
	return os.Rename(partial, destAbs)
}

func (z *Zip) addFile(zw *zip.Writer, path, name string) error {
	// Stat follows symlinks so the entry carries the target's bytes.
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = z.entryMethod()

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	return nil
}

// Expand recreates the archive's tree inside destDir, overwriting files that
// already exist at the same paths.
func (z *Zip) Expand(archivePath, destDir string) error {
	if err := z.expand(archivePath, destDir); err != nil {
		return &ArchiveReadError{Path: archivePath, Err: err}
	}
	return nil
}

func (z *Zip) expand(archivePath, destDir string) error {
	// A reader returned alongside an error only flags suspicious entry
	// names; those are vetted one by one below.
	r, err := zip.OpenReader(archivePath)
	if r == nil {
		return err
	}
	defer r.Close()
	r.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destAbs, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		// Archives produced on Windows may use backslashes.
		name := strings.ReplaceAll(f.Name, `\`, "/")
		target, err := safeJoin(destAbs, name)
		if err != nil {
			return err
		}
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %q: %w", name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o200)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}

func safeJoin(root, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}
