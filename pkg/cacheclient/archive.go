package cacheclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/mholt/archives"
	"github.com/pkg/errors"
)

func archiveFormat() archives.CompressedArchive {
	return archives.CompressedArchive{
		Compression: archives.Zstd{},
		Archival:    archives.Tar{},
	}
}

// version derives the entry version from the path set and the archive
// format. The same paths archived on a different OS must not collide unless
// cross-OS restore is explicitly enabled.
func version(paths []string, crossOS bool) string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, p := range sorted {
		_, _ = io.WriteString(h, p)
		h.Write([]byte{0})
	}
	_, _ = io.WriteString(h, "tar.zst")
	if !crossOS {
		_, _ = io.WriteString(h, runtime.GOOS)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// pack archives everything matched by patterns, relative to workdir, into a
// tar.zst file at dest and returns its size.
func pack(ctx context.Context, workdir string, patterns []string, dest string) (int64, error) {
	mapping, err := resolvePatterns(workdir, patterns)
	if err != nil {
		return 0, err
	}
	if len(mapping) == 0 {
		return 0, errors.Errorf("no files match the configured paths: %v", patterns)
	}

	files, err := archives.FilesFromDisk(ctx, nil, mapping)
	if err != nil {
		return 0, errors.Wrap(err, "collect files")
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, errors.Wrap(err, "create archive")
	}
	defer out.Close()

	if err := archiveFormat().Archive(ctx, out, files); err != nil {
		return 0, errors.Wrap(err, "write archive")
	}
	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// resolvePatterns expands glob patterns into a disk-path to archive-name
// mapping. Archive names are workdir-relative so an entry restores onto any
// checkout location.
func resolvePatterns(workdir string, patterns []string) (map[string]string, error) {
	mapping := map[string]string{}
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(workdir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "bad path pattern %q", pattern)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(workdir, match)
			if err != nil || rel == ".." || filepath.IsAbs(rel) {
				// outside the workdir, archive under its full path
				rel = match
			}
			mapping[match] = filepath.ToSlash(rel)
		}
	}
	return mapping, nil
}

// unpack extracts an archive produced by pack into workdir.
func unpack(ctx context.Context, archivePath, workdir string) error {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		target := filepath.Join(workdir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		mode := fs.FileMode(0o644)
		if info, err := d.Info(); err == nil && info.Mode().Perm() != 0 {
			mode = info.Mode().Perm()
		}

		src, err := fsys.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s in archive", path)
		}
		defer src.Close()

		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		defer dst.Close()

		_, err = io.Copy(dst, src)
		return errors.Wrapf(err, "extract %s", path)
	})
}
