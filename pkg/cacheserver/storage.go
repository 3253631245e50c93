package cacheserver

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// diskStore holds entry content on disk: committed entries under a two-level
// fanout by id, in-flight chunks under tmp/<id>/<offset>.
type diskStore struct {
	rootDir string
}

func newDiskStore(rootDir string) (*diskStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &diskStore{rootDir: rootDir}, nil
}

func (s *diskStore) Exist(id uint64) (bool, error) {
	if _, err := os.Stat(s.filename(id)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (s *diskStore) WriteChunk(id uint64, offset int64, reader io.Reader) error {
	name := s.chunkName(id, offset)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(file, reader)
	return err
}

// Commit concatenates the uploaded chunks in offset order and returns the
// assembled size. A size >= 0 is verified against what was written.
func (s *diskStore) Commit(id uint64, size int64) (int64, error) {
	defer func() {
		_ = os.RemoveAll(s.chunkDir(id))
	}()

	name := s.filename(id)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return 0, err
	}
	chunks, err := s.chunkNames(id)
	if err != nil {
		return 0, err
	}

	file, err := os.Create(name)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var written int64
	for _, chunk := range chunks {
		f, err := os.Open(chunk)
		if err != nil {
			return 0, err
		}
		n, err := io.Copy(file, f)
		_ = f.Close()
		if err != nil {
			return 0, err
		}
		written += n
	}

	if size >= 0 && written != size {
		_ = file.Close()
		_ = os.Remove(name)
		return 0, errors.Errorf("broken upload: got %d bytes, expected %d", written, size)
	}
	return written, nil
}

func (s *diskStore) Serve(w http.ResponseWriter, r *http.Request, id uint64) {
	http.ServeFile(w, r, s.filename(id))
}

func (s *diskStore) Remove(id uint64) {
	_ = os.Remove(s.filename(id))
	_ = os.RemoveAll(s.chunkDir(id))
}

func (s *diskStore) filename(id uint64) string {
	return filepath.Join(s.rootDir, fmt.Sprintf("%02x", id%0xff), fmt.Sprint(id))
}

func (s *diskStore) chunkDir(id uint64) string {
	return filepath.Join(s.rootDir, "tmp", fmt.Sprint(id))
}

func (s *diskStore) chunkName(id uint64, offset int64) string {
	return filepath.Join(s.chunkDir(id), fmt.Sprintf("%016x", offset))
}

func (s *diskStore) chunkNames(id uint64) ([]string, error) {
	files, err := os.ReadDir(s.chunkDir(id))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, filepath.Join(s.chunkDir(id), f.Name()))
		}
	}
	return names, nil
}
