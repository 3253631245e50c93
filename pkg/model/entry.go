// Package model holds the configuration surface of a cache entry: which
// paths to archive, under which key, and how to transfer them.
package model

import (
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/pkg/errors"
)

// DefaultUploadChunkSize is the transfer granularity used when no chunk size
// is configured.
const DefaultUploadChunkSize int64 = 32 << 20

// Entry describes one cache entry. Build it once per invocation and treat it
// as immutable afterwards.
type Entry struct {
	Paths           []string `yaml:"paths"`
	Key             string   `yaml:"key"`
	RestoreKeys     []string `yaml:"restore-keys"`
	RefreshOnHit    bool     `yaml:"refresh-on-hit"`
	UploadChunkSize int64    `yaml:"upload-chunk-size"`
	CrossOSArchive  bool     `yaml:"cross-os-archive"`
}

// Options are the transfer options derived from an entry.
type Options struct {
	UploadChunkSize int64
	CrossOSArchive  bool
}

func (e *Entry) Options() Options {
	return Options{
		UploadChunkSize: e.UploadChunkSize,
		CrossOSArchive:  e.CrossOSArchive,
	}
}

// Merge fills zero-valued fields of e from other. Later sources are merged
// first, so precedence is flags, then action inputs, then the config file.
func (e *Entry) Merge(other *Entry) error {
	if other == nil {
		return nil
	}
	return mergo.Merge(e, other)
}

// ApplyDefaults fills the remaining zero-valued fields with defaults.
func (e *Entry) ApplyDefaults() error {
	return mergo.Merge(e, &Entry{UploadChunkSize: DefaultUploadChunkSize})
}

func (e *Entry) Validate() error {
	if len(e.Paths) == 0 {
		return errors.New("at least one cache path is required")
	}
	if err := ValidateKey(e.Key); err != nil {
		return err
	}
	for _, key := range e.RestoreKeys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	if e.UploadChunkSize < 0 {
		return errors.Errorf("upload chunk size cannot be negative: %d", e.UploadChunkSize)
	}
	return nil
}

// ValidateKey enforces the cache service's key rules. An empty key passes;
// whether a key is required at all depends on the phase, since the save phase
// may take it from recorded state instead.
func ValidateKey(key string) error {
	if len(key) > 512 {
		return errors.Errorf("key %q exceeds the maximum length of 512 characters", key)
	}
	if strings.ContainsAny(key, ",\n") {
		return errors.Errorf("key %q cannot contain commas or line breaks", key)
	}
	return nil
}

// FromInputs builds an entry from action-style INPUT_* environment variables.
// Multi-value inputs (paths, restore keys) are newline separated.
func FromInputs(getenv func(string) string) (*Entry, error) {
	e := &Entry{
		Paths:       splitLines(getenv("INPUT_PATH")),
		Key:         strings.TrimSpace(getenv("INPUT_KEY")),
		RestoreKeys: splitLines(getenv("INPUT_RESTORE_KEYS")),
	}
	if v := getenv("INPUT_REFRESH_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrap(err, "input refresh-cache")
		}
		e.RefreshOnHit = b
	}
	if v := getenv("INPUT_UPLOAD_CHUNK_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "input upload-chunk-size")
		}
		e.UploadChunkSize = n
	}
	if v := getenv("INPUT_ENABLE_CROSS_OS_ARCHIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Wrap(err, "input enable-cross-os-archive")
		}
		e.CrossOSArchive = b
	}
	return e, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
