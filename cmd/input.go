package cmd

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/cachew-ci/cachew/pkg/model"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

// Input contains the flag values shared by the commands.
type Input struct {
	workdir    string
	configPath string
	envFile    string
	verbose    bool
	jsonLogs   bool

	paths        []string
	key          string
	restoreKeys  []string
	refreshOnHit bool
	chunkSize    int64
	crossOS      bool

	ref string
}

func (i *Input) resolve(path string) string {
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			log.Fatal(err)
		}
		return abs
	}
	return path
}

// Workdir is the directory paths are archived relative to: the --directory
// flag when given, the runner workspace otherwise.
func (i *Input) Workdir(env *runenv.Environment) string {
	if i.workdir != "" {
		return i.resolve(i.workdir)
	}
	return env.Workdir
}

// newEntry assembles the cache entry from flags, action inputs and the
// config file, in that order of precedence, then fills in defaults.
func (i *Input) newEntry(env *runenv.Environment) (*model.Entry, error) {
	entry := &model.Entry{
		Paths:           i.paths,
		Key:             i.key,
		RestoreKeys:     i.restoreKeys,
		RefreshOnHit:    i.refreshOnHit,
		UploadChunkSize: i.chunkSize,
		CrossOSArchive:  i.crossOS,
	}

	inputs, err := model.FromInputs(os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := entry.Merge(inputs); err != nil {
		return nil, err
	}

	if path := i.configFile(env); path != "" {
		fileEntry, err := model.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if err := entry.Merge(fileEntry); err != nil {
			return nil, err
		}
	}

	if err := entry.ApplyDefaults(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (i *Input) configFile(env *runenv.Environment) string {
	if i.configPath != "" {
		return i.resolve(i.configPath)
	}
	def := filepath.Join(i.Workdir(env), model.DefaultConfigFile)
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}
