package runenv

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Names of the values the restore phase records for the save phase.
const (
	StateCacheKey     = "CACHE_KEY"
	StateCacheMatched = "CACHE_RESULT"
)

// State is the key/value state shared between the restore and save phases of
// a run. Runners expose recorded values to later phases as STATE_<name>
// environment variables; the file fallback covers plain CLI invocations where
// both phases run in the same job with no runner in between.
type State struct {
	getenv  func(string) string
	file    string
	outFile string
}

func NewState() *State {
	return &State{
		getenv:  os.Getenv,
		file:    os.Getenv("GITHUB_STATE"),
		outFile: os.Getenv("GITHUB_OUTPUT"),
	}
}

func (s *State) Get(name string) string {
	if v := s.getenv("STATE_" + name); v != "" {
		return v
	}
	return s.fromFile(name)
}

func (s *State) fromFile(name string) string {
	if s.file == "" {
		return ""
	}
	data, err := os.ReadFile(s.file)
	if err != nil {
		return ""
	}
	var value string
	for _, line := range strings.Split(string(data), "\n") {
		// last write wins
		if k, v, ok := strings.Cut(line, "="); ok && k == name {
			value = v
		}
	}
	return value
}

func (s *State) Save(name, value string) error {
	return appendLine(s.file, name, value)
}

func (s *State) SetOutput(name, value string) error {
	return appendLine(s.outFile, name, value)
}

func appendLine(file, name, value string) error {
	if file == "" {
		return nil
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", file)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s=%s\n", name, value); err != nil {
		return errors.Wrapf(err, "write %s", file)
	}
	return nil
}
