package model

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no config path
// is given.
const DefaultConfigFile = ".cachew.yml"

// LoadConfig reads an entry definition from a YAML file.
func LoadConfig(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	entry := &Entry{}
	if err := yaml.Unmarshal(data, entry); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return entry, nil
}
