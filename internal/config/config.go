// Package config loads the service configuration from a YAML file, falling
// back to defaults when the file is absent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "60s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// BaseDir holds the automation folders.
	BaseDir string `yaml:"base_dir"`
	// HistoryDB is the SQLite file for the history store.
	HistoryDB string `yaml:"history_db"`
	// HistoryLimit caps stored history records; 0 keeps everything.
	HistoryLimit int `yaml:"history_limit"`
	// RegistryRetention is how long a finished job stays pollable before
	// eviction from the in-memory registry.
	RegistryRetention Duration `yaml:"registry_retention"`
	// JobTimeout kills jobs running longer than this; 0 means unbounded.
	JobTimeout Duration `yaml:"job_timeout"`
	// PlaybookCommand is the executable to run playbooks with.
	PlaybookCommand string `yaml:"playbook_command"`
}

func Default() *Config {
	return &Config{
		Listen:            ":8080",
		BaseDir:           "./Ansible",
		HistoryDB:         "playbookd.db",
		HistoryLimit:      100,
		RegistryRetention: Duration(60 * time.Second),
		JobTimeout:        0,
		PlaybookCommand:   "ansible-playbook",
	}
}

// Load reads the config at path on top of the defaults. A missing file is
// not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
