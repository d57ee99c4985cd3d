package watcher

import (
	"io"

	yaml "gopkg.in/yaml.v2"
)

type WatchTarget struct {
	Name  string `yaml:"name"`
	Path  string `yaml:"path"`
	Query string `yaml:"query"`
}

type Config struct {
	Targets []WatchTarget `yaml:"targets"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}
