package main

import (
	"os"

	"github.com/roadrunner-server/httpcache"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr  string           `yaml:"addr"`
	Cache httpcache.Config `yaml:"cache"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	if filename == "" {
		return config, nil
	}

	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
