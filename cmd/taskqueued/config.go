// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config is the daemon's optional YAML configuration file, upgraded
// from the teacher's flat yaml.v2 loadConfigYaml map to a typed
// yaml.v3 schema carrying the fields this expanded spec actually
// needs: where to bind, where to store jobs, and how to authenticate
// REST callers.
type config struct {
	Bind        string `yaml:"bind"`
	MetricsBind string `yaml:"metrics_bind"`
	Backend     string `yaml:"backend"`
	LogLevel    string `yaml:"log_level"`
	AuthSecret  string `yaml:"auth_secret"`
}

func loadConfig(path string) (config, error) {
	var c config
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, err
	}
	return c, nil
}
