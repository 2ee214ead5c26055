package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kafmirror/internal/spec"
)

const SupportedSchema = "v1"

// LoadWorkerSpec parses the worker YAML, validates schema_version, and
// resolves the referenced file paths (cluster configs, topic map) relative
// to the spec's own directory.
func LoadWorkerSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("worker schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}

	dir := filepath.Dir(path)
	cfg.Source.Config = resolve(dir, cfg.Source.Config)
	cfg.Destination.Config = resolve(dir, cfg.Destination.Config)
	cfg.TopicMap = resolve(dir, cfg.TopicMap)

	applyDefaults(&cfg)
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func applyDefaults(cfg *spec.File) {
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = "sarama"
	}
	if cfg.Destination.Driver == "" {
		cfg.Destination.Driver = "kafka"
	}
	if cfg.Worker.AbortOnSendFailure == nil {
		t := true
		cfg.Worker.AbortOnSendFailure = &t
	}
	if cfg.Worker.OffsetCommitIntervalMS == 0 {
		cfg.Worker.OffsetCommitIntervalMS = 60_000
	}
	if cfg.Worker.CloseGraceMS == 0 {
		cfg.Worker.CloseGraceMS = 30_000
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9100
	}
	if cfg.HealthPort == 0 {
		cfg.HealthPort = 7070
	}
}
