package config

import (
	sinkcfg "kafmirror/sink/kafka"
	srccfg "kafmirror/source/kafka"
)

// LoadSourceConfig and LoadDestConfig delegate to the per-cluster loaders
// while centralizing loader entrypoints under internal/config.
func LoadSourceConfig(path string) (srccfg.Config, error) {
	return srccfg.LoadConfig(path)
}

func LoadDestConfig(path string) (sinkcfg.Config, error) {
	return sinkcfg.LoadConfig(path)
}
