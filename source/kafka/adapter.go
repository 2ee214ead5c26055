package kafka

import (
	"fmt"

	"kafmirror/internal/mirror"
)

// Adapter is a configurable source driver yielding the core's Consumer.
type Adapter interface {
	mirror.Consumer
	Configure(Config) error
}

// Factory builds an Adapter (e.g., SaramaDriver).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from the binary's main to pick the drivers it links in.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name ("sarama", ...).
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported source driver %q", name)
}
