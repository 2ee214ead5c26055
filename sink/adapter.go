package sink

import (
	"fmt"

	"kafmirror/internal/mirror"
)

// Adapter is the common behaviour every destination driver exposes.
type Adapter interface {
	mirror.Producer
	Configure(any) error // driver-specific YAML ⇒ struct
}

// CompletionAware drivers report each send's terminal outcome into the
// barrier. The engine binds the handle before Configure so no completion can
// arrive unbound.
type CompletionAware interface {
	BindCompletions(mirror.Completions)
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
