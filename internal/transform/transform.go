package transform

import (
	"fmt"
	"strings"

	"kafmirror/internal/mirror"
)

/*──────── registry ───────*/

type factory = func() mirror.Transformer

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

// Build resolves the named stages into a single transformer. No names ⇒
// identity.
func Build(names []string) (mirror.Transformer, error) {
	if len(names) == 0 {
		return Identity{}, nil
	}
	stages := make([]mirror.Transformer, 0, len(names))
	for _, name := range names {
		f, ok := reg[name]
		if !ok {
			return nil, fmt.Errorf("unknown transformer %q", name)
		}
		stages = append(stages, f())
	}
	if len(stages) == 1 {
		return stages[0], nil
	}
	return &Chain{stages: stages}, nil
}

/*──────── builtins ───────*/

// Identity passes the record through untouched.
type Identity struct{}

func (Identity) Handle(rec mirror.Record) ([]mirror.Message, error) {
	return []mirror.Message{{Key: rec.Key, Value: rec.Value, Headers: rec.Headers}}, nil
}

// Uppercase rewrites the value to upper case; handy for demos and for
// checking a pipeline end to end without real payloads.
type Uppercase struct{}

func (Uppercase) Handle(rec mirror.Record) ([]mirror.Message, error) {
	return []mirror.Message{{
		Key:     rec.Key,
		Value:   []byte(strings.ToUpper(string(rec.Value))),
		Headers: rec.Headers,
	}}, nil
}

/*──────── chain ───────*/

// Chain feeds each stage's output messages into the next stage, preserving
// the record's source coordinates throughout.
type Chain struct {
	stages []mirror.Transformer
}

func NewChain(stages ...mirror.Transformer) *Chain { return &Chain{stages: stages} }

func (c *Chain) Handle(rec mirror.Record) ([]mirror.Message, error) {
	msgs := []mirror.Message{{Key: rec.Key, Value: rec.Value, Headers: rec.Headers}}
	for _, st := range c.stages {
		next := make([]mirror.Message, 0, len(msgs))
		for _, m := range msgs {
			out, err := st.Handle(mirror.Record{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       m.Key,
				Value:     m.Value,
				Headers:   m.Headers,
				Ts:        rec.Ts,
			})
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		msgs = next
	}
	return msgs, nil
}

func init() {
	Register("identity", func() mirror.Transformer { return Identity{} })
	Register("uppercase", func() mirror.Transformer { return Uppercase{} })
}
