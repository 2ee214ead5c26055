package stdout

import (
	"fmt"
	"sync/atomic"
	"time"

	"kafmirror/internal/mirror"
	"kafmirror/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`      // artificial per-record delay
	PrintCounter  bool `yaml:"print_counter"` // prepend seq#
	PrintValue    bool `yaml:"print_value"`
	ValueMaxBytes int  `yaml:"value_max_bytes"`
}

// driver is the dry-run destination: records are printed instead of
// produced and every send completes successfully right away. Useful for
// validating topic maps and transformers against a live source.
type driver struct {
	cfg  Config
	comp mirror.Completions
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	return nil
}

func (d *driver) Send(topic string, m mirror.Message, src mirror.SourcePosition) {
	d.comp.BeginSend()

	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}

	prefix := "[sink]"
	if d.cfg.PrintCounter {
		prefix = fmt.Sprintf("[sink %06d]", atomic.AddUint64(&seq, 1))
	}
	if d.cfg.PrintValue {
		v := m.Value
		if d.cfg.ValueMaxBytes > 0 && len(v) > d.cfg.ValueMaxBytes {
			v = v[:d.cfg.ValueMaxBytes]
		}
		fmt.Printf("%s %s <- %s[%d]@%d %q\n", prefix, topic, src.Topic, src.Partition, src.Offset, v)
	} else {
		fmt.Printf("%s %s <- %s[%d]@%d\n", prefix, topic, src.Topic, src.Partition, src.Offset)
	}

	d.comp.SendComplete(src, topic, m.Key, nil)
}

func (d *driver) Flush() error                { return nil }
func (d *driver) Close(_ time.Duration) error { return nil }

/* ────────── sink.CompletionAware ────────── */
func (d *driver) BindCompletions(c mirror.Completions) { d.comp = c }

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
