package kafka

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"kafmirror/internal/logging"
	"kafmirror/internal/mirror"
	"kafmirror/sink"

	"github.com/IBM/sarama"
)

const flushPoll = 10 * time.Millisecond

// driver wraps a sarama AsyncProducer. Every send is counted in-flight via
// the bound Completions handle before it reaches sarama's input channel, and
// the drain goroutine reports each terminal outcome exactly once.
type driver struct {
	cfg  Config
	comp mirror.Completions
	ap   sarama.AsyncProducer

	pending   atomic.Int64 // submitted, no terminal outcome observed here yet
	aborted   atomic.Bool
	drainDone chan struct{}

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func (d *driver) BindCompletions(c mirror.Completions) { d.comp = c }

func (d *driver) Configure(raw any) error {
	cfg, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", raw)
	}
	if d.comp == nil {
		return fmt.Errorf("kafka-sink: completions not bound")
	}
	d.cfg = cfg
	d.drainDone = make(chan struct{})

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return err
	}
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(ap)
	return nil
}

func buildSaramaConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	// At-least-once defaults. Each one may be overridden, but doing so
	// trades away durability or per-partition ordering, so say so.
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.RequiredAcks != nil {
		if *cfg.RequiredAcks != int16(sarama.WaitForAll) {
			logging.L().Warn("producer override: required_acks weaker than all-replica acks; data loss is possible",
				"required_acks", *cfg.RequiredAcks)
		}
		sc.Producer.RequiredAcks = sarama.RequiredAcks(*cfg.RequiredAcks)
	}

	sc.Producer.Retry.Max = math.MaxInt32
	if cfg.RetryMax != nil {
		logging.L().Warn("producer override: retry_max bounds retries; exhausted sends are dropped or abort the worker",
			"retry_max", *cfg.RetryMax)
		sc.Producer.Retry.Max = *cfg.RetryMax
	}

	sc.Net.MaxOpenRequests = 1
	if cfg.MaxOpenRequests != nil {
		if *cfg.MaxOpenRequests != 1 {
			logging.L().Warn("producer override: max_open_requests above 1 can reorder records within a partition under retries",
				"max_open_requests", *cfg.MaxOpenRequests)
		}
		sc.Net.MaxOpenRequests = *cfg.MaxOpenRequests
	}

	sc.Producer.Retry.Backoff = cfg.RetryBackoff
	sc.Producer.Flush.Frequency = time.Duration(cfg.LingerMS) * time.Millisecond
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	// Bounded input buffer: a full buffer blocks Send, pushing backpressure
	// upstream instead of dropping silently.
	sc.ChannelBufferSize = cfg.ChannelBuffer

	return sc, nil
}

// start wires an already-constructed AsyncProducer; split from Configure so
// tests can inject sarama's mock producer.
func (d *driver) start(ap sarama.AsyncProducer) {
	d.ap = ap
	if d.drainDone == nil {
		d.drainDone = make(chan struct{})
	}
	go d.drain()
}

func (d *driver) Send(topic string, m mirror.Message, src mirror.SourcePosition) {
	// In-flight is counted before the record can reach the transport, so a
	// synchronous completion cannot decrement first.
	d.comp.BeginSend()

	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		d.comp.SendComplete(src, topic, m.Key, fmt.Errorf("kafka-sink: producer closed"))
		return
	}
	pm := &sarama.ProducerMessage{
		Topic:    topic,
		Value:    sarama.ByteEncoder(m.Value),
		Headers:  toRecordHeaders(m.Headers),
		Metadata: src,
	}
	if len(m.Key) > 0 {
		pm.Key = sarama.ByteEncoder(m.Key)
	}
	d.pending.Add(1)
	d.ap.Input() <- pm
	d.closeMu.RUnlock()
}

func (d *driver) drain() {
	defer close(d.drainDone)
	succ, errs := d.ap.Successes(), d.ap.Errors()
	for succ != nil || errs != nil {
		select {
		case msg, ok := <-succ:
			if !ok {
				succ = nil
				continue
			}
			d.comp.SendComplete(srcOf(msg), msg.Topic, keyBytes(msg), nil)
			d.pending.Add(-1)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.comp.SendComplete(srcOf(perr.Msg), perr.Msg.Topic, keyBytes(perr.Msg), perr.Err)
			d.pending.Add(-1)
		}
	}
}

// Flush blocks until every submitted record has a terminal outcome (success
// or error) and that outcome has been reported to the completions handle. It
// bails out once the producer is hard-closed so an abort cannot wedge the
// barrier behind records that will never dispatch.
func (d *driver) Flush() error {
	t := time.NewTicker(flushPoll)
	defer t.Stop()
	for d.pending.Load() > 0 && !d.aborted.Load() {
		<-t.C
	}
	return nil
}

// Close with a non-positive grace abandons buffered records (abort path);
// otherwise it waits up to grace for outstanding sends to resolve.
func (d *driver) Close(grace time.Duration) error {
	d.closeMu.Lock()
	d.closed = true
	d.closeMu.Unlock()

	d.closeOnce.Do(func() { d.ap.AsyncClose() })

	if grace <= 0 {
		d.aborted.Store(true)
		return nil
	}
	select {
	case <-d.drainDone:
		return nil
	case <-time.After(grace):
		d.aborted.Store(true)
		return fmt.Errorf("kafka-sink: close: drain not finished after %s", grace)
	}
}

func srcOf(msg *sarama.ProducerMessage) mirror.SourcePosition {
	if src, ok := msg.Metadata.(mirror.SourcePosition); ok {
		return src
	}
	return mirror.SourcePosition{}
}

func keyBytes(msg *sarama.ProducerMessage) []byte {
	if msg.Key == nil {
		return nil
	}
	b, err := msg.Key.Encode()
	if err != nil {
		return nil
	}
	return b
}

func toRecordHeaders(src map[string][]byte) []sarama.RecordHeader {
	if len(src) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(src))
	for k, v := range src {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return out
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
