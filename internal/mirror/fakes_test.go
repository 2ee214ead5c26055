package mirror

import (
	"context"
	"sync"
	"time"
)

type sentRecord struct {
	topic string
	msg   Message
	src   SourcePosition
}

// fakeProducer records sends and, when autoComplete is set, resolves each
// one immediately through the bound barrier.
type fakeProducer struct {
	comp Completions

	mu      sync.Mutex
	sends   []sentRecord
	flushes int
	closes  []time.Duration

	autoComplete bool
	failOffsets  map[int64]error
	calls        *callLog
}

func (p *fakeProducer) Send(topic string, m Message, src SourcePosition) {
	p.comp.BeginSend()
	p.mu.Lock()
	p.sends = append(p.sends, sentRecord{topic, m, src})
	var err error
	if p.failOffsets != nil {
		err = p.failOffsets[src.Offset]
	}
	auto := p.autoComplete
	p.mu.Unlock()
	if auto {
		p.comp.SendComplete(src, topic, m.Key, err)
	}
}

func (p *fakeProducer) Flush() error {
	p.mu.Lock()
	p.flushes++
	p.mu.Unlock()
	return nil
}

func (p *fakeProducer) Close(grace time.Duration) error {
	p.mu.Lock()
	p.closes = append(p.closes, grace)
	p.mu.Unlock()
	if p.calls != nil {
		p.calls.add("producer.close")
	}
	return nil
}

func (p *fakeProducer) sent() []sentRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentRecord{}, p.sends...)
}

func (p *fakeProducer) closeCalls() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration{}, p.closes...)
}

// outcome scripts one Next result.
type outcome struct {
	rec Record
	err error
}

// fakeConsumer plays back a script of outcomes, then keeps returning tail
// (ErrStreamClosed unless overridden).
type fakeConsumer struct {
	mu       sync.Mutex
	script   []outcome
	tail     error
	idleTail bool // tail behaves like an idle stream: short wait, then timeout

	commits   int
	shutdowns int
	assigned  map[string][]int32
	revoked   map[string][]int32
	calls     *callLog
}

func newFakeConsumer(script ...outcome) *fakeConsumer {
	return &fakeConsumer{
		script:   script,
		tail:     ErrStreamClosed,
		assigned: make(map[string][]int32),
		revoked:  make(map[string][]int32),
	}
}

func (c *fakeConsumer) Next(ctx context.Context) (Record, error) {
	c.mu.Lock()
	if len(c.script) > 0 {
		o := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return o.rec, o.err
	}
	idle := c.idleTail
	tail := c.tail
	c.mu.Unlock()

	if idle {
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(2 * time.Millisecond):
			return Record{}, ErrPollTimeout
		}
	}
	return Record{}, tail
}

func (c *fakeConsumer) Commit() error {
	c.mu.Lock()
	c.commits++
	c.mu.Unlock()
	if c.calls != nil {
		c.calls.add("consumer.commit")
	}
	return nil
}

func (c *fakeConsumer) Assign(topic string, partition int32) error {
	c.mu.Lock()
	c.assigned[topic] = append(c.assigned[topic], partition)
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Revoke(topic string, partition int32) error {
	c.mu.Lock()
	c.revoked[topic] = append(c.revoked[topic], partition)
	c.mu.Unlock()
	return nil
}

func (c *fakeConsumer) Shutdown() error {
	c.mu.Lock()
	c.shutdowns++
	c.mu.Unlock()
	if c.calls != nil {
		c.calls.add("consumer.shutdown")
	}
	return nil
}

func (c *fakeConsumer) ClientID() string { return "test-client" }
func (c *fakeConsumer) GroupID() string  { return "test-group" }

func (c *fakeConsumer) commitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func (c *fakeConsumer) shutdownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

// callLog records cross-component call order for shutdown-sequence checks.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.calls...)
}

type fakeMembership struct {
	mu          sync.Mutex
	starts      int
	disconnects int
	calls       *callLog
}

func (m *fakeMembership) Start(context.Context) error {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	return nil
}

func (m *fakeMembership) Disconnect() error {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
	if m.calls != nil {
		m.calls.add("membership.disconnect")
	}
	return nil
}

type fakeHealth struct {
	mu     sync.Mutex
	states []bool
}

func (h *fakeHealth) SetServing(ok bool) {
	h.mu.Lock()
	h.states = append(h.states, ok)
	h.mu.Unlock()
}

func (h *fakeHealth) last() (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return false, false
	}
	return h.states[len(h.states)-1], true
}

type funcTransformer func(Record) ([]Message, error)

func (f funcTransformer) Handle(rec Record) ([]Message, error) { return f(rec) }

var passthrough = funcTransformer(func(rec Record) ([]Message, error) {
	return []Message{{Key: rec.Key, Value: rec.Value, Headers: rec.Headers}}, nil
})

// waitFor polls until cond holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
