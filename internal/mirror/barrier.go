package mirror

import (
	"sync"
	"time"

	"kafmirror/internal/logging"
	"kafmirror/internal/telemetry"
)

const drainPoll = 100 * time.Millisecond

// Barrier owns the in-flight count and gates offset commits on it: an offset
// is committed only after every send submitted before it has reported a
// completion. Under the abort policy a failed completion blocks all further
// commits; without it the failure is counted as dropped and later offsets
// commit past it. Producer completion callbacks run on producer-owned
// goroutines; all predicate state lives under one mutex so the drain loop
// cannot observe a torn count or miss a wakeup.
type Barrier struct {
	commitInterval time.Duration
	abortOnFailure bool
	obs            telemetry.Observer

	producer Producer
	consumer Consumer

	mu         sync.Mutex
	cond       *sync.Cond
	inFlight   int64
	exiting    bool
	lastCommit time.Time
	dropped    int64
}

type BarrierConfig struct {
	CommitInterval     time.Duration
	AbortOnSendFailure bool
	Observer           telemetry.Observer
}

func NewBarrier(cfg BarrierConfig) *Barrier {
	if cfg.Observer == nil {
		cfg.Observer = telemetry.NoopObserver{}
	}
	b := &Barrier{
		commitInterval: cfg.CommitInterval,
		abortOnFailure: cfg.AbortOnSendFailure,
		obs:            cfg.Observer,
		lastCommit:     time.Now(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Bind attaches the two adapters the barrier coordinates. Must be called
// before the pump starts; the constructor cannot take them because the
// producer itself is built around this barrier's Completions.
func (b *Barrier) Bind(p Producer, c Consumer) {
	b.producer = p
	b.consumer = c
}

// BeginSend counts a record as in-flight. The producer adapter calls this
// before the record reaches the transport, so a synchronously-running
// completion can never drive the count negative.
func (b *Barrier) BeginSend() {
	b.mu.Lock()
	b.inFlight++
	n := b.inFlight
	b.mu.Unlock()
	b.obs.SetInFlight(n)
}

// SendComplete is invoked exactly once per send, from producer-owned
// goroutines. The abort actions run before the decrement so a waiter never
// observes a zero count without also observing the exiting flag.
func (b *Barrier) SendComplete(src SourcePosition, destTopic string, key []byte, err error) {
	b.mu.Lock()
	if err != nil {
		logging.L().Error("send failed",
			"topic", destTopic,
			"key", string(key),
			"srcTopic", src.Topic,
			"srcPartition", src.Partition,
			"srcOffset", src.Offset,
			"err", err)
		if b.abortOnFailure && !b.exiting {
			b.exiting = true
			// Hard close drops buffered records; their offsets were never
			// committed, so a restart re-mirrors them.
			go b.producer.Close(0)
		}
		b.dropped++
		b.obs.RecordSendError()
		b.obs.RecordDropped()
	}
	b.inFlight--
	n := b.inFlight
	if b.inFlight == 0 || b.exiting {
		b.cond.Broadcast()
	}
	b.mu.Unlock()
	b.obs.SetInFlight(n)
}

// Fail marks the worker as dying on a pump-side error (transformer failure,
// unexpected stream error) and frees any drain waiter.
func (b *Barrier) Fail(err error) {
	b.mu.Lock()
	if !b.exiting {
		b.exiting = true
		logging.L().Error("pump aborting", "err", err)
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Barrier) Exiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exiting
}

func (b *Barrier) InFlight() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Dropped is the count of completions that reported an error; records they
// describe are not durably mirrored.
func (b *Barrier) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Barrier) LastCommit() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCommit
}

// MaybeFlushAndCommit flushes the producer, drains the in-flight set, and
// commits source offsets. Without force it is a no-op until the commit
// interval has elapsed. It never commits while a send is unresolved or after
// the abort flag is up.
func (b *Barrier) MaybeFlushAndCommit(force bool) error {
	b.mu.Lock()
	if !force && time.Since(b.lastCommit) < b.commitInterval {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.producer.Flush(); err != nil {
		logging.L().Warn("producer flush", "err", err)
	}

	b.mu.Lock()
	for !b.exiting && b.inFlight > 0 {
		// Bounded wait: a buggy transport could swallow a completion, and
		// the poll keeps the drain from hanging forever on it.
		t := time.AfterFunc(drainPoll, b.cond.Broadcast)
		b.cond.Wait()
		t.Stop()
	}
	exiting := b.exiting
	b.mu.Unlock()

	if exiting {
		// In-flight offsets are not known durable; committing them could
		// lose data on restart.
		return nil
	}

	if err := b.consumer.Commit(); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastCommit = time.Now()
	b.mu.Unlock()
	b.obs.RecordCommit()
	logging.L().Debug("offsets committed")
	return nil
}
