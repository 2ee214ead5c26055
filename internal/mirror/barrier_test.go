package mirror

import (
	"errors"
	"testing"
	"time"
)

func newTestBarrier(abort bool, interval time.Duration) (*Barrier, *fakeProducer, *fakeConsumer) {
	b := NewBarrier(BarrierConfig{CommitInterval: interval, AbortOnSendFailure: abort})
	p := &fakeProducer{comp: b}
	c := newFakeConsumer()
	b.Bind(p, c)
	return b, p, c
}

func src(offset int64) SourcePosition {
	return SourcePosition{Topic: "t", Partition: 0, Offset: offset}
}

func TestBarrier_CommitWaitsForInFlight(t *testing.T) {
	b, _, c := newTestBarrier(true, 0)

	b.BeginSend()
	b.BeginSend()

	done := make(chan error, 1)
	go func() { done <- b.MaybeFlushAndCommit(true) }()

	select {
	case <-done:
		t.Fatal("barrier returned with sends still in flight")
	case <-time.After(20 * time.Millisecond):
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("committed with in-flight sends: %d commits", got)
	}

	b.SendComplete(src(0), "t", nil, nil)
	b.SendComplete(src(1), "t", nil, nil)

	if err := <-done; err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 1 {
		t.Fatalf("want 1 commit, got %d", got)
	}
	if got := b.InFlight(); got != 0 {
		t.Fatalf("want in-flight 0, got %d", got)
	}
}

func TestBarrier_IntervalGate(t *testing.T) {
	b, p, c := newTestBarrier(true, time.Hour)

	if err := b.MaybeFlushAndCommit(false); err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("interval not elapsed, want 0 commits, got %d", got)
	}
	if p.flushes != 0 {
		t.Fatalf("interval not elapsed, want 0 flushes, got %d", p.flushes)
	}

	if err := b.MaybeFlushAndCommit(true); err != nil {
		t.Fatalf("forced: %v", err)
	}
	if got := c.commitCount(); got != 1 {
		t.Fatalf("force ignores the interval, want 1 commit, got %d", got)
	}
}

func TestBarrier_AbortOnSendFailure(t *testing.T) {
	b, p, c := newTestBarrier(true, 0)

	b.BeginSend()
	b.SendComplete(src(5), "t", []byte("k"), errors.New("broker gone"))

	if !b.Exiting() {
		t.Fatal("abort policy did not set the exiting flag")
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("want dropped 1, got %d", got)
	}
	if !waitFor(time.Second, func() bool { return len(p.closeCalls()) == 1 }) {
		t.Fatal("producer was not hard-closed")
	}
	if grace := p.closeCalls()[0]; grace != 0 {
		t.Fatalf("abort close must use zero grace, got %s", grace)
	}

	if err := b.MaybeFlushAndCommit(true); err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("must not commit after abort, got %d commits", got)
	}
}

func TestBarrier_NonAbortKeepsGoing(t *testing.T) {
	b, p, c := newTestBarrier(false, 0)

	for i := int64(0); i < 3; i++ {
		b.BeginSend()
	}
	b.SendComplete(src(0), "t", nil, nil)
	b.SendComplete(src(1), "t", nil, errors.New("timed out"))
	b.SendComplete(src(2), "t", nil, nil)

	if b.Exiting() {
		t.Fatal("non-abort mode must not set the exiting flag")
	}
	if got := b.Dropped(); got != 1 {
		t.Fatalf("want dropped 1, got %d", got)
	}
	if got := len(p.closeCalls()); got != 0 {
		t.Fatalf("non-abort mode must not close the producer, got %d closes", got)
	}

	if err := b.MaybeFlushAndCommit(true); err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 1 {
		t.Fatalf("want 1 commit past the dropped record, got %d", got)
	}
}

// A waiter woken by the last completion must observe the abort flag before
// the zero count, so a failing final send can never be committed over.
func TestBarrier_WaiterSeesAbortBeforeZero(t *testing.T) {
	b, _, c := newTestBarrier(true, 0)

	b.BeginSend()
	done := make(chan error, 1)
	go func() { done <- b.MaybeFlushAndCommit(true) }()
	time.Sleep(10 * time.Millisecond)

	b.SendComplete(src(9), "t", nil, errors.New("retries exhausted"))

	if err := <-done; err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("commit raced the abort flag: %d commits", got)
	}
	if got := b.InFlight(); got != 0 {
		t.Fatalf("want in-flight 0, got %d", got)
	}
}

func TestBarrier_FailFreesWaiter(t *testing.T) {
	b, _, c := newTestBarrier(true, 0)

	b.BeginSend()
	done := make(chan error, 1)
	go func() { done <- b.MaybeFlushAndCommit(true) }()
	time.Sleep(10 * time.Millisecond)

	b.Fail(errors.New("transformer blew up"))

	if err := <-done; err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("must not commit after Fail, got %d", got)
	}
}

func TestBarrier_FlushHappensBeforeDrain(t *testing.T) {
	b, p, c := newTestBarrier(true, 0)

	b.BeginSend()
	done := make(chan error, 1)
	go func() { done <- b.MaybeFlushAndCommit(true) }()

	// The flush is issued while the drain is still blocked on the send.
	if !waitFor(time.Second, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.flushes == 1
	}) {
		t.Fatal("producer not flushed while the drain was waiting")
	}
	if got := c.commitCount(); got != 0 {
		t.Fatalf("committed before the drain finished: %d", got)
	}
	b.SendComplete(src(0), "t", nil, nil)

	if err := <-done; err != nil {
		t.Fatalf("MaybeFlushAndCommit: %v", err)
	}
	if p.flushes != 1 {
		t.Fatalf("want 1 flush, got %d", p.flushes)
	}
	if got := c.commitCount(); got != 1 {
		t.Fatalf("want 1 commit, got %d", got)
	}
	if b.LastCommit().IsZero() {
		t.Fatal("last commit time not stamped")
	}
}
