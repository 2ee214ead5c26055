package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kafmirror/internal/mirror"

	"github.com/IBM/sarama"
)

type fakePOM struct {
	mu       sync.Mutex
	marked   []int64
	closed   bool
	asyncRes bool
}

func (f *fakePOM) NextOffset() (int64, string) { return sarama.OffsetOldest, "" }
func (f *fakePOM) MarkOffset(offset int64, _ string) {
	f.mu.Lock()
	f.marked = append(f.marked, offset)
	f.mu.Unlock()
}
func (f *fakePOM) ResetOffset(int64, string)            {}
func (f *fakePOM) Errors() <-chan *sarama.ConsumerError { return nil }
func (f *fakePOM) AsyncClose() {
	f.mu.Lock()
	f.asyncRes = true
	f.mu.Unlock()
}
func (f *fakePOM) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakePC struct {
	mu       sync.Mutex
	asyncRes bool
	msgs     chan *sarama.ConsumerMessage
}

func (f *fakePC) AsyncClose() {
	f.mu.Lock()
	f.asyncRes = true
	f.mu.Unlock()
}
func (f *fakePC) Close() error                             { return nil }
func (f *fakePC) Messages() <-chan *sarama.ConsumerMessage { return f.msgs }
func (f *fakePC) Errors() <-chan *sarama.ConsumerError     { return nil }
func (f *fakePC) HighWaterMarkOffset() int64               { return 0 }
func (f *fakePC) Pause()                                   {}
func (f *fakePC) Resume()                                  {}
func (f *fakePC) IsPaused() bool                           { return false }

func newTestDriver(timeout time.Duration) *SaramaDriver {
	return &SaramaDriver{
		cfg:     Config{PollTimeout: timeout, ClientID: "c", GroupID: "g"},
		parts:   make(map[topicPartition]*partitionState),
		records: make(chan *sarama.ConsumerMessage, 8),
		closed:  make(chan struct{}),
	}
}

func TestNext_YieldsAndMarks(t *testing.T) {
	d := newTestDriver(time.Second)
	pom := &fakePOM{}
	d.parts[topicPartition{"T", 1}] = &partitionState{pom: pom, done: make(chan struct{})}

	d.records <- &sarama.ConsumerMessage{
		Topic:     "T",
		Partition: 1,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte("v"),
	}

	rec, err := d.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Topic != "T" || rec.Partition != 1 || rec.Offset != 41 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	pom.mu.Lock()
	defer pom.mu.Unlock()
	if len(pom.marked) != 1 || pom.marked[0] != 42 {
		t.Fatalf("want next offset 42 marked, got %v", pom.marked)
	}
}

func TestNext_TimeoutOutcome(t *testing.T) {
	d := newTestDriver(10 * time.Millisecond)

	_, err := d.Next(context.Background())
	if !errors.Is(err, mirror.ErrPollTimeout) {
		t.Fatalf("want ErrPollTimeout, got %v", err)
	}
}

func TestNext_DropsBufferedRecordsOfRevokedPartition(t *testing.T) {
	d := newTestDriver(10 * time.Millisecond)

	// Buffered record for a partition that is no longer assigned.
	d.records <- &sarama.ConsumerMessage{Topic: "T", Partition: 7, Offset: 5}

	_, err := d.Next(context.Background())
	if !errors.Is(err, mirror.ErrPollTimeout) {
		t.Fatalf("revoked partition's record must be dropped, got %v", err)
	}
}

func TestNext_ClosedStream(t *testing.T) {
	d := newTestDriver(time.Second)
	close(d.closed)

	_, err := d.Next(context.Background())
	if !errors.Is(err, mirror.ErrStreamClosed) {
		t.Fatalf("want ErrStreamClosed, got %v", err)
	}
}

func TestRevoke_IdempotentAndClosesPartition(t *testing.T) {
	d := newTestDriver(time.Second)
	pom := &fakePOM{}
	pc := &fakePC{msgs: make(chan *sarama.ConsumerMessage)}
	d.parts[topicPartition{"T", 0}] = &partitionState{pc: pc, pom: pom, done: make(chan struct{})}

	if err := d.Revoke("T", 0); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	pc.mu.Lock()
	pcClosed := pc.asyncRes
	pc.mu.Unlock()
	if !pcClosed {
		t.Fatal("partition consumer not closed")
	}
	pom.mu.Lock()
	pomClosed := pom.asyncRes
	pom.mu.Unlock()
	if !pomClosed {
		t.Fatal("offset manager not closed")
	}

	// Second revoke is a no-op.
	if err := d.Revoke("T", 0); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if err := d.Revoke("T", 99); err != nil {
		t.Fatalf("Revoke of never-assigned partition: %v", err)
	}
}

func TestFeed_StopsOnRevoke(t *testing.T) {
	d := newTestDriver(time.Second)
	pc := &fakePC{msgs: make(chan *sarama.ConsumerMessage, 1)}
	ps := &partitionState{pc: pc, pom: &fakePOM{}, done: make(chan struct{})}

	finished := make(chan struct{})
	go func() {
		d.feed(ps)
		close(finished)
	}()

	close(ps.done)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("feed goroutine did not stop on revoke")
	}
}
