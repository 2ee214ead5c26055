package mirror

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPollTimeout is the non-fatal outcome when no record arrives within
	// the consumer's poll timeout. The pump treats it as a heartbeat.
	ErrPollTimeout = errors.New("mirror: poll timeout")

	// ErrStreamClosed is returned once the consumer has been shut down.
	ErrStreamClosed = errors.New("mirror: stream closed")
)

// Record is one message pulled from the source cluster, carrying its source
// coordinates so offsets can be committed after the copy is durable.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Ts        time.Time
}

// Message is the payload handed to the destination producer. A transformer
// turns one Record into zero or more Messages.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string][]byte
}

// SourcePosition identifies where a produced message came from.
type SourcePosition struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Transformer rewrites a record before it is produced. Returning an empty
// slice drops the record (its offset is still committed); returning an error
// aborts the pump.
type Transformer interface {
	Handle(rec Record) ([]Message, error)
}

// Consumer streams records from the source cluster for the currently
// assigned partitions and persists consumed offsets on Commit.
type Consumer interface {
	// Next yields the next record, ErrPollTimeout after the bounded wait,
	// or ErrStreamClosed once the consumer is shut down.
	Next(ctx context.Context) (Record, error)
	// Commit persists, per assigned partition, the highest consumed offset
	// so a restart resumes from the record after it.
	Commit() error
	Assign(topic string, partition int32) error
	Revoke(topic string, partition int32) error
	Shutdown() error
	ClientID() string
	GroupID() string
}

// Producer is the buffered, retrying send path to the destination cluster.
// Send must report through the Completions handle it was constructed with:
// BeginSend before the record reaches the transport, SendComplete exactly
// once per record.
type Producer interface {
	Send(topic string, msg Message, src SourcePosition)
	// Flush blocks until locally buffered records have been dispatched.
	Flush() error
	// Close terminates the producer. A non-positive grace drops buffered
	// records immediately and is used only on abort paths.
	Close(grace time.Duration) error
}

// Completions is the producer-side view of the barrier.
type Completions interface {
	BeginSend()
	SendComplete(src SourcePosition, destTopic string, key []byte, err error)
}

// MembershipClient is the slice of the membership participant the worker
// drives directly; callbacks are bound by the caller before Start.
type MembershipClient interface {
	Start(ctx context.Context) error
	Disconnect() error
}
