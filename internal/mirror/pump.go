package mirror

import (
	"context"
	"errors"
	"sync/atomic"

	"kafmirror/internal/logging"
	"kafmirror/internal/telemetry"
)

// Pump is the single long-lived task driving consume → transform → produce.
// It stops when the worker begins draining, when the barrier reports the
// abort flag, or when the stream ends.
type Pump struct {
	consumer    Consumer
	producer    Producer
	transformer Transformer
	topics      *TopicMap
	barrier     *Barrier
	obs         telemetry.Observer

	shuttingDown *atomic.Bool
	done         chan struct{}
}

func NewPump(c Consumer, p Producer, t Transformer, topics *TopicMap, b *Barrier, obs telemetry.Observer, shuttingDown *atomic.Bool) *Pump {
	if obs == nil {
		obs = telemetry.NoopObserver{}
	}
	return &Pump{
		consumer:     c,
		producer:     p,
		transformer:  t,
		topics:       topics,
		barrier:      b,
		obs:          obs,
		shuttingDown: shuttingDown,
		done:         make(chan struct{}),
	}
}

// Done is the pump's shutdown latch; closed when the loop has exited.
func (p *Pump) Done() <-chan struct{} { return p.done }

func (p *Pump) Run(ctx context.Context) {
	defer close(p.done)

	for !p.barrier.Exiting() && !p.shuttingDown.Load() {
		rec, err := p.consumer.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrPollTimeout):
			// Heartbeat: keeps low-volume partitions committing.
			logging.L().Debug("poll timeout")
			p.flushCommit(false)
			continue
		case errors.Is(err, ErrStreamClosed):
			logging.L().Info("pump: stream closed")
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			p.barrier.Fail(err)
			return
		}

		msgs, err := p.transformer.Handle(rec)
		if err != nil {
			// A broken transformer compromises the mirror; treated like any
			// other unhandled pump error.
			p.barrier.Fail(err)
			return
		}

		dest := p.topics.Lookup(rec.Topic)
		for _, m := range msgs {
			p.producer.Send(dest, m, SourcePosition{Topic: rec.Topic, Partition: rec.Partition, Offset: rec.Offset})
			p.obs.RecordMirrored(rec.Topic)
		}

		p.flushCommit(false)
	}
}

func (p *Pump) flushCommit(force bool) {
	if err := p.barrier.MaybeFlushAndCommit(force); err != nil {
		logging.L().Warn("offset commit failed", "err", err)
	}
}
