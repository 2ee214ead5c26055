package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"kafmirror/internal/logging"
	"kafmirror/internal/mirror"

	"github.com/IBM/sarama"
)

type topicPartition struct {
	topic     string
	partition int32
}

type partitionState struct {
	pc   sarama.PartitionConsumer
	pom  sarama.PartitionOffsetManager
	done chan struct{}
}

// SaramaDriver consumes explicitly assigned partitions and manages their
// offsets through sarama's offset manager. There is no consumer group
// rebalance protocol here: assignment comes from the membership service.
type SaramaDriver struct {
	cfg  Config
	cl   sarama.Client
	cons sarama.Consumer
	om   sarama.OffsetManager

	mu    sync.Mutex
	parts map[topicPartition]*partitionState

	records chan *sarama.ConsumerMessage
	closed  chan struct{}
	once    sync.Once
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config
	d.parts = make(map[topicPartition]*partitionState)
	d.records = make(chan *sarama.ConsumerMessage, config.ChannelBuffer)
	d.closed = make(chan struct{})

	sc := sarama.NewConfig()
	sc.ClientID = config.ClientID
	sc.Consumer.Return.Errors = true
	if config.Version != "" {
		ver, err := sarama.ParseKafkaVersion(config.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	if config.AutoCommit {
		logging.L().Warn("source config auto_commit ignored; commits are driven by the flush barrier")
	}
	sc.Consumer.Offsets.AutoCommit.Enable = false

	var err error
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	if d.cons, err = sarama.NewConsumerFromClient(d.cl); err != nil {
		return err
	}
	d.om, err = sarama.NewOffsetManagerFromClient(config.GroupID, d.cl)
	return err
}

func (d *SaramaDriver) ClientID() string { return d.cfg.ClientID }
func (d *SaramaDriver) GroupID() string  { return d.cfg.GroupID }

func (d *SaramaDriver) Assign(topic string, partition int32) error {
	tp := topicPartition{topic, partition}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.parts[tp]; ok {
		return nil
	}

	pom, err := d.om.ManagePartition(topic, partition)
	if err != nil {
		return err
	}
	next, _ := pom.NextOffset()
	pc, err := d.cons.ConsumePartition(topic, partition, next)
	if err != nil {
		_ = pom.Close()
		return err
	}

	ps := &partitionState{pc: pc, pom: pom, done: make(chan struct{})}
	d.parts[tp] = ps
	go d.feed(ps)
	go drainConsumerErrors(pc)
	go drainOffsetErrors(pom)

	logging.L().Info("partition assigned", "topic", topic, "partition", partition, "offset", next)
	return nil
}

// Revoke stops yielding the partition's records. Uncommitted marks for the
// partition are discarded: their sends may still be in flight, and the next
// owner re-mirrors from the last committed offset.
func (d *SaramaDriver) Revoke(topic string, partition int32) error {
	tp := topicPartition{topic, partition}

	d.mu.Lock()
	ps, ok := d.parts[tp]
	if ok {
		delete(d.parts, tp)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}

	close(ps.done)
	ps.pc.AsyncClose()
	ps.pom.AsyncClose()
	logging.L().Info("partition revoked", "topic", topic, "partition", partition)
	return nil
}

func (d *SaramaDriver) feed(ps *partitionState) {
	for {
		select {
		case <-ps.done:
			return
		case <-d.closed:
			return
		case msg, ok := <-ps.pc.Messages():
			if !ok {
				return
			}
			select {
			case d.records <- msg:
			case <-ps.done:
				return
			case <-d.closed:
				return
			}
		}
	}
}

func (d *SaramaDriver) Next(ctx context.Context) (mirror.Record, error) {
	timer := time.NewTimer(d.cfg.PollTimeout)
	defer timer.Stop()

	for {
		select {
		case <-d.closed:
			return mirror.Record{}, mirror.ErrStreamClosed
		case <-ctx.Done():
			return mirror.Record{}, ctx.Err()
		case <-timer.C:
			return mirror.Record{}, mirror.ErrPollTimeout
		case msg := <-d.records:
			// A revoke can leave already-buffered records behind; drop them.
			if !d.mark(msg) {
				continue
			}
			return mirror.Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Headers:   toHeaderMap(msg.Headers),
				Ts:        msg.Timestamp,
			}, nil
		}
	}
}

// mark records the offset as consumed so the next Commit covers it. Returns
// false when the partition is no longer assigned.
func (d *SaramaDriver) mark(msg *sarama.ConsumerMessage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, ok := d.parts[topicPartition{msg.Topic, msg.Partition}]
	if !ok {
		return false
	}
	ps.pom.MarkOffset(msg.Offset+1, "")
	return true
}

// Commit flushes every marked offset to the source cluster's coordinator.
// Sarama reports commit failures asynchronously through the per-partition
// error channels, which are drained and logged.
func (d *SaramaDriver) Commit() error {
	select {
	case <-d.closed:
		return mirror.ErrStreamClosed
	default:
	}
	d.om.Commit()
	return nil
}

func (d *SaramaDriver) Shutdown() error {
	var errs []error
	d.once.Do(func() {
		close(d.closed)

		d.mu.Lock()
		parts := d.parts
		d.parts = make(map[topicPartition]*partitionState)
		d.mu.Unlock()

		for _, ps := range parts {
			close(ps.done)
			ps.pc.AsyncClose()
			ps.pom.AsyncClose()
		}
		if d.om != nil {
			errs = append(errs, d.om.Close())
		}
		if d.cons != nil {
			errs = append(errs, d.cons.Close())
		}
		if d.cl != nil {
			errs = append(errs, d.cl.Close())
		}
	})
	return errors.Join(errs...)
}

func drainConsumerErrors(pc sarama.PartitionConsumer) {
	for err := range pc.Errors() {
		logging.L().Error("partition consumer", "topic", err.Topic, "partition", err.Partition, "err", err.Err)
	}
}

func drainOffsetErrors(pom sarama.PartitionOffsetManager) {
	for err := range pom.Errors() {
		logging.L().Error("offset commit", "topic", err.Topic, "partition", err.Partition, "err", err.Err)
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}
