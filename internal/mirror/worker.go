package mirror

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"kafmirror/internal/logging"
	"kafmirror/internal/telemetry"
)

// ErrPumpDied is returned by Run when the pump exits while the worker is not
// draining. A partially mirroring worker is worse than no worker — peers
// rebalance once the process is gone — so the caller must exit non-zero.
var ErrPumpDied = errors.New("mirror: pump died while not shutting down")

type State int32

const (
	StateInit State = iota
	StateJoining
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateJoining:
		return "joining"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// HealthReporter mirrors lifecycle state into an external health surface.
type HealthReporter interface {
	SetServing(ok bool)
}

type noopHealth struct{}

func (noopHealth) SetServing(bool) {}

type WorkerConfig struct {
	// CloseGrace bounds the producer's normal close during clean shutdown.
	CloseGrace time.Duration
}

// Worker owns the worker's lifecycle: membership registration, the pump
// task, and the exactly-once clean-shutdown sequence.
type Worker struct {
	cfg        WorkerConfig
	consumer   Consumer
	producer   Producer
	barrier    *Barrier
	pump       *Pump
	membership MembershipClient
	health     HealthReporter
	obs        telemetry.Observer

	shuttingDown atomic.Bool
	state        atomic.Int32
	assignOnce   sync.Once
	pumpCtx      context.Context
	cancelPump   context.CancelFunc
	stopped      chan struct{}
}

func NewWorker(cfg WorkerConfig, c Consumer, p Producer, t Transformer, topics *TopicMap, b *Barrier, m MembershipClient, h HealthReporter, obs telemetry.Observer) *Worker {
	if h == nil {
		h = noopHealth{}
	}
	if obs == nil {
		obs = telemetry.NoopObserver{}
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 30 * time.Second
	}
	w := &Worker{
		cfg:        cfg,
		consumer:   c,
		producer:   p,
		barrier:    b,
		membership: m,
		health:     h,
		obs:        obs,
		stopped:    make(chan struct{}),
	}
	w.pump = NewPump(c, p, t, topics, b, obs, &w.shuttingDown)
	w.pumpCtx, w.cancelPump = context.WithCancel(context.Background())
	return w
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	logging.L().Info("worker state", "state", s.String())
}

// PartitionOnline adds a partition to the consumer's assignment. Bound to
// the membership participant's listener; idempotent.
func (w *Worker) PartitionOnline(topic string, partition int32) {
	if err := w.consumer.Assign(topic, partition); err != nil {
		logging.L().Error("assign failed", "topic", topic, "partition", partition, "err", err)
		return
	}
	w.assignOnce.Do(func() {
		w.setState(StateRunning)
		w.health.SetServing(true)
	})
}

// PartitionOffline removes a partition; the pump keeps running.
func (w *Worker) PartitionOffline(topic string, partition int32) {
	if err := w.consumer.Revoke(topic, partition); err != nil {
		logging.L().Error("revoke failed", "topic", topic, "partition", partition, "err", err)
	}
}

// MembershipLost handles the participant's disconnect hook. During shutdown
// the disconnect is ours (Shutdown calls Disconnect itself), so the hook does
// nothing; otherwise the service is evicting us and we drain exactly as an
// operator-initiated shutdown would.
func (w *Worker) MembershipLost() {
	if w.shuttingDown.Load() {
		return
	}
	logging.L().Warn("membership lost, draining")
	w.Shutdown()
}

// Run drives the worker until the context is cancelled (clean shutdown) or
// the pump dies on its own (returns ErrPumpDied immediately).
func (w *Worker) Run(ctx context.Context) error {
	w.setState(StateJoining)
	if w.membership != nil {
		if err := w.membership.Start(ctx); err != nil {
			w.setState(StateStopped)
			return err
		}
	}

	defer w.cancelPump()
	go w.pump.Run(w.pumpCtx)

	select {
	case <-ctx.Done():
		w.Shutdown()
		return nil
	case <-w.pump.Done():
		if w.shuttingDown.Load() {
			<-w.stopped
			return nil
		}
		w.setState(StateStopped)
		return ErrPumpDied
	}
}

// Shutdown runs the clean-shutdown sequence exactly once; concurrent callers
// block until it has finished. Safe to invoke from the signal handler, the
// membership thread, and Run simultaneously.
func (w *Worker) Shutdown() {
	if !w.shuttingDown.CompareAndSwap(false, true) {
		<-w.stopped
		return
	}
	defer close(w.stopped)

	w.setState(StateDraining)
	w.health.SetServing(false)

	w.cancelPump()
	<-w.pump.Done()

	if err := w.barrier.MaybeFlushAndCommit(true); err != nil {
		logging.L().Warn("final commit failed", "err", err)
	}
	if err := w.consumer.Shutdown(); err != nil {
		logging.L().Warn("consumer shutdown", "err", err)
	}
	if err := w.producer.Close(w.cfg.CloseGrace); err != nil {
		logging.L().Warn("producer close", "err", err)
	}
	if w.membership != nil {
		if err := w.membership.Disconnect(); err != nil {
			logging.L().Warn("membership disconnect", "err", err)
		}
	}
	w.setState(StateStopped)
	logging.L().Info("worker stopped", "dropped", w.barrier.Dropped())
}
