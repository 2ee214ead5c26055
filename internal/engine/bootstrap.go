package engine

import (
	"context"
	"fmt"
	"time"

	"kafmirror/internal/config"
	"kafmirror/internal/membership"
	"kafmirror/internal/mirror"
	"kafmirror/internal/telemetry"
	"kafmirror/internal/transform"
	"kafmirror/internal/transport"
	"kafmirror/sink"
	sinkstdout "kafmirror/sink/stdout"
	"kafmirror/source/kafka"
)

type Config struct {
	SpecPath string
}

// Bootstrap builds the full worker from the spec file: adapters, barrier,
// pump, membership, health surface, metrics.
func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	ws, err := config.LoadWorkerSpec(cfg.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("worker spec: %w", err)
	}

	// 1. source consumer
	srcCfg, err := config.LoadSourceConfig(ws.Source.Config)
	if err != nil {
		return nil, fmt.Errorf("source config: %w", err)
	}
	consumer, err := kafka.NewAdapter(ws.Source.Driver)
	if err != nil {
		return nil, err
	}
	if err := consumer.Configure(srcCfg); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	// 2. metrics
	metrics := telemetry.New(consumer.ClientID())
	telemetry.Expose(ws.MetricsPort, metrics.Registry())

	// 3. barrier + destination producer
	barrier := mirror.NewBarrier(mirror.BarrierConfig{
		CommitInterval:     time.Duration(ws.Worker.OffsetCommitIntervalMS) * time.Millisecond,
		AbortOnSendFailure: *ws.Worker.AbortOnSendFailure,
		Observer:           metrics,
	})

	producer, err := sink.NewAdapter(ws.Destination.Driver)
	if err != nil {
		return nil, err
	}
	if aware, ok := producer.(sink.CompletionAware); ok {
		aware.BindCompletions(barrier)
	}
	switch ws.Destination.Driver {
	case "stdout":
		err = producer.Configure(sinkstdout.Config{
			DelayMS:       ws.Debug.PerRecordDelayMS,
			PrintCounter:  ws.Debug.PrintCounter,
			PrintValue:    ws.Debug.PrintValue,
			ValueMaxBytes: ws.Debug.ValueMaxBytes,
		})
	default:
		var destCfg any
		destCfg, err = config.LoadDestConfig(ws.Destination.Config)
		if err == nil {
			err = producer.Configure(destCfg)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	barrier.Bind(producer, consumer)

	// 4. topic map + transformers
	topics, err := mirror.LoadTopicMap(ws.TopicMap)
	if err != nil {
		return nil, fmt.Errorf("topic map: %w", err)
	}
	transformer, err := transform.Build(ws.Transformers)
	if err != nil {
		return nil, err
	}

	// 5. health surface
	srv, err := transport.StartServer(ws.HealthPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 6. membership participant
	var member mirror.MembershipClient
	var participant *membership.Participant
	if len(ws.Membership.Endpoints) > 0 {
		participant, err = membership.New(membership.Config{
			Endpoints:  ws.Membership.Endpoints,
			Cluster:    ws.Membership.Cluster,
			InstanceID: ws.Membership.InstanceID,
			Host:       ws.Membership.Host,
			SessionTTL: ws.Membership.SessionTTL,
			DialTO:     time.Duration(ws.Membership.DialTOMS) * time.Millisecond,
		})
		if err != nil {
			srv.Stop()
			return nil, err
		}
		member = participant
	}

	worker := mirror.NewWorker(
		mirror.WorkerConfig{CloseGrace: time.Duration(ws.Worker.CloseGraceMS) * time.Millisecond},
		consumer, producer, transformer, topics, barrier, member, srv, metrics,
	)
	if participant != nil {
		participant.BindListener(worker)
		participant.OnDisconnect(worker.MembershipLost)
	}

	e := &Engine{
		transport: srv,
		worker:    worker,
	}
	if participant == nil {
		// Without a membership service the spec's static list is the assignment.
		e.static = ws.Source.Static
	}
	return e, nil
}
