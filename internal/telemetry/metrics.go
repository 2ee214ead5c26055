package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observer is what the mirroring core reports into. Tests use NoopObserver;
// production wires the prometheus-backed Metrics below.
type Observer interface {
	RecordMirrored(topic string)
	RecordDropped()
	RecordSendError()
	RecordCommit()
	SetInFlight(n int64)
}

type NoopObserver struct{}

func (NoopObserver) RecordMirrored(_ string) {}
func (NoopObserver) RecordDropped()          {}
func (NoopObserver) RecordSendError()        {}
func (NoopObserver) RecordCommit()           {}
func (NoopObserver) SetInFlight(_ int64)     {}

type Metrics struct {
	reg *prometheus.Registry

	mirrored   *prometheus.CounterVec
	dropped    prometheus.Gauge
	sendErrors prometheus.Counter
	commits    prometheus.Counter
	lastCommit prometheus.Gauge
	inFlight   prometheus.Gauge
}

// New builds the worker's metric set. The dropped-messages gauge carries the
// consumer client id so fleets can tell instances apart.
func New(clientID string) *Metrics {
	reg := prometheus.NewRegistry()

	mirrored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_records_total",
		Help: "Records handed to the destination producer, by source topic",
	}, []string{"topic"})

	droppedVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_dropped_messages",
		Help: "Records whose send terminated in failure and are not mirrored",
	}, []string{"client_id"})
	dropped := droppedVec.WithLabelValues(clientID)

	sendErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirror_send_errors_total",
		Help: "Producer completion callbacks that reported an error",
	})

	commits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mirror_commits_total",
		Help: "Successful source offset commits",
	})

	lastCommit := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_last_commit_timestamp_seconds",
		Help: "Unix time of the most recent successful offset commit",
	})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_in_flight",
		Help: "Sends submitted to the producer with no completion observed yet",
	})

	reg.MustRegister(mirrored, droppedVec, sendErrors, commits, lastCommit, inFlight)

	return &Metrics{
		reg:        reg,
		mirrored:   mirrored,
		dropped:    dropped,
		sendErrors: sendErrors,
		commits:    commits,
		lastCommit: lastCommit,
		inFlight:   inFlight,
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) RecordMirrored(topic string) { m.mirrored.WithLabelValues(topic).Inc() }
func (m *Metrics) RecordDropped()              { m.dropped.Inc() }
func (m *Metrics) RecordSendError()            { m.sendErrors.Inc() }
func (m *Metrics) RecordCommit() {
	m.commits.Inc()
	m.lastCommit.Set(float64(time.Now().Unix()))
}
func (m *Metrics) SetInFlight(n int64) { m.inFlight.Set(float64(n)) }

func Expose(port int, g prometheus.Gatherer) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
