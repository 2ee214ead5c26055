package membership

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kafmirror/internal/logging"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"golang.org/x/sync/errgroup"
)

const (
	stateOnline  = "ONLINE"
	stateOffline = "OFFLINE"

	defaultSessionTTLSeconds = 10
	defaultDialTimeout       = 5 * time.Second
)

// Listener receives per-partition state transitions, invoked synchronously
// on the watch goroutine. Transitions are idempotent.
type Listener interface {
	PartitionOnline(topic string, partition int32)
	PartitionOffline(topic string, partition int32)
}

type Config struct {
	Endpoints  []string      `koanf:"endpoints"`
	Cluster    string        `koanf:"cluster"`
	InstanceID string        `koanf:"instance_id"`
	Host       string        `koanf:"host"`
	SessionTTL int           `koanf:"session_ttl_seconds"`
	DialTO     time.Duration `koanf:"dial_timeout"`
}

// Participant registers this worker with the fleet's coordination keyspace
// and feeds assignment transitions to the bound listener.
//
// The instance key is attached to a single keepalive-leased session; when
// the session dies (network partition, etcd loss, process crash) the
// controller sees the instance disappear, and locally the disconnect handler
// fires exactly once so the worker can drain.
type Participant struct {
	cfg Config
	cli *clientv3.Client

	session *concurrency.Session
	cancel  context.CancelFunc
	group   *errgroup.Group

	mu           sync.Mutex
	listener     Listener
	onDisconnect func()

	disconnectOnce sync.Once
	closed         atomic.Bool
}

func New(cfg Config) (*Participant, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTLSeconds
	}
	if cfg.DialTO <= 0 {
		cfg.DialTO = defaultDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTO,
	})
	if err != nil {
		return nil, fmt.Errorf("membership: dial: %w", err)
	}
	return &Participant{cfg: cfg, cli: cli}, nil
}

// BindListener and OnDisconnect install the worker's callbacks; both must be
// set before Start.
func (p *Participant) BindListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

func (p *Participant) OnDisconnect(fn func()) {
	p.mu.Lock()
	p.onDisconnect = fn
	p.mu.Unlock()
}

func instanceKey(cluster, instance string) string {
	return fmt.Sprintf("/%s/instances/%s", cluster, instance)
}

func assignmentPrefix(cluster, instance string) string {
	return fmt.Sprintf("/%s/assignments/%s/", cluster, instance)
}

// Start registers the instance, replays the current assignment, and begins
// watching for transitions.
func (p *Participant) Start(ctx context.Context) error {
	session, err := concurrency.NewSession(p.cli, concurrency.WithTTL(p.cfg.SessionTTL))
	if err != nil {
		return fmt.Errorf("membership: session: %w", err)
	}
	p.session = session

	key := instanceKey(p.cfg.Cluster, p.cfg.InstanceID)
	if _, err := p.cli.Put(ctx, key, p.cfg.Host, clientv3.WithLease(session.Lease())); err != nil {
		return fmt.Errorf("membership: register %s: %w", key, err)
	}
	logging.L().Info("membership registered",
		"cluster", p.cfg.Cluster, "instance", p.cfg.InstanceID, "host", p.cfg.Host)

	prefix := assignmentPrefix(p.cfg.Cluster, p.cfg.InstanceID)
	resp, err := p.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("membership: load assignments: %w", err)
	}
	for _, kv := range resp.Kvs {
		p.apply(string(kv.Key), string(kv.Value))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	wch := p.cli.Watch(watchCtx, prefix,
		clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))

	g, _ := errgroup.WithContext(watchCtx)
	p.group = g
	g.Go(func() error {
		for wr := range wch {
			if err := wr.Err(); err != nil {
				logging.L().Error("membership watch", "err", err)
				continue
			}
			for _, ev := range wr.Events {
				p.applyEvent(ev)
			}
		}
		// Channel closed without local cancel means the watch died with the
		// connection; treat it like a lost session.
		if watchCtx.Err() == nil {
			p.fireDisconnect()
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-session.Done():
			p.fireDisconnect()
		case <-watchCtx.Done():
		}
		return nil
	})
	return nil
}

func (p *Participant) applyEvent(ev *clientv3.Event) {
	key := string(ev.Kv.Key)
	switch ev.Type {
	case mvccpb.PUT:
		p.apply(key, string(ev.Kv.Value))
	case mvccpb.DELETE:
		p.apply(key, stateOffline)
	}
}

func (p *Participant) apply(key, state string) {
	topic, partition, err := parseAssignmentKey(p.cfg.Cluster, p.cfg.InstanceID, key)
	if err != nil {
		logging.L().Warn("membership: ignoring assignment key", "key", key, "err", err)
		return
	}
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		return
	}
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case stateOnline:
		l.PartitionOnline(topic, partition)
	case stateOffline:
		l.PartitionOffline(topic, partition)
	default:
		logging.L().Warn("membership: unknown partition state", "key", key, "state", state)
	}
}

// parseAssignmentKey splits `/<cluster>/assignments/<instance>/<topic>/<partition>`.
func parseAssignmentKey(cluster, instance, key string) (string, int32, error) {
	prefix := assignmentPrefix(cluster, instance)
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", 0, fmt.Errorf("key outside assignment prefix %q", prefix)
	}
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", 0, fmt.Errorf("want <topic>/<partition>, got %q", rest)
	}
	topic := rest[:idx]
	part, err := strconv.ParseInt(rest[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("partition %q: %w", rest[idx+1:], err)
	}
	return topic, int32(part), nil
}

func (p *Participant) fireDisconnect() {
	if p.closed.Load() {
		return
	}
	p.disconnectOnce.Do(func() {
		p.mu.Lock()
		fn := p.onDisconnect
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// Disconnect deregisters the instance and tears the session down. An
// explicit disconnect does not fire the disconnect handler: that hook is for
// losing membership, not leaving it.
func (p *Participant) Disconnect() error {
	p.closed.Store(true)
	if p.cancel != nil {
		p.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTO)
	defer cancel()
	if _, err := p.cli.Delete(ctx, instanceKey(p.cfg.Cluster, p.cfg.InstanceID)); err != nil {
		logging.L().Warn("membership: deregister", "err", err)
	}

	if p.session != nil {
		_ = p.session.Close()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
	return p.cli.Close()
}
