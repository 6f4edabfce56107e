package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/banshee-data/simstats/internal/config"
	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
	"github.com/banshee-data/simstats/internal/timeutil"
)

// Source is a broker that can announce new topics.
type Source interface {
	Subscriber
	OnTopic(fn func(topic string))
}

// ManagerConfig configures a Manager. With no SimIDs the manager discovers
// simulations from the topic names it sees.
type ManagerConfig struct {
	SimIDs  []string
	MapPath string
	Tuning  *config.TuningConfig
	Sink    reconstruct.Sink
	Clock   timeutil.Clock
	LoadMap MapLoader
	Runs    RunRecorder
}

// Manager starts and supervises one Worker per simulation. All workers
// share the module registry.
type Manager struct {
	cfg      ManagerConfig
	src      Source
	registry *stats.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*Worker
	claimed map[string]bool
	errs    []error
}

func NewManager(cfg ManagerConfig, src Source) *Manager {
	return &Manager{
		cfg:      cfg,
		src:      src,
		registry: stats.DefaultRegistry(),
		workers:  make(map[string]*Worker),
		claimed:  make(map[string]bool),
	}
}

// Start launches the configured workers, or registers topic discovery when
// none are configured. A configured simulation whose map cannot be loaded
// fails Start; a discovered one stops the manager and is reported by Wait.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if len(m.cfg.SimIDs) > 0 {
		var ready []*Worker
		for _, id := range m.cfg.SimIDs {
			if !m.claim(id) {
				continue
			}
			w, err := m.newWorker(id)
			if err != nil {
				m.cancel()
				// Release the slots claimed so far.
				for range len(ready) + 1 {
					m.wg.Done()
				}
				return err
			}
			ready = append(ready, w)
		}
		for _, w := range ready {
			go m.run(w)
		}
		return nil
	}

	monitoring.Logf("[pipeline] discovering simulations from topics")
	m.src.OnTopic(func(topic string) {
		id, _, ok := telemetry.ParseTopic(topic)
		if !ok || !m.claim(id) {
			return
		}
		// OnTopic hooks must not block; the map loads off the publisher's
		// goroutine.
		go func() {
			w, err := m.newWorker(id)
			if err != nil {
				m.wg.Done()
				m.fail(err)
				return
			}
			m.run(w)
		}()
	})
	return nil
}

// claim reserves a worker slot for id. The caller owns one m.wg count on
// success.
func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[id] || m.ctx.Err() != nil {
		return false
	}
	m.claimed[id] = true
	m.wg.Add(1)
	return true
}

func (m *Manager) newWorker(id string) (*Worker, error) {
	w, err := NewWorker(WorkerConfig{
		SimID:    id,
		MapPath:  m.cfg.MapPath,
		Tuning:   m.cfg.Tuning,
		Registry: m.registry,
		Sink:     m.cfg.Sink,
		Clock:    m.cfg.Clock,
		LoadMap:  m.cfg.LoadMap,
		Runs:     m.cfg.Runs,
	}, m.src)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()
	return w, nil
}

func (m *Manager) run(w *Worker) {
	defer m.wg.Done()
	if err := w.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.fail(err)
	}
}

func (m *Manager) fail(err error) {
	monitoring.Logf("[pipeline] fatal: %v", err)
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.cancel()
	m.mu.Unlock()
}

// Wait blocks until every worker has returned, and reports fatal worker
// errors.
func (m *Manager) Wait() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}

// Stop cancels every worker and waits for them.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.mu.Lock()
		m.cancel()
		m.mu.Unlock()
	}
	return m.Wait()
}

// Done is closed once the manager has been stopped or failed.
func (m *Manager) Done() <-chan struct{} { return m.ctx.Done() }

// Workers returns the running simulation ids, sorted.
func (m *Manager) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Worker returns the worker for a simulation id.
func (m *Manager) Worker(id string) (*Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	return w, ok
}

// Stats returns a snapshot of every worker's counters, sorted by id.
func (m *Manager) Stats() []WorkerStats {
	var out []WorkerStats
	for _, id := range m.Workers() {
		if w, ok := m.Worker(id); ok {
			out = append(out, w.Stats())
		}
	}
	return out
}
