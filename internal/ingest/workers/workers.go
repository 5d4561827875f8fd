// Package workers provides worker management for the ingest service.
//
// One worker runs per configured feed source; the set of workers follows the
// watched runtime configuration as it changes.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool manages one processing worker per configured feed source.
type Pool struct {
	cm   dConfigManager
	proc dProcessor

	mu       sync.Mutex
	workers  map[string]context.CancelFunc
	workerWG sync.WaitGroup

	activeWorkers prometheus.Gauge
}

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Sources() []string
}

type dProcessor interface {
	Process(ctx context.Context, source string) error
}

// New creates a new worker pool instance with the provided config manager, processor, and Prometheus registerer.
func New(cm dConfigManager, proc dProcessor, reg prometheus.Registerer) (*Pool, error) {
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_active_workers",
		Help: "Number of active workers in the ingest service.",
	})
	if err := reg.Register(activeWorkers); err != nil {
		return nil, fmt.Errorf("failed to register active workers gauge: %v", err)
	}

	return &Pool{
		cm:            cm,
		proc:          proc,
		workers:       make(map[string]context.CancelFunc),
		activeWorkers: activeWorkers,
	}, nil
}

// Run orchestrates and manages the pool of workers.
//
// It keeps one worker per configured source, resyncing after configuration
// changes. Bursts of change events are debounced so a noisy editor saving the
// config file repeatedly triggers only one resync.
//
// This is blocking until an error occurs or the context is canceled and all workers are done.
//
// Always returns a non-nil error, which is either a context error or a processing error.
func (m *Pool) Run(ctx context.Context) error {
	slog.Info("Worker pool started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := m.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	// Initial sync
	m.syncWorkers(ctx)

	debounceDuration := 5 * time.Second
	debounceTimer := time.NewTimer(debounceDuration)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker pool")
			m.workerWG.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDuration)

		case <-debounceTimer.C:
			slog.Info("Resyncing workers after configuration change")
			m.syncWorkers(ctx)
			slog.Debug("Completed resyncing workers")

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// syncWorkers diffs the configured sources and starts/stops goroutines.
func (m *Pool) syncWorkers(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sources := m.cm.Sources()

	// stop removed
	for source, cancel := range m.workers {
		if !slices.Contains(sources, source) {
			cancel()
			delete(m.workers, source)
		}
	}
	// start added
	for _, source := range sources {
		if _, ok := m.workers[source]; ok {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker sync")
			return // normal shutdown
		default:
		}
		sourceCtx, cancel := context.WithCancel(ctx)
		m.workers[source] = cancel
		slog.Info("Starting source worker", "source", source)
		m.workerWG.Add(1)
		go m.sourceWorker(sourceCtx, source)
	}
}

// sourceWorker processes files for a single source until ctx is canceled.
func (m *Pool) sourceWorker(ctx context.Context, source string) {
	defer m.workerWG.Done()

	m.activeWorkers.Inc()
	defer m.activeWorkers.Dec()

	baseBackoff := 5 * time.Second
	maxBackoff := 30 * time.Second
	backoff := baseBackoff
	pollInterval := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := m.proc.Process(ctx, source)
			if err == nil {
				backoff = baseBackoff
				select {
				case <-time.After(pollInterval):
				case <-ctx.Done():
					return
				}
				continue
			}

			// #nosec:G404 We don't need cryptographic randomness.
			sleep := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				slog.Debug("Source worker context canceled", "source", source)
				return // normal shutdown
			}

			backoff = min(backoff*2, maxBackoff)
		}
	}
}
