package ingest_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/indexops/indexops/internal/ingest"
)

const maxDegradedDuration = 800 * time.Millisecond

type mockWorkerPool struct {
	runErr error
	stop   chan struct{}
}

func newWorkerPool(runErr error) *mockWorkerPool {
	return &mockWorkerPool{runErr: runErr, stop: make(chan struct{})}
}

func (p *mockWorkerPool) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return p.runErr
	}
}

type mockMetricsServer struct {
	listenErr     error
	shutdownDelay time.Duration

	stop chan struct{}
}

func newMetricsServer(listenErr error) *mockMetricsServer {
	return &mockMetricsServer{listenErr: listenErr, stop: make(chan struct{})}
}

func (m *mockMetricsServer) ListenAndServe() error {
	<-m.stop
	if m.listenErr != nil {
		return m.listenErr
	}
	return http.ErrServerClosed
}

func (m *mockMetricsServer) Shutdown(ctx context.Context) error {
	m.closeOnce()
	select {
	case <-time.After(m.shutdownDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockMetricsServer) Close() error {
	m.closeOnce()
	return nil
}

func (m *mockMetricsServer) closeOnce() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func runServiceAsync(t *testing.T, service *ingest.Service) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		errCh <- service.Run()
	}()

	// Allow some time for things to process
	time.Sleep(50 * time.Millisecond)
	return errCh
}

func TestRunBlocksUntilQuit(t *testing.T) {
	t.Parallel()

	service := ingest.New(t.Context(), newWorkerPool(nil), newMetricsServer(nil),
		ingest.WithMaxDegradedDuration(maxDegradedDuration))
	errCh := runServiceAsync(t, service)

	select {
	case err := <-errCh:
		require.Failf(t, "Service exited unexpectedly", "err: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	service.Quit(false)

	select {
	case err := <-errCh:
		require.NoError(t, err, "Graceful quit should not error")
	case <-time.After(3 * time.Second):
		require.Fail(t, "Service did not exit after Quit")
	}
}

func TestRunAfterQuitErrors(t *testing.T) {
	t.Parallel()

	service := ingest.New(t.Context(), newWorkerPool(nil), newMetricsServer(nil))
	service.Quit(false)

	require.ErrorIs(t, service.Run(), ingest.ErrServiceClosed)
}

func TestRunCanceledContextErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	service := ingest.New(ctx, newWorkerPool(nil), newMetricsServer(nil),
		ingest.WithMaxDegradedDuration(maxDegradedDuration))

	errCh := runServiceAsync(t, service)
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		require.Fail(t, "Service did not exit with canceled context")
	}
}

func TestRunWorkerPoolErrorStopsService(t *testing.T) {
	t.Parallel()

	pool := newWorkerPool(errors.New("requested worker pool error"))
	service := ingest.New(t.Context(), pool, newMetricsServer(nil),
		ingest.WithMaxDegradedDuration(maxDegradedDuration))

	errCh := runServiceAsync(t, service)
	close(pool.stop)

	select {
	case err := <-errCh:
		require.Error(t, err, "Worker pool error must surface")
	case <-time.After(3 * time.Second):
		require.Fail(t, "Service did not exit after worker pool error")
	}
}

func TestRunMetricsErrorStopsService(t *testing.T) {
	t.Parallel()

	ms := newMetricsServer(errors.New("requested metrics server error"))
	service := ingest.New(t.Context(), newWorkerPool(nil), ms,
		ingest.WithMaxDegradedDuration(maxDegradedDuration))

	errCh := runServiceAsync(t, service)
	ms.closeOnce()

	select {
	case err := <-errCh:
		require.Error(t, err, "Metrics server error must surface")
	case <-time.After(3 * time.Second):
		require.Fail(t, "Service did not exit after metrics server error")
	}
}

func TestRunTeardownTimeout(t *testing.T) {
	t.Parallel()

	pool := newWorkerPool(errors.New("requested worker pool error"))
	ms := newMetricsServer(nil)
	ms.shutdownDelay = 5 * time.Second

	service := ingest.New(t.Context(), pool, ms,
		ingest.WithMaxDegradedDuration(maxDegradedDuration))

	errCh := runServiceAsync(t, service)
	close(pool.stop)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ingest.ErrTeardownTimeout)
	case <-time.After(5 * time.Second):
		require.Fail(t, "Service did not give up on degraded teardown")
	}
}
