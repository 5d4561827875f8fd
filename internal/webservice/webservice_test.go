package webservice_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexops/indexops/internal/common/config"
	"github.com/indexops/indexops/internal/common/testutils"
	"github.com/indexops/indexops/internal/database"
	"github.com/indexops/indexops/internal/models"
	"github.com/indexops/indexops/internal/querybridge"
	"github.com/indexops/indexops/internal/webservice"
)

const testToken = "t0ken"

var defaultDaemonConfig = &webservice.StaticConfig{
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	RequestTimeout: 3 * time.Second,
	MaxHeaderBytes: 1 << 13, // 8 KB

	ListenHost:  "localhost",
	MetricsHost: "localhost",
}

var muPortAcquire = sync.Mutex{}

type testStore struct{}

func (testStore) CompletedBetween(context.Context, time.Time, time.Time) ([]models.LogRecord, error) {
	return nil, nil
}

func (testStore) List(context.Context, database.ListOptions) ([]models.LogRecord, int64, error) {
	return nil, 0, nil
}

func (testStore) DistinctSources(context.Context) ([]string, error)   { return nil, nil }
func (testStore) DistinctCountries(context.Context) ([]string, error) { return nil, nil }

type testBridge struct{}

func (testBridge) Ask(context.Context, string, time.Time) (querybridge.Result, error) {
	return querybridge.Result{Type: querybridge.TypeText, TextContent: "answer"}, nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cmLoadErr error

		wantErr bool
	}{
		"Empty valid": {},
		"ConfigManager load error errors": {
			cmLoadErr: assert.AnError,
			wantErr:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			daemonConfig := webservice.StaticConfig{
				ConfigPath: webservice.GenerateTestDaemonConfig(t, &config.Conf{}),
			}

			cm := &testConfigManager{
				tokens:  []string{testToken},
				loadErr: tc.cmLoadErr,
			}

			s, err := webservice.New(t.Context(), cm, testStore{}, testBridge{}, daemonConfig)
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestServeMulti(t *testing.T) {
	t.Parallel()

	dConf := *defaultDaemonConfig
	cm := &testConfigManager{tokens: []string{testToken}}

	s := createServerAndWaitReady(t, cm, &dConf, false)

	tests := map[string]struct {
		method string
		path   string
		body   string
		token  string

		wantStatus int
	}{
		"Version is open": {
			method:     http.MethodGet,
			path:       "/version",
			wantStatus: http.StatusOK,
		},
		"Dashboard metrics with token": {
			method:     http.MethodGet,
			path:       "/dashboard-metrics",
			token:      testToken,
			wantStatus: http.StatusOK,
		},
		"Logs with token": {
			method:     http.MethodGet,
			path:       "/logs",
			token:      testToken,
			wantStatus: http.StatusOK,
		},
		"Chat with token": {
			method:     http.MethodPost,
			path:       "/chat",
			body:       `{"question":"how are the feeds doing?"}`,
			token:      testToken,
			wantStatus: http.StatusOK,
		},

		"Dashboard metrics without token": {
			method:     http.MethodGet,
			path:       "/dashboard-metrics",
			wantStatus: http.StatusUnauthorized,
		},
		"Chat with bad token": {
			method:     http.MethodPost,
			path:       "/chat",
			body:       `{"question":"hi"}`,
			token:      "not-the-token",
			wantStatus: http.StatusUnauthorized,
		},
		"Path NotFound": {
			method:     http.MethodGet,
			path:       "/nope",
			token:      testToken,
			wantStatus: http.StatusNotFound,
		},
		"Bad method MethodNotAllowed": {
			method:     http.MethodPost,
			path:       "/dashboard-metrics",
			token:      testToken,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}
	client := &http.Client{}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(tc.method, "http://"+s.Addr()+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err, "Setup: failed to create request")
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode, "Unexpected status response")
		})
	}
}

func TestRunAfterQuitErrors(t *testing.T) {
	t.Parallel()

	dConf := *defaultDaemonConfig
	cm := &testConfigManager{tokens: []string{testToken}}

	s := createServerAndWaitReady(t, cm, &dConf, false)

	s.Quit(false)
	testutils.WaitForPortClosed(t, dConf.ListenHost, dConf.ListenPort, 3*time.Second)

	serverErr2 := make(chan error, 1)
	go func() {
		defer close(serverErr2)
		serverErr2 <- s.Run()
	}()

	select {
	case err := <-serverErr2:
		require.Error(t, err, "Server should have errored after second run")
	case <-time.After(1 * time.Second):
		require.Fail(t, "Server should have errored after second run")
	}

	require.False(t, testutils.PortOpen(t, dConf.ListenHost, dConf.ListenPort), "Server should not be running after second (failed) run")
}

func TestRunWatcherErrorClosesServer(t *testing.T) {
	t.Parallel()

	dConf := *defaultDaemonConfig
	cm := &testConfigManager{
		tokens:   []string{testToken},
		watchErr: assert.AnError,
	}

	createServerAndWaitReady(t, cm, &dConf, true)
}

type testConfigManager struct {
	tokens        []string
	loadErr       error
	newWatcherErr error
	watchErr      error
}

func (t testConfigManager) Load() error {
	return t.loadErr
}

func (t testConfigManager) Watch(ctx context.Context) (<-chan struct{}, <-chan error, error) {
	if t.newWatcherErr != nil {
		return nil, nil, t.newWatcherErr
	}

	eventsChan := make(chan struct{})
	errorsChan := make(chan error)
	go func() {
		defer close(eventsChan)
		defer close(errorsChan)

		if t.watchErr != nil {
			errorsChan <- t.watchErr
			return
		}

		// Block until the context is done
		<-ctx.Done()
	}()

	return eventsChan, errorsChan, nil
}

func (t testConfigManager) IsValidToken(token string) bool {
	for _, candidate := range t.tokens {
		if candidate == token {
			return true
		}
	}
	return false
}

func newForTest(t *testing.T, cm *testConfigManager, daemonConfig *webservice.StaticConfig) *webservice.Server {
	t.Helper()

	if daemonConfig.ListenPort == 0 {
		daemonConfig.ListenPort = testutils.GetFreePort(t, daemonConfig.ListenHost)
	}
	if daemonConfig.MetricsPort == 0 {
		daemonConfig.MetricsPort = testutils.GetFreePort(t, daemonConfig.MetricsHost)
	}

	if daemonConfig.ConfigPath == "" {
		daemonConfig.ConfigPath = webservice.GenerateTestDaemonConfig(t, &config.Conf{
			APITokens: cm.tokens,
		})
	}

	s, err := webservice.New(t.Context(), cm, testStore{}, testBridge{}, *daemonConfig)
	require.NoError(t, err, "Setup: failed to create server")
	return s
}

// createServerAndWaitReady initializes and starts a webservice server for testing.
// It waits for the server to be ready and returns the server instance.
// If expectErr is true, it expects the server to fail to start and returns the server instance anyway.
func createServerAndWaitReady(t *testing.T, cm *testConfigManager, daemonConfig *webservice.StaticConfig, expectErr bool) *webservice.Server {
	t.Helper()

	muPortAcquire.Lock()
	defer muPortAcquire.Unlock()

	s := newForTest(t, cm, daemonConfig)
	t.Cleanup(func() {
		s.Quit(true)
	})

	runErr := make(chan error, 1)
	go func() {
		defer close(runErr)
		runErr <- s.Run()
	}()

	select {
	case err := <-runErr:
		if expectErr {
			require.Error(t, err, "Run should fail")
			return s
		}
		require.NoError(t, err, "Run should not fail")
	case <-time.After(1 * time.Second):
		require.False(t, expectErr, "Expected Run to fail with error, but it did not")
		waitServerReady(t, s)
	}

	require.True(t, testutils.PortOpen(t, daemonConfig.ListenHost, daemonConfig.ListenPort), "Server should be running on specified address")

	return s
}

func waitServerReady(t *testing.T, s *webservice.Server) {
	t.Helper()

	const (
		timeout  = 5 * time.Second
		interval = 50 * time.Millisecond
	)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + s.Addr() + "/version")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}

		time.Sleep(interval)
	}

	require.True(t, time.Now().Before(deadline), "Setup: Server did not become ready in time")
}
