package webservice_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/data"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/page"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/anomaly-explorer/internal/webservice"
)

var defaultDaemonConfig = webservice.StaticConfig{
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	RequestTimeout: 3 * time.Second,
	MaxHeaderBytes: 1 << 13, // 8 KB
	MaxBodyBytes:   1 << 17, // 128 KB

	ListenHost:  "127.0.0.1",
	MetricsHost: "127.0.0.1",
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cmLoadErr error

		wantErr bool
	}{
		"Empty valid":                     {},
		"ConfigManager load error errors": {cmLoadErr: assert.AnError, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := webservice.New(t.Context(), &testConfigManager{loadErr: tc.cmLoadErr}, defaultDaemonConfig, testDeps())
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.Equal(t, "127.0.0.1:0", s.HTTPServer().Addr, "Server should listen on the configured address")
		})
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	s := createServerAndWaitReady(t, &testConfigManager{}, defaultDaemonConfig)

	tests := map[string]struct {
		method string
		path   string
		body   string

		wantStatus int
		wantInBody string
	}{
		"Version":                     {method: http.MethodGet, path: "/version", wantStatus: http.StatusOK, wantInBody: `"version"`},
		"Find saved objects":          {method: http.MethodGet, path: "/api/saved_objects/_find?type=search", wantStatus: http.StatusOK, wantInBody: `"total":1`},
		"Get saved object":            {method: http.MethodGet, path: "/api/saved_objects/search/abc", wantStatus: http.StatusOK, wantInBody: `"id":"abc"`},
		"Create saved object":         {method: http.MethodPost, path: "/api/saved_objects/search", body: `{"attributes":{}}`, wantStatus: http.StatusOK},
		"Create saved object with id": {method: http.MethodPost, path: "/api/saved_objects/search/abc", body: `{"attributes":{}}`, wantStatus: http.StatusOK},
		"Explorer view":               {method: http.MethodGet, path: "/app/ml/explorer?_g=(ml:(jobIds:!(it-ops)))", wantStatus: http.StatusOK, wantInBody: `"explorerState"`},

		"Path NotFound":               {method: http.MethodGet, path: "/nope", wantStatus: http.StatusNotFound},
		"Bad method MethodNotAllowed": {method: http.MethodPatch, path: "/api/saved_objects/search/abc", wantStatus: http.StatusMethodNotAllowed},
		"Missing type BadRequest":     {method: http.MethodGet, path: "/api/saved_objects/_find", wantStatus: http.StatusBadRequest},
		"Bad URL state BadRequest":    {method: http.MethodGet, path: "/app/ml/explorer?_g=(ml:", wantStatus: http.StatusBadRequest},
	}

	client := &http.Client{}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			req, err := http.NewRequest(tc.method, "http://"+s.Addr()+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err, "Setup: failed to create request")
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode, "Unexpected status response")
			if tc.wantInBody != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err, "Response body should be readable")
				assert.Contains(t, string(body), tc.wantInBody, "Unexpected response body")
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	s := createServerAndWaitReady(t, &testConfigManager{}, defaultDaemonConfig)

	resp, err := http.Get("http://" + s.Addr() + "/api/saved_objects/search/abc")
	require.NoError(t, err, "Setup: request should succeed")
	resp.Body.Close()

	resp, err = http.Get("http://" + s.MetricsAddr() + "/metrics")
	require.NoError(t, err, "Metrics should be served")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "Metrics should be readable")

	got := string(body)
	assert.Contains(t, got, `explorer_http_requests_total{code="200",handler="saved_objects_get",method="get",route="GET /api/saved_objects/{type}/{id}"} 1`,
		"Endpoint requests should be counted by route pattern")
	assert.Contains(t, got, `explorer_http_mux_requests_total{code="200",handler="mux",method="get"}`, "Mux requests should be counted")
	assert.Contains(t, got, "go_goroutines", "Runtime metrics should be exposed")
}

func TestQuitEndsStreams(t *testing.T) {
	t.Parallel()

	s := newForTest(t, &testConfigManager{}, defaultDaemonConfig)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run() }()
	waitServerReady(t, s)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+s.Addr()+"/app/ml/explorer/stream", nil)
	require.NoError(t, err, "Setup: failed to create request")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "Setup: stream request should succeed")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "Setup: stream should be accepted")

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err, "Setup: stream should send a first event")
	require.True(t, strings.HasPrefix(line, "data: "), "Setup: first event should be a data line")

	s.Quit(false)
	select {
	case err := <-runErr:
		require.NoError(t, err, "Graceful quit should not fail with open streams")
	case <-time.After(5 * time.Second):
		require.Fail(t, "Graceful quit should end open streams")
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cm        testConfigManager
		badListen bool
	}{
		"New Watcher Error": {cm: testConfigManager{newWatcherErr: assert.AnError}},
		"Watch Error":       {cm: testConfigManager{watchErr: assert.AnError}},
		"Bad Port":          {badListen: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dConf := defaultDaemonConfig
			if tc.badListen {
				dConf.ListenPort = -1
			}
			s := newForTest(t, &tc.cm, dConf)

			runErr := make(chan error, 1)
			go func() { runErr <- s.Run() }()

			select {
			case err := <-runErr:
				require.Error(t, err, "Run should fail")
			case <-time.After(5 * time.Second):
				require.Fail(t, "Run should have failed")
			}
		})
	}
}

func TestRunAfterQuitErrors(t *testing.T) {
	t.Parallel()

	s := newForTest(t, &testConfigManager{}, defaultDaemonConfig)
	s.Quit(false)

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run() }()

	select {
	case err := <-runErr:
		require.Error(t, err, "Server should have errored after quitting")
	case <-time.After(1 * time.Second):
		require.Fail(t, "Server should have errored after quitting")
	}
	require.Empty(t, s.Addr(), "Server should not listen after a failed run")
}

type testConfigManager struct {
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

func (t testConfigManager) Explorer() config.ExplorerDefaults {
	return config.ExplorerDefaults{}
}

type mockRepository struct{}

func (mockRepository) Find(_ context.Context, opts savedobjects.FindOptions) (savedobjects.FindResponse, error) {
	return savedobjects.FindResponse{Page: 1, PerPage: 20, Total: 1, SavedObjects: []models.SavedObject{{ID: "1", Type: opts.Types[0]}}}, nil
}

func (mockRepository) Create(_ context.Context, objectType string, attributes map[string]any, opts savedobjects.CreateOptions) (models.SavedObject, error) {
	return models.SavedObject{ID: opts.ID, Type: objectType, Attributes: attributes}, nil
}

func (mockRepository) BulkCreate(context.Context, []savedobjects.BulkCreateObject, savedobjects.BulkCreateOptions) ([]savedobjects.BulkResult, error) {
	return nil, nil
}

func (mockRepository) Get(_ context.Context, objectType, id string, _ savedobjects.BaseOptions) (models.SavedObject, error) {
	return models.SavedObject{ID: id, Type: objectType}, nil
}

func (mockRepository) Update(_ context.Context, objectType, id string, attributes map[string]any, _ savedobjects.UpdateOptions) (models.SavedObject, error) {
	return models.SavedObject{ID: id, Type: objectType, Attributes: attributes}, nil
}

func (mockRepository) Delete(context.Context, string, string, savedobjects.BaseOptions) error {
	return nil
}

type mockJobs struct{}

var jobs = []models.JobWithTimeRange{
	{Job: models.Job{JobID: "it-ops", Influencers: []string{"host"}}, BucketSpanSeconds: 3600},
}

func (mockJobs) LoadJobs(context.Context) ([]models.Job, error) {
	return []models.Job{jobs[0].Job}, nil
}

func (mockJobs) JobsWithTimeRange(context.Context, string) ([]models.JobWithTimeRange, error) {
	return jobs, nil
}

type mockLoader struct{}

func (mockLoader) Load(context.Context, *data.LoadConfig) (*data.ExplorerData, error) {
	return &data.ExplorerData{}, nil
}

func testDeps() webservice.Deps {
	return webservice.Deps{
		Objects:  mockRepository{},
		Explorer: page.Deps{Jobs: mockJobs{}, Loader: mockLoader{}},
	}
}

func newForTest(t *testing.T, cm *testConfigManager, daemonConfig webservice.StaticConfig) *webservice.Server {
	t.Helper()

	s, err := webservice.New(t.Context(), cm, daemonConfig, testDeps())
	require.NoError(t, err, "Setup: failed to create server")
	t.Cleanup(func() { s.Quit(true) })
	return s
}

// createServerAndWaitReady initializes and starts a webservice server for testing.
// It waits for the server to be ready to accept requests.
func createServerAndWaitReady(t *testing.T, cm *testConfigManager, daemonConfig webservice.StaticConfig) *webservice.Server {
	t.Helper()

	s := newForTest(t, cm, daemonConfig)
	go func() { _ = s.Run() }()
	waitServerReady(t, s)

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
		if s.Addr() == "" || s.MetricsAddr() == "" {
			time.Sleep(interval)
			continue
		}
		resp, err := http.Get("http://" + s.Addr() + "/version")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}

		time.Sleep(interval)
	}

	require.Fail(t, "Setup: Server did not become ready in time")
}
