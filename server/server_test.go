package server

import (
	"encoding/json"
	"expvar"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/nexustable/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsServer_Routes(t *testing.T) {
	cfg := &config.DebugConfig{
		ListenAddress:  "127.0.0.1:0",
		PProfEnabled:   true,
		MetricsEnabled: true,
	}
	status := func() any { return map[string]uint64{"head_generation": 7} }
	s := NewMetricsServer(cfg, status, discardLogger())

	tests := []struct {
		path string
		code int
	}{
		{"/metrics", http.StatusOK},
		{"/debug/pprof/", http.StatusOK},
		{"/status", http.StatusOK},
		{"/viz/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var got map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(7), got["head_generation"])
}

func TestMetricsServer_Disabled(t *testing.T) {
	s := NewMetricsServer(&config.DebugConfig{}, nil, discardLogger())
	for _, path := range []string{"/metrics", "/debug/pprof/", "/status"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestMetricsServer_StartStop(t *testing.T) {
	s := NewMetricsServer(&config.DebugConfig{ListenAddress: "127.0.0.1:0", MetricsEnabled: true}, nil, discardLogger())
	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestSystemCollector_DataDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.r1.1.idx"), make([]byte, 100), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.r1.abc.sst"), make([]byte, 900), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	sc := NewSystemCollector(dir, time.Hour, discardLogger())
	sc.collect()
	assert.Equal(t, int64(1000), dataDirBytes.Value())
	assert.Equal(t, int64(2), dataDirFiles.Value())
	assert.NotNil(t, expvar.Get("system_disk_usage_percent"))

	sc.Start()
	sc.Stop()
	sc.Stop()

	// a second collector shares the published variables
	NewSystemCollector(dir, 0, discardLogger()).collect()
	assert.Equal(t, int64(1000), dataDirBytes.Value())
}
