package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/metrics"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/sink"
)

func newTestServer(t *testing.T) (*httptest.Server, *sink.SQLiteStore) {
	t.Helper()
	st, err := sink.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	srv := httptest.NewServer(New(st).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	metrics.Runs.WithLabelValues("succeeded").Inc()

	resp, err := http.Get(srv.URL + "/metrics") //nolint:gosec,noctx
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "landcover_pipeline_runs_total")
}

func TestRuns(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "start_year: 2020\n")
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, run.ID, sink.RunStatusSucceeded, "overall_accuracy: 0.9\n", ""))

	r, err := raster.New(2, 2, "EPSG:32633", raster.GeoTransform{PixelWidth: 30, PixelHeight: 30}, raster.Loss)
	require.NoError(t, err)
	require.NoError(t, st.Persist(ctx, r, sink.Destination{RunID: run.ID, Kind: sink.KindChange}))

	var list struct {
		Runs []sink.Run `json:"runs"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs", &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, run.ID, list.Runs[0].ID)
	assert.Equal(t, sink.RunStatusSucceeded, list.Runs[0].Status)

	var got sink.Run
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs/"+run.ID, &got))
	assert.Equal(t, "overall_accuracy: 0.9\n", got.Summary)

	var rasters struct {
		Rasters []sink.StoredRaster `json:"rasters"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs/"+run.ID+"/rasters", &rasters))
	require.Len(t, rasters.Rasters, 1)
	assert.Equal(t, "change", rasters.Rasters[0].Key)
	assert.Equal(t, []string{raster.Loss}, rasters.Rasters[0].Bands)
}

func TestRuns_EmptyList(t *testing.T) {
	srv, _ := newTestServer(t)

	var list map[string][]sink.Run
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/runs", &list))
	assert.NotNil(t, list["runs"])
	assert.Empty(t, list["runs"])
}

func TestRuns_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/runs/missing", &body))
	assert.Equal(t, "run not found", body["error"])
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/runs/missing/rasters", nil))
}

func TestRuns_InvalidLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, q := range []string{"abc", "0", "-3"} {
		assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/runs?limit="+q, nil), q)
	}
}

type failingRegistry struct{ sink.Registry }

func (failingRegistry) ListRuns(context.Context, int) ([]sink.Run, error) {
	return nil, eris.New("database is locked")
}

func TestRuns_RegistryError(t *testing.T) {
	srv := httptest.NewServer(New(failingRegistry{}).Handler())
	defer srv.Close()

	var body map[string]string
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/runs", &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/runs", nil) //nolint:noctx
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
