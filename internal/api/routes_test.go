package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rawblock/entropy-scorer/internal/config"
	"github.com/rawblock/entropy-scorer/internal/hilite"
	"github.com/rawblock/entropy-scorer/internal/node"
	"github.com/rawblock/entropy-scorer/internal/partition"
	"github.com/rawblock/entropy-scorer/internal/persist"
	"github.com/rawblock/entropy-scorer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	node   *node.Node
	cfg    *config.Config
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.AuthToken = token
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.InternalsDir = t.TempDir()
	cfg.Node = node.Settings{ReferenceColumn: "class", ClusteringColumn: "cluster"}

	n := node.New(cfg.Node, hilite.NewTranslator(hilite.Clusters, hilite.Entities))
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	return &testServer{router: SetupRouter(&cfg, n, nil, hub, nil), node: n, cfg: &cfg}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Server.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Server.AuthToken)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func partitionRow(id, label string) partition.Row {
	return partition.Row{Key: id, Cells: []string{label}}
}

func scenarioRequest() models.ExecuteRequest {
	ref := models.TableInput{Columns: []string{"class"}}
	cand := models.TableInput{Columns: []string{"cluster"}}
	for _, r := range []struct{ id, class, cluster string }{
		{"e1", "X", "A"}, {"e2", "X", "A"}, {"e3", "Y", "A"}, {"e4", "Y", "B"},
	} {
		ref.Rows = append(ref.Rows, partitionRow(r.id, r.class))
		cand.Rows = append(cand.Rows, partitionRow(r.id, r.cluster))
	}
	return models.ExecuteRequest{Reference: ref, Clustering: cand}
}

func TestExecute_ReturnsQuality(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/api/v1/execute", scenarioRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.EvaluationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 4, res.TotalEntities)
	assert.Equal(t, 2, res.CandidateCount)
	assert.InDelta(t, 0.5, res.OverallEntropy, 1e-12)
	assert.InDelta(t, 0.5, res.Quality, 1e-12)
	assert.NotEmpty(t, res.RunID)

	w = s.do(t, http.MethodGet, "/api/v1/result", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResult_BeforeExecute(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodGet, "/api/v1/result", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExecute_EmptyCandidate(t *testing.T) {
	s := newTestServer(t, "")
	req := scenarioRequest()
	req.Clustering.Rows = nil

	w := s.do(t, http.MethodPost, "/api/v1/execute", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigure_UnknownColumn(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/configure", models.ConfigureRequest{
		ReferenceColumn:  "class",
		ClusteringColumn: "missing",
		ReferenceSchema:  []string{"class"},
		ClusteringSchema: []string{"cluster"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, node.Settings{ReferenceColumn: "class", ClusteringColumn: "cluster"}, s.node.Settings(),
		"rejected settings must not be installed")
}

func TestContingencyAndClusters(t *testing.T) {
	s := newTestServer(t, "")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/execute", scenarioRequest()).Code)

	w := s.do(t, http.MethodGet, "/api/v1/contingency", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.ContingencyView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 4, view.Total)
	assert.Equal(t, map[string]int{"X": 2, "Y": 2}, view.ReferenceTotals)
	assert.Equal(t, map[string]int{"A": 3, "B": 1}, view.CandidateTotals)

	w = s.do(t, http.MethodGet, "/api/v1/clusters/X", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cluster struct {
		Label    string   `json:"label"`
		Entities []string `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cluster))
	assert.ElementsMatch(t, []string{"e1", "e2"}, cluster.Entities)

	w = s.do(t, http.MethodGet, "/api/v1/clusters/Z", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInternals_SaveLoad(t *testing.T) {
	s := newTestServer(t, "")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/execute", scenarioRequest()).Code)
	runID := s.node.RunID()

	w := s.do(t, http.MethodPost, "/api/v1/internals/save", models.InternalsRequest{Dir: "run1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.FileExists(t, filepath.Join(s.cfg.Storage.InternalsDir, "run1", persist.FileName))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/reset", nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodGet, "/api/v1/result", nil).Code)

	w = s.do(t, http.MethodPost, "/api/v1/internals/load", models.InternalsRequest{Dir: "run1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, runID, s.node.RunID())
}

func TestInternals_LoadCorrupt(t *testing.T) {
	s := newTestServer(t, "")
	dir := filepath.Join(s.cfg.Storage.InternalsDir, "bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, persist.FileName), []byte(`{"version":1}`), 0o644))

	w := s.do(t, http.MethodPost, "/api/v1/internals/load", models.InternalsRequest{Dir: "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/internals/load", models.InternalsRequest{Dir: "none"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestInternals_RejectsEscapingPath(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/v1/internals/save", models.InternalsRequest{Dir: "../outside"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecute_FromFiles(t *testing.T) {
	s := newTestServer(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Storage.DataDir, "ref.csv"),
		[]byte("id,class\ne1,X\ne2,X\ne3,Y\ne4,Y\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Storage.DataDir, "cand.csv"),
		[]byte("id,cluster\ne1,A\ne2,A\ne3,A\ne4,B\n"), 0o644))

	w := s.do(t, http.MethodPost, "/api/v1/execute", models.ExecuteRequest{
		Reference:  models.TableInput{Path: "ref.csv"},
		Clustering: models.TableInput{Path: "cand.csv"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/execute", models.ExecuteRequest{
		Reference:  models.TableInput{Path: "/etc/passwd"},
		Clustering: models.TableInput{Path: "cand.csv"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSelection_TranslatesClustersToEntities(t *testing.T) {
	s := newTestServer(t, "")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/execute", scenarioRequest()).Code)

	w := s.do(t, http.MethodPost, "/api/v1/selection", models.SelectionEvent{Origin: "left", Keys: []string{"Y"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())
	assert.Equal(t, []string{"e3", "e4"}, s.node.Translator().Selection(hilite.Right))

	// the same selection again is an echo
	w = s.do(t, http.MethodPost, "/api/v1/selection", models.SelectionEvent{Origin: "left", Keys: []string{"Y"}})
	assert.JSONEq(t, `{"accepted":false}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/selection/right", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"side":"right","keys":["e3","e4"]}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/selection", models.SelectionEvent{Origin: "middle", Keys: []string{"Y"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuns_WithoutDatabase(t *testing.T) {
	s := newTestServer(t, "")
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/runs", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/api/v1/runs", nil).Code)
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/result", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/result", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()
	p, err := resolveWithin(base, "a/b.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a", "b.csv"), p)

	p, err = resolveWithin(base, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(base), p)

	for _, bad := range []string{"../x", "a/../../x", "/abs"} {
		_, err := resolveWithin(base, bad)
		assert.ErrorIs(t, err, errPathEscapes, bad)
	}
}

func dialStream(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func TestStream_OnlyAuthenticatedClientsPublish(t *testing.T) {
	s := newTestServer(t, "secret")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/execute", scenarioRequest()).Code)

	var (
		mu        sync.Mutex
		delivered [][]string
	)
	s.node.Translator().AddListener(hilite.Right, func(ev hilite.Event) {
		mu.Lock()
		delivered = append(delivered, ev.Keys)
		mu.Unlock()
	})
	sawX := func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, keys := range delivered {
			if assert.ObjectsAreEqual([]string{"e1", "e2"}, keys) {
				return true
			}
		}
		return false
	}

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	anon, _, err := dialStream(t, srv, "")
	require.NoError(t, err)
	require.NoError(t, anon.WriteJSON(models.SelectionEvent{Origin: "left", Keys: []string{"X"}}))

	authed, _, err := dialStream(t, srv, "?token=secret")
	require.NoError(t, err)
	require.NoError(t, authed.WriteJSON(models.SelectionEvent{Origin: "left", Keys: []string{"Y"}}))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Y"}, s.node.Translator().Selection(hilite.Left))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, sawX, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"e3", "e4"}, s.node.Translator().Selection(hilite.Right))
}

func TestStream_WrongTokenRejected(t *testing.T) {
	s := newTestServer(t, "secret")
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	_, resp, err := dialStream(t, srv, "?token=wrong")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
