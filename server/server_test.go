package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/pipeline"
)

const pathDoc = `{
	"edge_list": [
		{"node1": 1, "node2": 2, "size1": 10, "size2": 20, "weight": 0.1, "edge_size": 3},
		{"node1": 2, "node2": 3, "size1": 20, "size2": 30, "weight": 0.9, "edge_size": 4}
	]
}`

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func testResponse(t *testing.T, h http.Handler, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, urlStr, payload)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAbout(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	w := testResponse(t, s.Handler(), "GET", WebAPIPath+"about", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var about About
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &about))
	require.Equal(t, np.Version, about.Version)
	require.Equal(t, np.InterchangeVersion, about.Interchange)
	require.Positive(t, about.Cores)
	require.Equal(t, DefaultMaxJobs, about.MaxJobs)

	w = testResponse(t, s.Handler(), "GET", WebAPIPath+"help", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/api/agglomerate")
}

func TestAgglomerate(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	w := testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate?threshold=0.5&algorithm=queue", strings.NewReader(pathDoc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp AgglomerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, pipeline.AlgorithmQueue, resp.Report.Algorithm)
	require.Equal(t, 3, resp.Report.InitialNodes)
	require.Equal(t, 2, resp.Report.Nodes)
	require.Equal(t, 1, resp.Report.Merges)
	require.Equal(t, [][2]uint64{{2, 1}}, resp.Mapping)

	require.Equal(t, np.InterchangeVersion, resp.Graph.Version)
	require.Equal(t, resp.Report.RunID, resp.Graph.RunID)
	require.Len(t, resp.Graph.EdgeList, 1)
	edge := resp.Graph.EdgeList[0]
	require.Equal(t, uint64(1), edge.Node1)
	require.Equal(t, uint64(3), edge.Node2)
	require.NotNil(t, edge.Size1)
	require.Equal(t, uint64(30), *edge.Size1)
}

func TestAgglomerateDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agglomeration.Threshold = 0
	s := newTestServer(t, cfg)

	w := testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate", strings.NewReader(pathDoc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp AgglomerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Report.Merges)
	require.Empty(t, resp.Mapping)
	require.Len(t, resp.Graph.NodeList, 3)

	w = testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate?threshold=1", strings.NewReader(pathDoc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Report.Nodes)
	require.Equal(t, [][2]uint64{{2, 1}, {3, 1}}, resp.Mapping)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	tests := []struct {
		name   string
		method string
		url    string
		body   string
		code   int
	}{
		{"threshold range", "POST", "agglomerate?threshold=1.5", pathDoc, http.StatusBadRequest},
		{"threshold nan", "POST", "agglomerate?threshold=NaN", pathDoc, http.StatusBadRequest},
		{"mito nan", "POST", "agglomerate?mito=nan", pathDoc, http.StatusBadRequest},
		{"threshold syntax", "POST", "agglomerate?threshold=low", pathDoc, http.StatusBadRequest},
		{"refine syntax", "POST", "agglomerate?refine=maybe", pathDoc, http.StatusBadRequest},
		{"algorithm", "POST", "agglomerate?algorithm=greedy", pathDoc, http.StatusBadRequest},
		{"not json", "POST", "agglomerate", "edge_list", http.StatusBadRequest},
		{"no edge list", "POST", "agglomerate", `{"node_list": []}`, http.StatusBadRequest},
		{"version", "POST", "agglomerate", `{"version": "2.0.0", "edge_list": []}`, http.StatusBadRequest},
		{"self edge", "POST", "agglomerate", `{"edge_list": [{"node1": 4, "node2": 4, "weight": 0.1}]}`, http.StatusBadRequest},
		{"unknown", "GET", "segment", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := testResponse(t, s.Handler(), tc.method, WebAPIPath+tc.url, strings.NewReader(tc.body))
			require.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestBusy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxJobs = 1
	s := newTestServer(t, cfg)
	s.jobs <- struct{}{}

	w := testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate", strings.NewReader(pathDoc))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	<-s.jobs
	w = testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate", strings.NewReader(pathDoc))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBodyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.MaxBodyMB = 1
	s := newTestServer(t, cfg)

	big := `{"edge_list": [], "run_id": "` + strings.Repeat("x", 2<<20) + `"}`
	w := testResponse(t, s.Handler(), "POST", WebAPIPath+"agglomerate", strings.NewReader(big))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorization(t *testing.T) {
	dir := t.TempDir()
	authPath := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(authPath, []byte(`{"reader": "read", "writer": "readwrite"}`), 0644))

	cfg := DefaultConfig()
	cfg.Auth = authConfig{AuthFile: authPath, SecretKey: "sekrit"}
	s := newTestServer(t, cfg)
	h := s.Handler()

	request := func(method, endpoint, token, body string) int {
		req := httptest.NewRequest(method, WebAPIPath+endpoint, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusUnauthorized, request("GET", "about", "", ""))
	require.Equal(t, http.StatusUnauthorized, request("GET", "about", "not.a.token", ""))

	forged, err := GenerateJWT("other", "reader")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, request("GET", "about", forged, ""))

	reader, err := GenerateJWT("sekrit", "reader")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, request("GET", "about", reader, ""))
	require.Equal(t, http.StatusUnauthorized, request("POST", "agglomerate", reader, pathDoc))

	writer, err := GenerateJWT("sekrit", "writer")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, request("POST", "agglomerate", writer, pathDoc))

	stranger, err := GenerateJWT("sekrit", "stranger")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, request("GET", "about", stranger, ""))

	_, err = GenerateJWT("", "reader")
	require.Error(t, err)
}

func TestPermitted(t *testing.T) {
	require.True(t, permitted(nil, "anyone", "POST"))
	users := map[string]string{"*": "read", "admin": "readwrite", "bot": "write", "odd": "all"}
	require.True(t, permitted(users, "guest", "GET"))
	require.True(t, permitted(users, "guest", "HEAD"))
	require.False(t, permitted(users, "guest", "POST"))
	require.True(t, permitted(users, "admin", "POST"))
	require.True(t, permitted(users, "bot", "POST"))
	require.False(t, permitted(users, "bot", "GET"))
	require.False(t, permitted(users, "odd", "GET"))
}

func TestCORS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.CorsDomains = []string{"https://proofreader.example.org"}
	s := newTestServer(t, cfg)

	req := httptest.NewRequest("GET", WebAPIPath+"about", nil)
	req.Header.Set("Origin", "https://proofreader.example.org")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://proofreader.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", WebAPIPath+"about", nil)
	req.Header.Set("Origin", "https://elsewhere.example.org")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[server]
address = "localhost:9100"
cors_domains = ["http://localhost:3000"]
max_jobs = 4
timeout = 60

[auth]
auth_file = "users.json"
secret_key = "sekrit"

[agglomeration]
algorithm = "mrf"
threshold = 0.35
remove_inclusions = true

[refine]
workers = 2
`), 0644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "localhost:9100", cfg.Server.Address)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CorsDomains)
	require.Equal(t, 4, cfg.Server.MaxJobs)
	require.Equal(t, DefaultMaxBodyMB, cfg.Server.MaxBodyMB)
	require.Equal(t, 5, cfg.Server.ShutdownDelay)
	require.Equal(t, filepath.Join(dir, "users.json"), cfg.Auth.AuthFile)
	require.True(t, cfg.Auth.enabled())
	require.Equal(t, pipeline.AlgorithmMRF, cfg.Agglomeration.Algorithm)
	require.Equal(t, 0.35, cfg.Agglomeration.Threshold)
	require.True(t, cfg.Agglomeration.RemoveInclusions)
	require.Equal(t, 2, cfg.Refine.Workers)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	_, err = LoadConfig("")
	require.Error(t, err)
}
