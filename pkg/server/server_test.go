package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/orneryd/rdfproof/pkg/config"
	"github.com/orneryd/rdfproof/pkg/explain"
	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/rdfproof"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Test Helpers
// =============================================================================

const family = `@prefix ex: <http://example.org/> .
ex:Lassie rdf:type ex:Dog .
ex:Dog rdfs:subClassOf ex:Mammal .
ex:childOf owl:inverseOf ex:hasChild .
ex:John ex:childOf ex:Mary ex:family .
`

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.InMemory = true
	db, err := rdfproof.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	serverConfig := DefaultConfig()
	serverConfig.Port = 0
	serverConfig.EnableCORS = true

	server, err := New(db, serverConfig, nil)
	require.NoError(t, err)
	return server
}

func makeRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func loadFamily(t *testing.T, server *Server) {
	t.Helper()
	rec := makeRequest(t, server, http.MethodPost, "/statements", family)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func explainURL(s, p, o, c string) string {
	v := url.Values{}
	for k, term := range map[string]string{"s": s, "p": p, "o": o, "c": c} {
		if term != "" {
			v.Set(k, term)
		}
	}
	return "/explain?" + v.Encode()
}

// =============================================================================
// Server Tests
// =============================================================================

func TestNew(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)

	server := setupTestServer(t)
	assert.NotNil(t, server.Handler())
	assert.Empty(t, server.Addr())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, 7480, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int64(64*1024*1024), cfg.MaxRequestSize)
	assert.False(t, cfg.EnableCORS)
}

func TestConfigFrom(t *testing.T) {
	sc := config.Default().Server
	sc.Port = 9999
	sc.EnableCORS = true
	cfg := ConfigFrom(sc)
	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.EnableCORS)
	assert.Equal(t, sc.WriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
}

func TestHandleDiscovery(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "rdfproof", body["name"])
	assert.Equal(t, "owl2-rl", body["ruleset"])
}

func TestNotFound(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["error"])
	assert.Equal(t, float64(http.StatusNotFound), body["code"])
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleStatus(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	rec := makeRequest(t, server, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Database struct {
			Explicit int64  `json:"explicit"`
			Inferred int64  `json:"inferred"`
			Ruleset  string `json:"ruleset"`
		} `json:"database"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, int64(4), body.Database.Explicit)
	assert.NotZero(t, body.Database.Inferred)
	assert.Equal(t, "owl2-rl", body.Database.Ruleset)
}

func TestRequestID(t *testing.T) {
	server := setupTestServer(t)

	rec := makeRequest(t, server, http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestCORSHeaders(t *testing.T) {
	server := setupTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/explain", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

// =============================================================================
// Statement Tests
// =============================================================================

func TestStatements(t *testing.T) {
	server := setupTestServer(t)

	rec := makeRequest(t, server, http.MethodPost, "/statements", family)
	require.Equal(t, http.StatusOK, rec.Code)
	var res rdfproof.WriteResult
	decode(t, rec, &res)
	assert.Equal(t, 4, res.Read)
	assert.Equal(t, 4, res.Changed)
	require.NotNil(t, res.Materialized)
	assert.NotZero(t, res.Materialized.Inferred)

	rec = makeRequest(t, server, http.MethodDelete, "/statements",
		"<http://example.org/Lassie> <"+rdf.RDFType+"> <http://example.org/Dog> .\n")
	require.Equal(t, http.StatusOK, rec.Code)
	res = rdfproof.WriteResult{}
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Changed)
}

func TestStatementsBadBody(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodPost, "/statements", "<http://example.org/a> <http://example.org/p>\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = makeRequest(t, server, http.MethodPost, "/statements",
		"<http://example.org/a> <http://example.org/p> <http://example.org/b> <"+rdf.ImplicitGraphIRI+"> .\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatementsBodyTooLarge(t *testing.T) {
	server := setupTestServer(t)
	server.config.MaxRequestSize = 64

	rec := makeRequest(t, server, http.MethodPost, "/statements", family)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// Without a Content-Length the cap is enforced while reading.
	req := httptest.NewRequest(http.MethodPost, "/statements", strings.NewReader(family))
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	var status struct {
		Database struct {
			Explicit int64 `json:"explicit"`
		} `json:"database"`
	}
	rec = makeRequest(t, server, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.Zero(t, status.Database.Explicit, "a truncated body must not be loaded")
}

func TestStatementsMethodNotAllowed(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodGet, "/statements", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMaterialize(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	rec := makeRequest(t, server, http.MethodPost, "/materialize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	decode(t, rec, &stats)
	assert.Equal(t, float64(4), stats["asserted"])

	rec = makeRequest(t, server, http.MethodGet, "/materialize", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// =============================================================================
// Explain Tests
// =============================================================================

func TestExplainLassie(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	rec := makeRequest(t, server, http.MethodGet,
		explainURL("<http://example.org/Lassie>", "rdf:type", "<http://example.org/Mammal>", ""), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body ExplainResponse
	decode(t, rec, &body)
	assert.Equal(t, "owl2-rl", body.Ruleset)
	assert.True(t, body.Solution.IsBlank())
	require.Equal(t, 2, body.Count)
	for _, row := range body.Rows {
		assert.Equal(t, "rule_cax_sco", row.Rule)
		assert.Equal(t, rdf.IRI(rdf.ExplicitGraphIRI), row.Context)
	}
	assert.Equal(t, rdf.IRI("http://example.org/Dog"), body.Rows[0].Subject)
}

func TestExplainQueryParameter(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	q := url.QueryEscape("<http://example.org/John> <http://example.org/childOf> <http://example.org/Mary>")
	rec := makeRequest(t, server, http.MethodGet, "/explain?q="+q, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body ExplainResponse
	decode(t, rec, &body)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, explain.Tuple{
		Rule:      "explicit",
		Subject:   rdf.IRI("http://example.org/John"),
		Predicate: rdf.IRI("http://example.org/childOf"),
		Object:    rdf.IRI("http://example.org/Mary"),
		Context:   rdf.IRI("http://example.org/family"),
	}, body.Rows[0])
}

func TestExplainScopedToGraph(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	rec := makeRequest(t, server, http.MethodGet,
		explainURL("<http://example.org/Mary>", "<http://example.org/hasChild>", "<http://example.org/John>", "<http://example.org/family>"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body ExplainResponse
	decode(t, rec, &body)
	require.Len(t, body.Rows, 2)
	assert.Equal(t, "rule_prp_inv1", body.Rows[0].Rule)
	assert.Equal(t, rdf.IRI("http://example.org/family"), body.Rows[1].Context)
}

func TestExplainNoRows(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)

	rec := makeRequest(t, server, http.MethodGet,
		explainURL("<http://example.org/Mary>", "rdf:type", "<http://example.org/Dog>", ""), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body ExplainResponse
	decode(t, rec, &body)
	assert.Zero(t, body.Count)
	assert.Empty(t, body.Rows)
}

func TestExplainBadRequest(t *testing.T) {
	server := setupTestServer(t)

	for _, path := range []string{
		explainURL("nope:x", "", "", ""),
		"/explain?q=" + url.QueryEscape("<a> <b>"),
	} {
		rec := makeRequest(t, server, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec := makeRequest(t, server, http.MethodPost, "/explain", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRules(t *testing.T) {
	server := setupTestServer(t)
	rec := makeRequest(t, server, http.MethodGet, "/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Name        string     `json:"name"`
		Fingerprint string     `json:"fingerprint"`
		Rules       []ruleJSON `json:"rules"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "owl2-rl", body.Name)
	assert.Len(t, body.Fingerprint, 64)
	require.NotEmpty(t, body.Rules)

	var found bool
	for _, r := range body.Rules {
		if r.ID == "rule_cax_sco" {
			found = true
			assert.Len(t, r.If, 2)
			assert.Len(t, r.Then, 1)
		}
	}
	assert.True(t, found)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t)
	loadFamily(t, server)
	makeRequest(t, server, http.MethodGet,
		explainURL("<http://example.org/Lassie>", "rdf:type", "<http://example.org/Mammal>", ""), "")

	rec := makeRequest(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rdfproof_explain_targets_total{outcome="rule"} 1`)
	assert.Contains(t, body, `rdfproof_http_requests_total{code="2xx",route="/statements"} 1`)
	assert.Contains(t, body, "rdfproof_materialize_duration_seconds")
}

func TestServerStats(t *testing.T) {
	server := setupTestServer(t)
	makeRequest(t, server, http.MethodGet, "/health", "")
	makeRequest(t, server, http.MethodGet, "/missing", "")

	stats := server.Stats()
	assert.Equal(t, int64(2), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Zero(t, stats.ActiveRequests)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/explain", routeLabel("/explain"))
	assert.Equal(t, "other", routeLabel("/explain/extra"))
}

func TestServerStartStop(t *testing.T) {
	server := setupTestServer(t)
	require.NoError(t, server.Start())
	require.NotEmpty(t, server.Addr())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + server.Addr() + "/health")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	client.CloseIdleConnections()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx))
	assert.ErrorIs(t, server.Start(), ErrServerClosed)
}
