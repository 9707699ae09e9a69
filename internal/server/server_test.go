package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webmonitoring/diffing-service/internal/config"
	"github.com/webmonitoring/diffing-service/internal/fetch"
	"github.com/webmonitoring/diffing-service/internal/workerpool"
)

// crashImmediatelySpawner starts a process that exits right away, so the
// pool it backs is corrupted on its very first submission -- used to drive
// the orchestrator's worker-pool-broken scenarios without forking a real
// diff worker.
func crashImmediatelySpawner() workerpool.SpawnFunc {
	return func() (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
		cmd := exec.Command("false")
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, nil, err
		}
		return cmd, stdin, stdout, nil
	}
}

// fakePool is a Pool stand-in so orchestrator tests don't need to fork real
// worker processes; it can be configured to fail a fixed number of times
// with a pool-corruption-flavored error before succeeding, mirroring the
// shapes workerpool.Manager.Submit itself returns.
type fakePool struct {
	run func(ctx context.Context, job workerpool.Job) (workerpool.Result, error)
}

func (f *fakePool) Submit(ctx context.Context, job workerpool.Job) (workerpool.Result, error) {
	return f.run(ctx, job)
}

func identicalBytesPool() *fakePool {
	return &fakePool{run: func(_ context.Context, job workerpool.Job) (workerpool.Result, error) {
		same := string(job.A.Bytes) == string(job.B.Bytes)
		count := 0
		if !same {
			count = 1
		}
		return workerpool.Result{ChangeCount: count, Fields: map[string]any{"diff": same}}, nil
	}}
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:        ":0",
		AppEnv:            "development",
		MaxBodyBytes:      1 << 20,
		UpstreamTimeoutMS: 5_000,
	}
}

func newTestServer(cfg config.Config, pool Pool) *Server {
	return New(cfg, fetch.New(), pool)
}

func writeEmptyFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

// --- Scenario 1: healthcheck ---

func TestHealthcheck(t *testing.T) {
	srv := newTestServer(testConfig(), identicalBytesPool())
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Scenario 2: version ---

func TestVersionRoute(t *testing.T) {
	srv := newTestServer(testConfig(), identicalBytesPool())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["version"])
}

// --- Scenario 3: identical bytes, local empty files, correct hash ---

func TestIdenticalBytesLocalEmptyFilesWithCorrectHash(t *testing.T) {
	path := writeEmptyFile(t)
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=file://" + path + "&b=file://" + path +
		"&a_hash=" + emptySHA256 + "&b_hash=" + emptySHA256
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["change_count"])
}

// --- Scenario 4: bad hash ---

func TestBadHashYields502WithHashInMessage(t *testing.T) {
	path := writeEmptyFile(t)

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=file://" + path + "&b=file://" + path + "&a_hash=f3b0c4"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadGateway, w.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Contains(t, env["error"], "hash")
}

// --- Scenario 5: file:// scheme disallowed in production ---

func TestFileSchemeDisallowedInProduction(t *testing.T) {
	path := writeEmptyFile(t)

	cfg := testConfig()
	cfg.AppEnv = "production"
	srv := newTestServer(cfg, identicalBytesPool())

	url := "/identical_bytes?a=file://" + path + "&b=file://" + path
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

// --- Scenario 6: ETag match yields 304 ---

func TestIfNoneMatchYields304(t *testing.T) {
	path := writeEmptyFile(t)
	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=file://" + path + "&b=file://" + path

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := httptest.NewRequest(http.MethodGet, url, nil)
	second.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, second)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, etag, w.Header().Get("ETag"))
}

// A conditional request replaying a previously returned ETag must only get
// 304 while the upstream content is unchanged; once the content changes the
// tag no longer matches and a fresh diff is served.
func TestETagChangesWhenUpstreamContentChanges(t *testing.T) {
	content := "before"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, content)
	}))
	defer upstream.Close()

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=" + upstream.URL + "&b=" + upstream.URL

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	content = "after"
	stale := httptest.NewRequest(http.MethodGet, url, nil)
	stale.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, stale)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

// --- Scenario 7: upstream 404, non-archival ---

func TestUpstream404NonArchivalYields502MentioningStatus(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	}))
	defer ok.Close()

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=" + notFound.URL + "&b=" + ok.URL
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusBadGateway, w.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Contains(t, env["error"], "404")
}

// --- Scenario 8: upstream 404, archival ---

func TestUpstream404ArchivalSucceeds(t *testing.T) {
	archival := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Memento-Datetime", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("archived"))
	}))
	defer archival.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("archived"))
	}))
	defer ok.Close()

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/identical_bytes?a=" + archival.URL + "&b=" + ok.URL
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Scenario 9: body too large ---

func TestBodyTooBigYields502(t *testing.T) {
	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 110*1024))
	}))
	defer big.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer ok.Close()

	cfg := testConfig()
	cfg.MaxBodyBytes = 100 * 1024
	srv := newTestServer(cfg, identicalBytesPool())
	url := "/identical_bytes?a=" + big.URL + "&b=" + ok.URL
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// --- Scenario: unknown algorithm ---

func TestUnknownAlgorithmYields404(t *testing.T) {
	srv := newTestServer(testConfig(), identicalBytesPool())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no_such_algorithm?a=http://a&b=http://b", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Scenario: malformed/missing URL params ---

func TestMissingURLParamsYields400(t *testing.T) {
	srv := newTestServer(testConfig(), identicalBytesPool())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/identical_bytes?a=http://a.example", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Scenarios 11-12: worker pool repeatedly broken ---

func TestWorkerPoolBrokenYields500AndTriggersShutdown(t *testing.T) {
	path := writeEmptyFile(t)
	var shutdownCode int
	pool, err := workerpool.New(workerpool.Config{
		WorkerCount: 1,
		Spawn:       crashImmediatelySpawner(),
		OnBroken:    func(code int) { shutdownCode = code },
	})
	if err != nil {
		// Spawn fails before the pool ever comes up; Submit on a nil
		// manager isn't reachable so this variant of the scenario is
		// exercised at the workerpool package level instead.
		t.Skip("crashing spawner failed before pool construction")
	}

	srv := newTestServer(testConfig(), pool)
	url := "/length?a=file://" + path + "&b=file://" + path
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 10, shutdownCode)
}

func TestWorkerPoolBrokenWithRestartFlagSuppressesShutdown(t *testing.T) {
	path := writeEmptyFile(t)
	called := false
	pool, err := workerpool.New(workerpool.Config{
		WorkerCount:     1,
		Spawn:           crashImmediatelySpawner(),
		RestartOnBroken: true,
		OnBroken:        func(int) { called = true },
	})
	if err != nil {
		t.Skip("crashing spawner failed before pool construction")
	}

	srv := newTestServer(testConfig(), pool)
	url := "/length?a=file://" + path + "&b=file://" + path
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, called)
}

// --- CORS scenarios ---

func TestCORSAllowlistEchoesMemberOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"http://one.com", "http://two.com", "http://three.com"}
	srv := newTestServer(cfg, identicalBytesPool())

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("Origin", "http://two.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://two.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "x-requested-with", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSAllowlistAcceptsBareHostEntries(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"one.com", "two.com", "three.com"}
	srv := newTestServer(cfg, identicalBytesPool())

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("Origin", "http://two.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://two.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowlistOmitsNonMemberOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowedOrigins = []string{"http://one.com"}
	srv := newTestServer(cfg, identicalBytesPool())

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("Origin", "http://evil.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardEchoesOriginWithCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowAllOrigins = true
	srv := newTestServer(cfg, identicalBytesPool())

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("Origin", "http://test.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://test.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

// --- Undecodable content ---

func TestUndecodableContentYields422(t *testing.T) {
	bin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte{0x25, 0x50, 0x44, 0x46})
	}))
	defer bin.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("fine"))
	}))
	defer ok.Close()

	srv := newTestServer(testConfig(), identicalBytesPool())
	url := "/html_source_dmp?a=" + bin.URL + "&b=" + ok.URL
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
