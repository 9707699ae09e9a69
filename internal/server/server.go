// Package server implements the request orchestrator: it routes, validates,
// and fulfils GET /{algorithm} diff requests, plus the / and /healthcheck
// auxiliary endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/webmonitoring/diffing-service/internal/algorithms"
	"github.com/webmonitoring/diffing-service/internal/apierr"
	"github.com/webmonitoring/diffing-service/internal/cachekey"
	"github.com/webmonitoring/diffing-service/internal/config"
	"github.com/webmonitoring/diffing-service/internal/decode"
	"github.com/webmonitoring/diffing-service/internal/diffreq"
	"github.com/webmonitoring/diffing-service/internal/fetch"
	"github.com/webmonitoring/diffing-service/internal/metrics"
	"github.com/webmonitoring/diffing-service/internal/version"
	"github.com/webmonitoring/diffing-service/internal/workerpool"
)

// Pool is the subset of *workerpool.Manager the orchestrator depends on,
// kept as an interface so tests can substitute a fake pool.
type Pool interface {
	Submit(ctx context.Context, job workerpool.Job) (workerpool.Result, error)
}

// Server is the HTTP entry point: one shared fetcher and worker pool behind
// a small gorilla/mux router.
type Server struct {
	cfg     config.Config
	fetcher *fetch.Fetcher
	pool    Pool
	router  *mux.Router
}

// New builds a Server and wires its routes.
func New(cfg config.Config, fetcher *fetch.Fetcher, pool Pool) *Server {
	s := &Server{cfg: cfg, fetcher: fetcher, pool: pool, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the server's http.Handler, ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Methods(http.MethodGet).Path("/").HandlerFunc(s.handleVersion)
	s.router.Methods(http.MethodGet).Path("/healthcheck").HandlerFunc((&metrics.HealthHandler{}).HealthCheckHandler())
	s.router.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	s.router.Methods(http.MethodGet).Path("/{algorithm}").HandlerFunc(s.handleDiff)
	s.router.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type versionResponse struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(versionResponse{Version: version.Version})
}

// handleDiff implements the eight-step request pipeline: route, validate,
// preliminary ETag/304 check, concurrent A/B fetch, outcome classification,
// decode, worker pool submission, response formatting.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	defer metrics.HandleCrash()

	algorithm := mux.Vars(r)["algorithm"]
	descriptor, ok := algorithms.Get(algorithm)
	if !ok {
		metrics.RequestsTotal.WithLabelValues(algorithm, "unknown_algorithm").Inc()
		apierr.Write(w, apierr.New(apierr.KindUnknownAlgorithm, "unknown algorithm: "+algorithm))
		return
	}

	req, err := diffreq.Parse(r, algorithm)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(algorithm, "invalid_request").Inc()
		apierr.Write(w, err)
		return
	}

	// Preliminary ETag from the request alone: hash hints stand in for
	// body identities, so a match here skips the fetches entirely.
	preliminary := cachekey.Compute(algorithm, req.AURL, req.BURL, req.Options, req.AHash, req.BHash)
	if req.IfNoneMatch != "" && req.IfNoneMatch == preliminary {
		metrics.RequestsTotal.WithLabelValues(algorithm, "not_modified").Inc()
		w.Header().Set("ETag", preliminary)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.UpstreamTimeoutMS)*time.Millisecond)
	defer cancel()

	aResult, bResult, err := s.fetchBoth(ctx, r, req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(algorithm, "fetch_error").Inc()
		requestLogger(r).Warnf("upstream fetch failed for %s: %v", algorithm, err)
		apierr.Write(w, err)
		return
	}

	aBody, bBody, err := decodeBoth(descriptor, aResult, bResult)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(algorithm, "undecodable").Inc()
		apierr.Write(w, err)
		return
	}

	// Final ETag: a supplied hash hint stays authoritative, otherwise the
	// fetched body's own hash identifies the content, so the tag changes
	// whenever the upstream does. A conditional request replaying a prior
	// final tag can still short-circuit here, after the fetches but before
	// any diff is computed.
	etag := cachekey.Compute(algorithm, req.AURL, req.BURL, req.Options,
		identityFor(req.AHash, aResult), identityFor(req.BHash, bResult))
	if req.IfNoneMatch != "" && req.IfNoneMatch == etag {
		metrics.RequestsTotal.WithLabelValues(algorithm, "not_modified").Inc()
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	job := workerpool.Job{
		Algorithm: algorithm,
		A:         workerpool.Body{Bytes: aBody.Bytes, Text: aBody.Text, HasText: aBody.HasText},
		B:         workerpool.Body{Bytes: bBody.Bytes, Text: bBody.Text, HasText: bBody.HasText},
		Options:   req.Options,
	}

	// The fetch deadline doesn't bound the diff; the diff gets its own
	// budget once both bodies are in hand.
	diffCtx, diffCancel := context.WithTimeout(r.Context(), diffBudget(s.cfg))
	defer diffCancel()

	start := time.Now()
	result, err := s.pool.Submit(diffCtx, job)
	metrics.DiffDuration.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(algorithm, "pool_error").Inc()
		requestLogger(r).Errorf("diff worker pool submission failed for %s: %v", algorithm, err)
		apierr.Write(w, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(algorithm, "success").Inc()
	writeDiffResponse(w, etag, result)
}

// fetchBoth retrieves A and B concurrently via errgroup: if either fails the
// other's in-flight fetch is cancelled on a best-effort basis and its result
// is discarded.
func (s *Server) fetchBoth(ctx context.Context, r *http.Request, req *diffreq.DiffRequest) (*fetch.FetchResult, *fetch.FetchResult, error) {
	var aResult, bResult *fetch.FetchResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		start := time.Now()
		res, err := s.fetcher.Fetch(gctx, fetch.Request{
			URL:            req.AURL,
			IncomingHeader: r.Header,
			PassHeaders:    req.PassHeaders,
			ExpectedHash:   req.AHash,
			MaxBodyBytes:   s.cfg.MaxBodyBytes,
			AllowFileURLs:  !s.cfg.IsProduction(),
		})
		observeFetch(start, err)
		if err != nil {
			return err
		}
		aResult = res
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		res, err := s.fetcher.Fetch(gctx, fetch.Request{
			URL:            req.BURL,
			IncomingHeader: r.Header,
			PassHeaders:    req.PassHeaders,
			ExpectedHash:   req.BHash,
			MaxBodyBytes:   s.cfg.MaxBodyBytes,
			AllowFileURLs:  !s.cfg.IsProduction(),
		})
		observeFetch(start, err)
		if err != nil {
			return err
		}
		bResult = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return aResult, bResult, nil
}

func identityFor(hashHint string, res *fetch.FetchResult) string {
	if hashHint != "" {
		return hashHint
	}
	return res.BodyHash
}

func diffBudget(cfg config.Config) time.Duration {
	if cfg.DiffTimeoutMS > 0 {
		return time.Duration(cfg.DiffTimeoutMS) * time.Millisecond
	}
	return time.Duration(cfg.UpstreamTimeoutMS) * time.Millisecond
}

func observeFetch(start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func decodeBoth(descriptor algorithms.Descriptor, aResult, bResult *fetch.FetchResult) (decode.DecodedBody, decode.DecodedBody, error) {
	if !descriptor.RequiresText {
		return decode.Raw(aResult), decode.Raw(bResult), nil
	}
	aBody, err := decode.Decode(aResult)
	if err != nil {
		return decode.DecodedBody{}, decode.DecodedBody{}, err
	}
	bBody, err := decode.Decode(bResult)
	if err != nil {
		return decode.DecodedBody{}, decode.DecodedBody{}, err
	}
	return aBody, bBody, nil
}

func writeDiffResponse(w http.ResponseWriter, etag string, result workerpool.Result) {
	envelope := make(map[string]any, len(result.Fields)+1)
	for k, v := range result.Fields {
		envelope[k] = v
	}
	envelope["change_count"] = result.ChangeCount

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope)
}
