// Package workerpool implements the diff worker pool: a fixed-size set of
// isolated OS-process workers, with cooperative, generation-counter-based
// rebuild when the pool is detected broken.
package workerpool

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/webmonitoring/diffing-service/internal/apierr"
	"github.com/webmonitoring/diffing-service/internal/logging"
	"github.com/webmonitoring/diffing-service/internal/metrics"
)

// SpawnFunc starts one worker process and returns its handle plus its
// stdin/stdout pipes, already wired but not yet started (Cmd.Start is called
// by the pool). Production code uses cmd/diffing-service's spawnWorker; tests substitute a
// fake to simulate a broken pool without forking real processes.
type SpawnFunc func() (cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, err error)

// Job is one diff unit of work: an algorithm name, two decoded (or raw)
// bodies, and algorithm-specific options.
type Job struct {
	Algorithm string
	A         Body
	B         Body
	Options   map[string]string
}

// Body is the minimal shape workerpool needs from a decode.DecodedBody,
// kept separate so this package doesn't need to import decode directly.
type Body struct {
	Bytes   []byte
	Text    string
	HasText bool
}

// Result is a completed diff job's output.
type Result struct {
	ChangeCount int
	Fields      map[string]any
}

// Config controls pool sizing and broken-pool behavior.
type Config struct {
	WorkerCount     int
	Spawn           SpawnFunc
	RestartOnBroken bool     // RESTART_BROKEN_DIFFER: suppress process exit on Broken
	OnBroken        func(int) // called with the exit code when entering Broken, unless RestartOnBroken
}

// Manager owns the current pool generation and coordinates rebuilds.
type Manager struct {
	cfg Config

	mu      sync.Mutex // serializes installing a new generation
	current atomic.Pointer[workerPool]
	gen     atomic.Uint64
	broken  atomic.Bool
	sf      singleflight.Group
}

// New builds a Manager and starts its first generation of workers.
func New(cfg Config) (*Manager, error) {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	m := &Manager{cfg: cfg}
	p, err := newWorkerPool(cfg.WorkerCount, cfg.Spawn)
	if err != nil {
		return nil, err
	}
	m.current.Store(p)
	return m, nil
}

// Submit runs job on the current pool generation. On pool corruption it
// performs exactly one cooperative rebuild-and-retry; a
// second consecutive corruption (on the freshly rebuilt pool) marks the
// pool Broken and returns a WorkerPoolBroken error.
func (m *Manager) Submit(ctx context.Context, job Job) (Result, error) {
	if m.broken.Load() {
		return Result{}, apierr.New(apierr.KindWorkerPoolBroken, "diff worker pool is broken")
	}

	gen := m.gen.Load()
	p := m.current.Load()

	res, err := p.run(ctx, toFrame(job))
	if err == nil {
		return fromFrame(res)
	}
	if !errors.Is(err, ErrPoolCorrupted) {
		return Result{}, err
	}

	newPool, rebuildErr := m.rebuild(gen, p)
	if rebuildErr != nil {
		m.markBroken()
		return Result{}, apierr.New(apierr.KindWorkerPoolBroken, "diff worker pool is broken")
	}

	res2, err2 := newPool.run(ctx, toFrame(job))
	if err2 == nil {
		return fromFrame(res2)
	}
	if errors.Is(err2, ErrPoolCorrupted) {
		m.markBroken()
		return Result{}, apierr.New(apierr.KindWorkerPoolBroken, "diff worker pool is broken")
	}
	return Result{}, err2
}

// rebuild coalesces concurrent rebuild requests for the same observed
// generation via singleflight: the first caller to observe generation `gen`
// broken actually spawns a new pool; concurrent callers that observed the
// same generation share its result instead of spawning their own. A caller that observes a generation already
// superseded by the time it asks just gets the current pool back.
func (m *Manager) rebuild(gen uint64, observed *workerPool) (*workerPool, error) {
	v, err, _ := m.sf.Do("rebuild", func() (any, error) {
		if m.gen.Load() != gen {
			return m.current.Load(), nil
		}

		logging.Warnf("diff worker pool corrupted, rebuilding (generation %d)", gen)
		fresh, err := newWorkerPool(m.cfg.WorkerCount, m.cfg.Spawn)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		old := m.current.Load()
		m.current.Store(fresh)
		m.gen.Add(1)
		m.mu.Unlock()

		if old != nil && old != observed {
			// A previous rebuild already replaced `observed`; close
			// whatever is current-but-stale rather than leaking it.
			_ = old.close()
		} else if observed != nil {
			_ = observed.close()
		}
		metrics.PoolRebuildsTotal.Inc()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*workerPool), nil
}

func (m *Manager) markBroken() {
	if m.broken.Swap(true) {
		return // already broken; shutdown hook already ran
	}
	logging.Errorf("diff worker pool repeatedly broken; giving up")
	metrics.PoolBrokenTotal.Inc()
	if m.cfg.RestartOnBroken {
		return
	}
	if m.cfg.OnBroken != nil {
		m.cfg.OnBroken(10)
	}
}

func toFrame(job Job) jobFrame {
	return jobFrame{
		Algorithm: job.Algorithm,
		ABytes:    job.A.Bytes,
		AText:     job.A.Text,
		AHasText:  job.A.HasText,
		BBytes:    job.B.Bytes,
		BText:     job.B.Text,
		BHasText:  job.B.HasText,
		Options:   job.Options,
	}
}

func fromFrame(res resultFrame) (Result, error) {
	if res.Error != "" {
		return Result{}, errors.New(res.Error)
	}
	return Result{ChangeCount: res.ChangeCount, Fields: res.Fields}, nil
}
