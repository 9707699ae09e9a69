package workerpool

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ErrPoolCorrupted is returned internally whenever a worker process fails in
// a way that indicates the pool itself, not just one job, is unusable: a
// broken pipe, an unexpected process exit, or a malformed frame. Submit
// treats this (and only this) as grounds for a cooperative rebuild.
var ErrPoolCorrupted = errors.New("diff worker pool is corrupted")

// workerProc is one OS-process worker and the pipes used to talk to it.
// Jobs are serialized per-process (one in flight at a time); the pool
// provides concurrency by running several processes side by side.
type workerProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	mu     sync.Mutex
}

func startWorkerProc(spawn SpawnFunc) (*workerProc, error) {
	cmd, stdin, stdout, err := spawn()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &workerProc{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (w *workerProc) submit(job jobFrame) (resultFrame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeFrame(w.stdin, job); err != nil {
		return resultFrame{}, ErrPoolCorrupted
	}
	var res resultFrame
	if err := readFrame(w.stdout, &res); err != nil {
		return resultFrame{}, ErrPoolCorrupted
	}
	return res, nil
}

func (w *workerProc) close() error {
	var result *multierror.Error
	if err := w.stdin.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.cmd.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// workerPool is one generation of N worker processes, round-robined via a
// buffered channel of free slots — the channel's capacity is the implicit
// back-pressure: diff concurrency is bounded by worker count.
type workerPool struct {
	workers []*workerProc
	slots   chan int
}

// newWorkerPool starts all n workers, continuing past an individual spawn
// failure so that one slow or broken process doesn't hide failures in the
// others. Any failures are aggregated and the pool is rejected as a whole if
// even one worker didn't come up.
func newWorkerPool(n int, spawn SpawnFunc) (*workerPool, error) {
	workers := make([]*workerProc, 0, n)
	var startErr *multierror.Error
	for i := 0; i < n; i++ {
		w, err := startWorkerProc(spawn)
		if err != nil {
			startErr = multierror.Append(startErr, err)
			continue
		}
		workers = append(workers, w)
	}
	if startErr.ErrorOrNil() != nil {
		for _, started := range workers {
			_ = started.close()
		}
		return nil, startErr.ErrorOrNil()
	}

	slots := make(chan int, n)
	for i := range workers {
		slots <- i
	}
	return &workerPool{workers: workers, slots: slots}, nil
}

func (p *workerPool) run(ctx context.Context, job jobFrame) (resultFrame, error) {
	select {
	case idx := <-p.slots:
		defer func() { p.slots <- idx }()
		return p.workers[idx].submit(job)
	case <-ctx.Done():
		return resultFrame{}, ctx.Err()
	}
}

// close shuts down every worker process and returns their aggregated
// shutdown errors, if any.
func (p *workerPool) close() error {
	var result *multierror.Error
	for _, w := range p.workers {
		if err := w.close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
