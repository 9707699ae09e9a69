package workerpool

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets this test binary re-exec itself as a worker process: a
// real diff worker is just "a process that runs Run(os.Stdin, os.Stdout)",
// so the test binary itself can play that role under a flag, without
// depending on the cmd/diffing-service binary.
func TestMain(m *testing.M) {
	if os.Getenv("WORKERPOOL_TEST_HELPER") == "1" {
		if err := Run(os.Stdin, os.Stdout); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func realProcessSpawner(t *testing.T) SpawnFunc {
	self, err := os.Executable()
	require.NoError(t, err)

	return func() (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
		cmd := exec.Command(self, "-test.run=TestMainHelperIsUnused")
		cmd.Env = append(os.Environ(), "WORKERPOOL_TEST_HELPER=1")
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

// crashingSpawner starts a process that exits immediately, simulating a
// worker whose pipe breaks before it ever answers.
func crashingSpawner() SpawnFunc {
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

func TestManagerSubmitRunsJobOnRealWorker(t *testing.T) {
	m, err := New(Config{WorkerCount: 2, Spawn: realProcessSpawner(t)})
	require.NoError(t, err)

	res, err := m.Submit(context.Background(), Job{
		Algorithm: "identical_bytes",
		A:         Body{Bytes: []byte("x")},
		B:         Body{Bytes: []byte("y")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChangeCount)
}

func TestManagerRebuildsOnceAfterCorruption(t *testing.T) {
	m, err := New(Config{WorkerCount: 1, Spawn: realProcessSpawner(t)})
	require.NoError(t, err)

	// Kill the live worker process out from under the pool to simulate
	// a corrupted pipe, then confirm the next Submit transparently
	// rebuilds and still succeeds.
	p := m.current.Load()
	for _, w := range p.workers {
		_ = w.cmd.Process.Kill()
	}

	res, err := m.Submit(context.Background(), Job{
		Algorithm: "length",
		A:         Body{Bytes: []byte("aa")},
		B:         Body{Bytes: []byte("a")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChangeCount)
	assert.False(t, m.broken.Load())
	assert.Equal(t, uint64(1), m.gen.Load())
}

func TestConcurrentSubmitsShareOneRebuild(t *testing.T) {
	m, err := New(Config{WorkerCount: 2, Spawn: realProcessSpawner(t)})
	require.NoError(t, err)

	p := m.current.Load()
	for _, w := range p.workers {
		_ = w.cmd.Process.Kill()
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Submit(context.Background(), Job{
				Algorithm: "length",
				A:         Body{Bytes: []byte("aa")},
				B:         Body{Bytes: []byte("a")},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "submission %d", i)
	}
	assert.False(t, m.broken.Load())
	assert.Equal(t, uint64(1), m.gen.Load())
}

func TestManagerMarksBrokenAfterRepeatedCorruption(t *testing.T) {
	var shutdownCode int
	m, err := New(Config{
		WorkerCount: 1,
		Spawn:       crashingSpawner(),
		OnBroken:    func(code int) { shutdownCode = code },
	})
	// crashingSpawner's workers exit immediately, so even the first
	// generation may fail to start; either is an acceptable outcome here,
	// but if it did start, prove that submitting now marks it broken.
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.Submit(ctx, Job{Algorithm: "length", A: Body{Bytes: []byte("a")}, B: Body{Bytes: []byte("b")}})
	require.Error(t, err)
	assert.True(t, m.broken.Load())
	assert.Equal(t, 10, shutdownCode)
}

func TestManagerRestartOnBrokenSuppressesShutdownHook(t *testing.T) {
	called := false
	m, err := New(Config{
		WorkerCount:     1,
		Spawn:           crashingSpawner(),
		RestartOnBroken: true,
		OnBroken:        func(int) { called = true },
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = m.Submit(ctx, Job{Algorithm: "length", A: Body{Bytes: []byte("a")}, B: Body{Bytes: []byte("b")}})
	assert.True(t, m.broken.Load())
	assert.False(t, called)
}
