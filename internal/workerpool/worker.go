package workerpool

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/webmonitoring/diffing-service/internal/algorithms"
	"github.com/webmonitoring/diffing-service/internal/decode"
)

// Run is the worker process's main loop: read one job frame, execute it,
// write one result frame, repeat until stdin closes. It is invoked from the
// re-exec'd "__diffworker" subcommand, never directly by the server.
//
// Diff algorithms are treated as untrusted code that may panic or corrupt
// process state; a panic here is caught and reported as a
// failed job rather than being allowed to kill the worker process outright,
// but the pool above still treats an unexpected process exit (e.g. a true
// segfault-equivalent) as pool corruption and rebuilds.
func Run(stdin io.Reader, stdout io.Writer) error {
	for {
		var job jobFrame
		if err := readFrame(stdin, &job); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		result := executeJob(job)
		if err := writeFrame(stdout, result); err != nil {
			return err
		}
	}
}

func executeJob(job jobFrame) (result resultFrame) {
	defer func() {
		if r := recover(); r != nil {
			result = resultFrame{Error: fmt.Sprintf("panic in diff worker: %v\n%s", r, debug.Stack())}
		}
	}()

	descriptor, ok := algorithms.Get(job.Algorithm)
	if !ok {
		return resultFrame{Error: "unknown algorithm: " + job.Algorithm}
	}

	a := decode.DecodedBody{Bytes: job.ABytes, Text: job.AText, HasText: job.AHasText}
	b := decode.DecodedBody{Bytes: job.BBytes, Text: job.BText, HasText: job.BHasText}

	out, err := descriptor.Run(a, b, job.Options)
	if err != nil {
		return resultFrame{Error: err.Error()}
	}
	return resultFrame{ChangeCount: out.ChangeCount, Fields: out.Fields}
}
