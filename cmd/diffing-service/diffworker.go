package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/webmonitoring/diffing-service/internal/workerpool"
)

// diffWorkerCmd is the hidden entrypoint the worker pool re-execs itself
// into; it is never invoked directly by an operator.
var diffWorkerCmd = &cobra.Command{
	Use:    "__diffworker",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := workerpool.Run(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "diff worker exited: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(diffWorkerCmd)
}

// spawnWorker starts a fresh diff worker process by re-executing the
// running binary with the hidden __diffworker argument, wiring its
// stdin/stdout as length-prefixed frame pipes.
func spawnWorker() (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, nil, err
	}

	cmd := exec.Command(self, "__diffworker")
	cmd.Stderr = os.Stderr

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
