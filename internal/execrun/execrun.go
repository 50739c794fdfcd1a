// Package execrun fans one command out to many hosts with bounded
// concurrency and collects one result per host. Hosts never affect each
// other: a failure on one leaves the others running to completion.
package execrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/aitechnerd/sshore/internal/config"
	"github.com/aitechnerd/sshore/internal/conn"
)

// Result is the outcome for one host. Err is set when the command never ran
// (connect/auth/channel failure); ExitCode carries the remote status when
// it did.
type Result struct {
	Host     string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Ok reports whether the host ran the command and it exited zero.
func (r Result) Ok() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Runner executes commands across hosts.
type Runner struct {
	// Open establishes the per-host connection, typically
	// (*conn.Supervisor).Open.
	Open func(ctx context.Context, rec *config.HostRecord) (*conn.Client, error)

	// Concurrency bounds simultaneous host sequences. Values < 1 mean 1.
	Concurrency int
}

// Run executes command on every host and returns exactly one result per
// host, in input order. It never aborts early; ctx cancellation surfaces as
// per-host errors.
func (r *Runner) Run(ctx context.Context, command string, hosts []*config.HostRecord) []Result {
	limit := r.Concurrency
	if limit < 1 {
		limit = 1
	}

	results := make([]Result, len(hosts))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, rec := range hosts {
		wg.Add(1)
		go func(i int, rec *config.HostRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runHost(ctx, command, rec)
		}(i, rec)
	}
	wg.Wait()

	return results
}

// runHost is one independent connect→auth→execute→capture→disconnect pass.
func (r *Runner) runHost(ctx context.Context, command string, rec *config.HostRecord) Result {
	res := Result{Host: rec.Name}

	client, err := r.Open(ctx, rec)
	if err != nil {
		res.Err = err
		res.ExitCode = 1
		return res
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		res.Err = fmt.Errorf("open exec channel: %w", err)
		res.ExitCode = 1
		return res
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	err = sess.Run(command)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode, res.Err = classifyExit(err)

	log.Printf("[EXEC] %s: exit %d", rec.Name, res.ExitCode)
	return res
}

// RunStream executes command on a single host, writing output to stdout and
// stderr as it arrives instead of buffering until the command completes.
// The Result's Stdout/Stderr stay empty; the writers received everything.
func (r *Runner) RunStream(ctx context.Context, command string, rec *config.HostRecord, stdout, stderr io.Writer) Result {
	res := Result{Host: rec.Name}

	client, err := r.Open(ctx, rec)
	if err != nil {
		res.Err = err
		res.ExitCode = 1
		return res
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		res.Err = fmt.Errorf("open exec channel: %w", err)
		res.ExitCode = 1
		return res
	}
	defer sess.Close()

	sess.Stdout = stdout
	sess.Stderr = stderr

	res.ExitCode, res.Err = classifyExit(sess.Run(command))
	log.Printf("[EXEC] %s: exit %d", rec.Name, res.ExitCode)
	return res
}

// classifyExit maps a session Run error to an exit code. An error without
// an exit status reports failure, not success.
func classifyExit(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return 1, err
}

// Failed reports whether any host errored or exited non-zero. The process
// exit status follows this.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Ok() {
			return true
		}
	}
	return false
}
