// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Child file descriptor numbers for the frame streams. Descriptors 0-2
// stay conventional (stdin unused, stdout/stderr captured for
// diagnostics); the request stream arrives on 3 and responses leave
// on 4. Runtimes are started with these numbers in their argv
// contract.
const (
	childRequestFD  = 3
	childResponseFD = 4
)

// processRuntime is the isolated implementation shared by every
// flavor that spawns an OS process (bwrap, seatbelt, unsandboxed).
// The flavor only decides the argv; lifecycle and pipe plumbing are
// identical.
type processRuntime struct {
	cmd      *exec.Cmd
	request  io.WriteCloser
	response io.ReadCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	killOnce sync.Once
}

// startProcessRuntime launches argv with the frame pipes on child
// descriptors 3 and 4 and stdout/stderr captured. The child is placed
// in its own process group so a forced kill takes down anything it
// spawned. budget, when positive, caps the runtime's process count
// via rlimit on platforms that support it.
func startProcessRuntime(ctx context.Context, argv []string, env []string, budget int) (*processRuntime, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	childRequestRead, hostRequestWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create request pipe: %w", err)
	}
	hostResponseRead, childResponseWrite, err := os.Pipe()
	if err != nil {
		childRequestRead.Close()
		hostRequestWrite.Close()
		return nil, fmt.Errorf("create response pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		childRequestRead.Close()
		hostRequestWrite.Close()
		hostResponseRead.Close()
		childResponseWrite.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		childRequestRead.Close()
		hostRequestWrite.Close()
		hostResponseRead.Close()
		childResponseWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite
	// ExtraFiles[0] becomes descriptor 3, ExtraFiles[1] descriptor 4.
	cmd.ExtraFiles = []*os.File{childRequestRead, childResponseWrite}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		childRequestRead.Close()
		hostRequestWrite.Close()
		hostResponseRead.Close()
		childResponseWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		stderrRead.Close()
		stderrWrite.Close()
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	// The child holds its own copies now; releasing the parent's
	// duplicates is what turns child exit into EOF on the host side.
	childRequestRead.Close()
	childResponseWrite.Close()
	stdoutWrite.Close()
	stderrWrite.Close()

	if budget > 0 {
		// Best effort: an unsupported platform or insufficient
		// privilege degrades the fork budget, not the spawn.
		applyProcessBudget(cmd.Process.Pid, budget)
	}

	return &processRuntime{
		cmd:      cmd,
		request:  hostRequestWrite,
		response: hostResponseRead,
		stdout:   stdoutRead,
		stderr:   stderrRead,
	}, nil
}

func (p *processRuntime) requestPipe() io.WriteCloser { return p.request }
func (p *processRuntime) responsePipe() io.ReadCloser { return p.response }
func (p *processRuntime) stdoutPipe() io.ReadCloser   { return p.stdout }
func (p *processRuntime) stderrPipe() io.ReadCloser   { return p.stderr }

func (p *processRuntime) pid() int {
	return p.cmd.Process.Pid
}

// terminate asks the runtime to exit. The request-stream EOF the
// handle has already sent is the primary signal; SIGTERM covers
// runtimes stuck outside their read loop.
func (p *processRuntime) terminate() error {
	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

// kill forcibly ends the runtime's process group.
func (p *processRuntime) kill() error {
	var err error
	p.killOnce.Do(func() {
		pid := p.cmd.Process.Pid
		// Negative pid addresses the whole group set up at start, so
		// grandchildren die with the runtime.
		if groupErr := unix.Kill(-pid, unix.SIGKILL); groupErr != nil {
			err = p.cmd.Process.Kill()
			if err == os.ErrProcessDone {
				err = nil
			}
		}
	})
	return err
}

func (p *processRuntime) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}
