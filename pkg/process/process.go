// Package process starts and stops the child programs the manager owns.
// Children run in their own process group so a stop reaches anything they
// spawned as well.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// Run executes a command to completion and includes its output in the error.
// Cancelling ctx kills the command's whole process group.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	Group(cmd)
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %v failed: %w output=%s", name, args, err, string(out))
	}
	return out, nil
}

// Group places the command in a new process group.
func Group(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Handle is a started child and a channel closed once it has been reaped.
type Handle struct {
	Cmd    *exec.Cmd
	Exited chan struct{}
	err    error
}

// Start launches cmd in its own group and reaps it in the background.
func Start(cmd *exec.Cmd) (*Handle, error) {
	Group(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &Handle{Cmd: cmd, Exited: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.Exited)
	}()
	return h, nil
}

// Err returns the wait result. Only valid after Exited is closed.
func (h *Handle) Err() error {
	return h.err
}

// Alive reports whether the child has not been reaped yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.Exited:
		return false
	default:
		return true
	}
}

// Terminate sends SIGTERM to the child's group, then SIGKILL after grace.
func (h *Handle) Terminate(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	pgid := h.Cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pgid, err)
	}
	select {
	case <-h.Exited:
		return nil
	case <-time.After(grace):
	}
	glog.Warningf("[process]pid %d ignored SIGTERM for %s; killing", pgid, grace)
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pgid, err)
	}
	<-h.Exited
	return nil
}

// LogWriter forwards each line written to it to glog with a tag.
func LogWriter(tag string) io.WriteCloser {
	pr, pw := io.Pipe()
	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			glog.Infof("[%s]%s", tag, scanner.Text())
		}
		_ = pr.Close()
	}()
	return pw
}

// IsRoot reports whether the process runs with effective uid 0.
func IsRoot() bool {
	return unix.Geteuid() == 0
}
