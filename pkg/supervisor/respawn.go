package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"ardupilot-manager/pkg/clock"
	"ardupilot-manager/pkg/process"
)

// Respawner keeps one firmware process alive, relaunching it a cooldown
// after each exit until stopped.
type Respawner struct {
	Path        string
	Args        []string
	Cooldown    time.Duration
	StopTimeout time.Duration
	Clock       clock.Clock
	// OnStart runs after every successful launch.
	OnStart func(pid int)

	mu      sync.Mutex
	current *process.Handle
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches the first process synchronously so a spawn failure is
// reported to the caller, then supervises it in the background.
func (r *Respawner) Start(ctx context.Context) error {
	if r.Clock == nil {
		r.Clock = clock.Real()
	}
	if r.StopTimeout <= 0 {
		r.StopTimeout = DefaultStopTimeout
	}
	h, err := r.launch()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()
	go r.loop(ctx, h, done)
	return nil
}

// Running reports whether a firmware process is currently alive.
func (r *Respawner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && r.current.Alive()
}

// Stop ends the respawn loop and terminates the current process.
func (r *Respawner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Respawner) launch() (*process.Handle, error) {
	cmd := exec.Command(r.Path, r.Args...)
	tag := filepath.Base(r.Path)
	stdout, stderr := process.LogWriter(tag), process.LogWriter(tag)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	h, err := process.Start(cmd)
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("spawn %s: %w", r.Path, err)
	}
	go func() {
		<-h.Exited
		_ = stdout.Close()
		_ = stderr.Close()
	}()
	r.mu.Lock()
	r.current = h
	r.mu.Unlock()
	glog.Infof("[firmware]started %s pid=%d", r.Path, cmd.Process.Pid)
	if r.OnStart != nil {
		r.OnStart(cmd.Process.Pid)
	}
	return h, nil
}

func (r *Respawner) loop(ctx context.Context, h *process.Handle, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			if err := h.Terminate(r.StopTimeout); err != nil {
				glog.Warningf("[firmware]terminate %s: %v", r.Path, err)
			}
			return
		case <-h.Exited:
			glog.Warningf("[firmware]%s exited (%v), restarting in %s", r.Path, h.Err(), r.Cooldown)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.Clock.After(r.Cooldown):
			}
			next, err := r.launch()
			if err == nil {
				h = next
				break
			}
			glog.Errorf("[firmware]%v", err)
		}
	}
}
