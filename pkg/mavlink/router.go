// Package mavlink drives the mavlink-routerd process that fans MAVLink traffic
// from the autopilot out to the registered endpoints.
package mavlink

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/process"
)

var (
	ErrDuplicateName    = errors.New("endpoint name already registered")
	ErrAddressInUse     = errors.New("endpoint address already registered")
	ErrMasterConflict   = errors.New("endpoint conflicts with the master link")
	ErrEndpointNotFound = errors.New("endpoint not registered")
	ErrNoMaster         = errors.New("master endpoint not set")
)

const DefaultBinary = "mavlink-routerd"

// Router keeps the desired endpoint set in memory and applies it by
// (re)starting mavlink-routerd with a rendered configuration file.
type Router struct {
	Binary      string
	ConfigPath  string
	StopTimeout time.Duration

	mu        sync.Mutex
	master    *model.Endpoint
	endpoints model.EndpointSet
	proc      *process.Handle
}

func NewRouter(binary, configPath string) *Router {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Router{
		Binary:      binary,
		ConfigPath:  configPath,
		StopTimeout: 5 * time.Second,
		endpoints:   model.NewEndpointSet(),
	}
}

// SetMaster sets the link to the autopilot. It takes effect on the next start.
// Endpoints registered earlier that clash with the master are dropped.
func (r *Router) SetMaster(e model.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.master = &e
	for existing := range r.endpoints {
		if conflictsWithMaster(e, existing) {
			glog.Warningf("[router]dropping endpoint %s: %v", existing, ErrMasterConflict)
			r.endpoints.Remove(existing)
		}
	}
}

// AddEndpoint registers e. Registering an identical endpoint again is a no-op.
func (r *Router) AddEndpoint(e model.Endpoint) error {
	if err := e.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endpoints.Contains(e) {
		return nil
	}
	if r.master != nil && conflictsWithMaster(*r.master, e) {
		return fmt.Errorf("%w: %s", ErrMasterConflict, e)
	}
	for existing := range r.endpoints {
		if existing.Name == e.Name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		if sameAddress(existing, e) && e.ConnectionKind != model.UDPOut {
			return fmt.Errorf("%w: %s used by %q", ErrAddressInUse, e.Address(), existing.Name)
		}
	}
	r.endpoints.Add(e)
	return nil
}

func (r *Router) RemoveEndpoint(e model.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.endpoints.Contains(e) {
		return fmt.Errorf("%w: %s", ErrEndpointNotFound, e)
	}
	r.endpoints.Remove(e)
	return nil
}

func (r *Router) ClearEndpoints() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = model.NewEndpointSet()
}

// Endpoints returns a copy of the registered set, master excluded.
func (r *Router) Endpoints() model.EndpointSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints.Clone()
}

func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc != nil && r.proc.Alive()
}

// Start writes the configuration and launches mavlink-routerd.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked()
}

// Restart re-applies the endpoint set. Before a master is known there is no
// process to restart and the set is applied by the first Start.
func (r *Router) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.master == nil {
		return nil
	}
	if err := r.stopLocked(); err != nil {
		return err
	}
	return r.startLocked()
}

func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Router) startLocked() error {
	if r.master == nil {
		return ErrNoMaster
	}
	if r.proc != nil && r.proc.Alive() {
		return nil
	}
	conf := RenderConfig(*r.master, r.endpoints.Sorted())
	if err := os.MkdirAll(filepath.Dir(r.ConfigPath), 0o755); err != nil {
		return fmt.Errorf("mkdir router config dir: %w", err)
	}
	if err := os.WriteFile(r.ConfigPath, []byte(conf), 0o644); err != nil {
		return fmt.Errorf("write router config: %w", err)
	}
	cmd := exec.Command(r.Binary, "-c", r.ConfigPath)
	cmd.Stdout = process.LogWriter("router")
	cmd.Stderr = cmd.Stdout
	proc, err := process.Start(cmd)
	if err != nil {
		return fmt.Errorf("start %s: %w", r.Binary, err)
	}
	r.proc = proc
	glog.Infof("[router]started %s pid=%d master=%s endpoints=%d", r.Binary, cmd.Process.Pid, r.master, len(r.endpoints))
	go func() {
		<-proc.Exited
		glog.Infof("[router]%s pid=%d exited: %v", r.Binary, cmd.Process.Pid, proc.Err())
	}()
	return nil
}

func (r *Router) stopLocked() error {
	if r.proc == nil {
		return nil
	}
	proc := r.proc
	r.proc = nil
	if err := proc.Terminate(r.StopTimeout); err != nil {
		return fmt.Errorf("stop %s: %w", r.Binary, err)
	}
	if c, ok := proc.Cmd.Stdout.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return nil
}

func conflictsWithMaster(master, e model.Endpoint) bool {
	return master.Name == e.Name || sameAddress(master, e)
}

// sameAddress reports whether two endpoints would claim the same local or
// remote address.
func sameAddress(a, b model.Endpoint) bool {
	return a.ConnectionKind == b.ConnectionKind && a.Place == b.Place && a.Argument == b.Argument
}
