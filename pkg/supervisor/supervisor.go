// Package supervisor detects the flight controller, starts the matching
// firmware or serial link, and keeps the router's endpoint set, the in-memory
// configuration and the saved configuration in agreement.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"ardupilot-manager/pkg/clock"
	"ardupilot-manager/pkg/firmware"
	"ardupilot-manager/pkg/metrics"
	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/process"
	"ardupilot-manager/pkg/settings"
)

// Proxy is the MAVLink router the supervisor drives.
type Proxy interface {
	SetMaster(model.Endpoint)
	AddEndpoint(model.Endpoint) error
	RemoveEndpoint(model.Endpoint) error
	ClearEndpoints()
	Endpoints() model.EndpointSet
	Start() error
	Restart() error
	Running() bool
	Stop() error
}

// Detector lists attached boards.
type Detector interface {
	Detect() []model.Board
}

// Provisioner downloads firmware to a temporary file.
type Provisioner interface {
	Download(ctx context.Context, vehicle firmware.Vehicle, platform string) (string, error)
}

// Journal records endpoint mutation outcomes.
type Journal interface {
	Record(ctx context.Context, e model.JournalEntry) error
}

// Deps are the collaborators a Supervisor owns. Journal, Metrics, Clock and
// IsRoot are optional.
type Deps struct {
	Store    settings.Store
	Proxy    Proxy
	Detector Detector
	Firmware Provisioner
	Journal  Journal
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	IsRoot   func() bool
}

// State is the startup state machine position.
type State string

const (
	StateIdle          State = "idle"
	StateDetecting     State = "detecting"
	StateBoardFound    State = "board-found"
	StateNavigatorFlow State = "navigator"
	StateSerialFlow    State = "serial"
	StateProxyRunning  State = "proxy-running"
)

// Status is a point-in-time view for the API.
type Status struct {
	State           State           `json:"state"`
	Board           *model.Board    `json:"board,omitempty"`
	Master          *model.Endpoint `json:"master,omitempty"`
	ProxyRunning    bool            `json:"proxyRunning"`
	FirmwareRunning bool            `json:"firmwareRunning"`
}

// Supervisor is constructed once per process and shared with the API.
type Supervisor struct {
	opts     Options
	store    settings.Store
	proxy    Proxy
	detector Detector
	firmware Provisioner
	journal  Journal
	metrics  *metrics.Metrics
	clock    clock.Clock
	isRoot   func() bool

	// mu serializes endpoint mutations and guards configuration and stopped.
	mu            sync.Mutex
	configuration *settings.Document
	stopped       bool
	live          atomic.Pointer[model.EndpointSet]

	runMu     sync.Mutex
	state     State
	board     *model.Board
	master    *model.Endpoint
	runner    *Respawner
	cancelRun context.CancelFunc

	subsMu  sync.Mutex
	subs    map[int]chan model.EndpointSet
	nextSub int
}

// New loads (or creates) the configuration and registers the saved
// endpoints with the proxy.
func New(opts Options, deps Deps) (*Supervisor, error) {
	if deps.Store == nil || deps.Proxy == nil || deps.Detector == nil {
		return nil, errors.New("supervisor needs a settings store, a proxy and a detector")
	}
	s := &Supervisor{
		opts:     opts.withDefaults(),
		store:    deps.Store,
		proxy:    deps.Proxy,
		detector: deps.Detector,
		firmware: deps.Firmware,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		isRoot:   deps.IsRoot,
		state:    StateIdle,
		subs:     map[int]chan model.EndpointSet{},
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.isRoot == nil {
		s.isRoot = process.IsRoot
	}

	doc, created, err := settings.LoadOrCreate(s.store)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if created {
		glog.Infof("[supervisor]created default settings")
	} else {
		glog.Infof("[supervisor]loaded settings")
	}
	s.configuration = doc.Clone()
	if err := s.LoadEndpointsFromConfiguration(); err != nil {
		glog.Errorf("[supervisor]could not load endpoints from settings: %v", err)
	}
	return s, nil
}

// LoadEndpointsFromConfiguration registers every saved endpoint with the
// proxy. Endpoints the proxy refuses are logged and skipped.
func (s *Supervisor) LoadEndpointsFromConfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishLocked()

	endpoints, err := s.configuration.Endpoints()
	if err != nil {
		return err
	}
	for _, e := range model.NewEndpointSet(endpoints...).Sorted() {
		if err := s.proxy.AddEndpoint(e); err != nil {
			glog.Errorf("[supervisor]could not load endpoint %s: %v", e, err)
			s.record("load", e.Name, err)
		}
	}
	return nil
}

// Restart restarts the proxy so it picks up the current endpoint set.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxy.Restart()
}

// Status reports the startup state and process liveness.
func (s *Supervisor) Status() Status {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	st := Status{
		State:        s.state,
		Board:        s.board,
		Master:       s.master,
		ProxyRunning: s.proxy.Running(),
	}
	if s.runner != nil {
		st.FirmwareRunning = s.runner.Running()
	}
	return st
}

func (s *Supervisor) setState(st State) {
	s.runMu.Lock()
	s.state = st
	s.runMu.Unlock()
	glog.Infof("[supervisor]state %s", st)
}

// Shutdown stops the detection loop, the firmware respawn loop and the
// proxy. It waits for the owned children to exit. A startup still in
// flight will not start the proxy afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	cancel := s.cancelRun
	runner := s.runner
	s.cancelRun = nil
	s.runner = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if runner != nil {
		if err := runner.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop firmware: %w", err))
		}
	}
	s.mu.Lock()
	s.stopped = true
	err := s.proxy.Stop()
	s.mu.Unlock()
	if err != nil {
		errs = append(errs, fmt.Errorf("stop proxy: %w", err))
	}
	s.metrics.ProxyRunning.Set(0)
	return errors.Join(errs...)
}

// Subscribe returns a channel receiving the live endpoint set after every
// change. Slow readers only see the latest set.
func (s *Supervisor) Subscribe() (<-chan model.EndpointSet, func()) {
	ch := make(chan model.EndpointSet, 1)
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// publishLocked snapshots the proxy's set for lock-free readers and
// notifies subscribers. Callers hold s.mu.
func (s *Supervisor) publishLocked() {
	current := s.proxy.Endpoints()
	previous := s.live.Swap(&current)
	s.metrics.LiveEndpoints.Set(float64(len(current)))
	if previous != nil && previous.Equal(current) {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- current.Clone()
	}
}

func (s *Supervisor) record(op, endpoint string, err error) {
	if s.journal == nil {
		return
	}
	entry := model.JournalEntry{Op: op, Endpoint: endpoint, Result: "ok", Timestamp: time.Now()}
	if err != nil {
		entry.Result = "failed"
		entry.Detail = err.Error()
	}
	if jerr := s.journal.Record(context.Background(), entry); jerr != nil {
		glog.Errorf("[supervisor]journal %s %s: %v", op, endpoint, jerr)
	}
}
