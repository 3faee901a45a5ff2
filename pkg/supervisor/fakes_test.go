package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ardupilot-manager/pkg/clock"
	"ardupilot-manager/pkg/firmware"
	"ardupilot-manager/pkg/metrics"
	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/settings"
)

type fakeProxy struct {
	mu        sync.Mutex
	master    *model.Endpoint
	endpoints model.EndpointSet
	addErr    map[string]error
	removeErr map[string]error
	startErr  error
	restarts  int
	starts    int
	stops     int
	running   bool
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		endpoints: model.NewEndpointSet(),
		addErr:    map[string]error{},
		removeErr: map[string]error{},
	}
}

func (p *fakeProxy) SetMaster(e model.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.master = &e
}

func (p *fakeProxy) AddEndpoint(e model.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.addErr[e.Name]; err != nil {
		return err
	}
	p.endpoints.Add(e)
	return nil
}

func (p *fakeProxy) RemoveEndpoint(e model.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.removeErr[e.Name]; err != nil {
		return err
	}
	if !p.endpoints.Contains(e) {
		return errors.New("endpoint not found")
	}
	p.endpoints.Remove(e)
	return nil
}

func (p *fakeProxy) ClearEndpoints() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = model.NewEndpointSet()
}

func (p *fakeProxy) Endpoints() model.EndpointSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints.Clone()
}

func (p *fakeProxy) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	p.running = true
	return nil
}

func (p *fakeProxy) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restarts++
	return nil
}

func (p *fakeProxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProxy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.running = false
	return nil
}

func (p *fakeProxy) restartCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

type memStore struct {
	mu      sync.Mutex
	doc     *settings.Document
	saves   int
	saveErr error
}

func (s *memStore) Load() (*settings.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, settings.ErrNotFound
	}
	return s.doc.Clone(), nil
}

func (s *memStore) Save(doc *settings.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.doc = doc.Clone()
	s.saves++
	return nil
}

func (s *memStore) failSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *memStore) savedEndpoints(t *testing.T) []model.Endpoint {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	eps, err := s.doc.Endpoints()
	if err != nil {
		t.Fatalf("decode saved endpoints: %v", err)
	}
	return eps
}

type scriptedDetector struct {
	mu      sync.Mutex
	clock   clock.Clock
	results [][]model.Board
	calls   []time.Time
}

func (d *scriptedDetector) Detect() []model.Board {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, d.clock.Now())
	if len(d.results) == 0 {
		return nil
	}
	out := d.results[0]
	d.results = d.results[1:]
	return out
}

func (d *scriptedDetector) callTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.calls...)
}

type fakeProvisioner struct {
	script string
	err    error
	calls  int
}

func (p *fakeProvisioner) Download(_ context.Context, vehicle firmware.Vehicle, platform string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if vehicle != firmware.Sub || platform != "Navigator" {
		return "", errors.New("unexpected firmware request")
	}
	f, err := os.CreateTemp("", "ardusub-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(p.script); err != nil {
		return "", err
	}
	return f.Name(), nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []model.JournalEntry
}

func (j *memJournal) Record(_ context.Context, e model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) results(op string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.entries {
		if e.Op == op {
			out = append(out, e.Endpoint+":"+e.Result)
		}
	}
	return out
}

func metricValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		return total
	}
	return 0
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func endpoint(name string, port int, persistent bool) model.Endpoint {
	return model.Endpoint{
		Name:           name,
		Owner:          "test",
		ConnectionKind: model.UDPOut,
		Place:          "192.168.2.10",
		Argument:       port,
		Persistent:     persistent,
	}
}
