package supervisor

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/samber/lo"

	"ardupilot-manager/pkg/model"
)

// GetEndpoints returns the live endpoint set. It never blocks on a mutation
// in progress and never observes one half applied.
func (s *Supervisor) GetEndpoints() model.EndpointSet {
	p := s.live.Load()
	if p == nil {
		return model.NewEndpointSet()
	}
	return p.Clone()
}

// AddEndpoints registers every endpoint of set with the proxy, saves the
// persistent subset and restarts the proxy. Either all endpoints are added
// and saved or the live set is left as it was.
func (s *Supervisor) AddEndpoints(set model.EndpointSet) error {
	if len(set) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := s.proxy.Endpoints()
	for _, e := range set.Sorted() {
		if err := s.proxy.AddEndpoint(e); err != nil {
			glog.Errorf("[supervisor]failed to add endpoint %s: %v", e, err)
			s.resetLocked(loaded)
			s.finish("add", set, err)
			return &EndpointError{Op: "add", Endpoint: e.Name, Err: err}
		}
		glog.Infof("[supervisor]adding endpoint %q and saving it to the settings", e.Name)
	}
	err := s.commitLocked(loaded)
	s.finish("add", set, err)
	return err
}

// RemoveEndpoints unregisters every endpoint of set. Requests naming a
// protected endpoint are rejected before anything changes.
func (s *Supervisor) RemoveEndpoints(set model.EndpointSet) error {
	if len(set) == 0 {
		return nil
	}
	protected := lo.Filter(set.Sorted(), func(e model.Endpoint, _ int) bool { return e.Protected })
	if len(protected) > 0 {
		names := lo.Map(protected, func(e model.Endpoint, _ int) string { return e.Name })
		err := fmt.Errorf("%w: %s", ErrProtectedEndpoint, strings.Join(names, ", "))
		s.finish("remove", set, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := s.proxy.Endpoints()
	for _, e := range set.Sorted() {
		if err := s.proxy.RemoveEndpoint(e); err != nil {
			glog.Errorf("[supervisor]failed to remove endpoint %s: %v", e, err)
			s.resetLocked(loaded)
			s.finish("remove", set, err)
			return &EndpointError{Op: "remove", Endpoint: e.Name, Err: err}
		}
		glog.Infof("[supervisor]deleting endpoint %q and removing it from the settings", e.Name)
	}
	err := s.commitLocked(loaded)
	s.finish("remove", set, err)
	return err
}

// commitLocked saves the persistent part of the proxy's set and restarts
// the proxy. A failed save resets the proxy to loaded and leaves the
// in-memory configuration untouched.
func (s *Supervisor) commitLocked(loaded model.EndpointSet) error {
	current := s.proxy.Endpoints()
	persistent := lo.Filter(current.Sorted(), func(e model.Endpoint, _ int) bool { return e.Persistent })

	next := s.configuration.Clone()
	if err := next.SetEndpoints(model.NewEndpointSet(persistent...)); err != nil {
		s.resetLocked(loaded)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if err := s.store.Save(next); err != nil {
		glog.Errorf("[supervisor]failed to save settings, reverting endpoints: %v", err)
		s.resetLocked(loaded)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.configuration = next
	s.publishLocked()

	if err := s.proxy.Restart(); err != nil {
		glog.Errorf("[supervisor]failed to restart router after endpoint update: %v", err)
	}
	return nil
}

// resetLocked clears the proxy and re-adds snapshot. Failures are only logged.
func (s *Supervisor) resetLocked(snapshot model.EndpointSet) {
	s.metrics.Rollbacks.Inc()
	s.record("rollback", "", nil)
	s.proxy.ClearEndpoints()
	for _, e := range snapshot.Sorted() {
		if err := s.proxy.AddEndpoint(e); err != nil {
			glog.Errorf("[supervisor]could not restore endpoint %s: %v", e, err)
		}
	}
	s.publishLocked()
}

func (s *Supervisor) finish(op string, set model.EndpointSet, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	s.metrics.Mutations.WithLabelValues(op, result).Inc()
	for _, e := range set.Sorted() {
		s.record(op, e.Name, err)
	}
}
