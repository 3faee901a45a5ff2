package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"ardupilot-manager/pkg/clock"
)

func waitStart(t *testing.T, starts <-chan int) int {
	t.Helper()
	select {
	case pid := <-starts:
		return pid
	case <-time.After(5 * time.Second):
		t.Fatal("firmware was not started")
		return 0
	}
}

func TestRespawnerRestartsAfterCooldown(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "ardusub")
	writeScript(t, bin, "#!/bin/sh\nexit 0\n")
	clk := clock.Fake(time.Unix(0, 0))
	starts := make(chan int, 4)
	r := &Respawner{
		Path:     bin,
		Cooldown: time.Second,
		Clock:    clk,
		OnStart:  func(pid int) { starts <- pid },
	}
	assert.Equal(t, r.Start(context.Background()), nil)
	first := waitStart(t, starts)

	clk.WaitForTimers(1)
	select {
	case <-starts:
		t.Fatal("respawned before the cooldown elapsed")
	default:
	}
	clk.Advance(time.Second)
	second := waitStart(t, starts)
	assert.NotEqual(t, first, second)

	assert.Equal(t, r.Stop(context.Background()), nil)
}

func TestRespawnerStopTerminatesChild(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "ardusub")
	writeScript(t, bin, "#!/bin/sh\nexec sleep 30\n")
	r := &Respawner{Path: bin, Cooldown: time.Second, StopTimeout: time.Second, Clock: clock.Fake(time.Unix(0, 0))}
	assert.Equal(t, r.Start(context.Background()), nil)
	assert.Equal(t, r.Running(), true)

	assert.Equal(t, r.Stop(context.Background()), nil)
	assert.Equal(t, r.Running(), false)
}

func TestRespawnerReportsSpawnFailure(t *testing.T) {
	r := &Respawner{Path: filepath.Join(t.TempDir(), "missing")}
	assert.NotEqual(t, r.Start(context.Background()), nil)
	assert.Equal(t, r.Stop(context.Background()), nil)
}
