package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"ardupilot-manager/pkg/clock"
	"ardupilot-manager/pkg/metrics"
	"ardupilot-manager/pkg/model"
)

const (
	navigatorScript = "#!/bin/sh\nif [ \"$1\" = \"--help\" ]; then echo usage; exit 0; fi\nexec sleep 30\n"
	brokenScript    = "#!/bin/sh\nexit 3\n"
)

type startupHarness struct {
	sup      *Supervisor
	proxy    *fakeProxy
	detector *scriptedDetector
	clock    *clock.FakeClock
	metrics  *metrics.Metrics
	firmware *fakeProvisioner
	dir      string
}

func newStartupHarness(t *testing.T, root bool, results ...[]model.Board) *startupHarness {
	t.Helper()
	clk := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := &startupHarness{
		proxy:    newFakeProxy(),
		detector: &scriptedDetector{clock: clk, results: results},
		clock:    clk,
		metrics:  metrics.New(),
		firmware: &fakeProvisioner{script: navigatorScript},
		dir:      t.TempDir(),
	}
	sup, err := New(Options{FirmwareDir: h.dir, StopTimeout: time.Second}, Deps{
		Store:    &memStore{},
		Proxy:    h.proxy,
		Detector: h.detector,
		Firmware: h.firmware,
		Metrics:  h.metrics,
		Clock:    clk,
		IsRoot:   func() bool { return root },
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	h.sup = sup
	t.Cleanup(func() { _ = sup.Shutdown(context.Background()) })
	return h
}

func TestRunRequiresRoot(t *testing.T) {
	h := newStartupHarness(t, false)
	err := h.sup.Run(context.Background())
	assert.Equal(t, errors.Is(err, ErrNotRoot), true)
	assert.Equal(t, len(h.detector.callTimes()), 0)
}

func TestRunRetriesUntilSerialBoard(t *testing.T) {
	serial := []model.Board{{Type: model.SerialBoard, Location: "/dev/ttyACM0"}}
	h := newStartupHarness(t, true, nil, nil, nil, serial)

	done := make(chan error, 1)
	go func() { done <- h.sup.Run(context.Background()) }()
	for i := 0; i < 3; i++ {
		h.clock.WaitForTimers(1)
		h.clock.Advance(DefaultDetectInterval)
	}
	select {
	case err := <-done:
		assert.Equal(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}

	calls := h.detector.callTimes()
	assert.Equal(t, len(calls), 4)
	for i := 1; i < len(calls); i++ {
		assert.Equal(t, calls[i].Sub(calls[i-1]) >= 2*time.Second, true)
	}
	assert.Equal(t, metricValue(t, h.metrics, "ardupilot_manager_board_detection_attempts_total"), float64(4))

	assert.Equal(t, *h.proxy.master, model.Endpoint{
		Name:           "Master",
		Owner:          DefaultAppName,
		ConnectionKind: model.Serial,
		Place:          "/dev/ttyACM0",
		Argument:       115200,
		Protected:      true,
	})
	assert.Equal(t, h.proxy.starts, 1)
	assert.Equal(t, h.sup.GetEndpoints().Equal(model.NewEndpointSet(DefaultEndpoints(DefaultAppName)...)), true)
	assert.Equal(t, h.sup.Status().State, StateProxyRunning)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newStartupHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()
	h.clock.WaitForTimers(1)
	cancel()
	select {
	case err := <-done:
		assert.Equal(t, errors.Is(err, context.Canceled), true)
	case <-time.After(5 * time.Second):
		t.Fatal("run ignored cancellation")
	}
	assert.Equal(t, h.proxy.starts, 0)
}

func TestStartBoardRejectsUnknownType(t *testing.T) {
	h := newStartupHarness(t, true)
	err := h.sup.StartBoard(context.Background(), []model.Board{{Type: model.BoardType(9), Location: "?"}})
	assert.Equal(t, errors.Is(err, ErrInvalidBoard), true)
	assert.Equal(t, h.proxy.starts, 0)
}

func TestStartBoardPrefersNavigator(t *testing.T) {
	h := newStartupHarness(t, true)
	boards := []model.Board{
		{Type: model.SerialBoard, Location: "/dev/ttyACM0"},
		{Type: model.Navigator},
	}
	assert.Equal(t, h.sup.StartBoard(context.Background(), boards), nil)

	st := h.sup.Status()
	assert.Equal(t, st.Board.Type, model.Navigator)
	assert.Equal(t, st.State, StateProxyRunning)
	assert.Equal(t, st.FirmwareRunning, true)
	assert.Equal(t, *st.Master, model.Endpoint{
		Name:           "Master",
		Owner:          DefaultAppName,
		ConnectionKind: model.UDPIn,
		Place:          "127.0.0.1",
		Argument:       8852,
		Protected:      true,
	})
	assert.Equal(t, h.firmware.calls, 1)
	assert.Equal(t, metricValue(t, h.metrics, "ardupilot_manager_firmware_starts_total"), float64(1))

	assert.Equal(t, h.sup.Shutdown(context.Background()), nil)
	assert.Equal(t, h.sup.Status().FirmwareRunning, false)
	assert.Equal(t, h.proxy.Running(), false)
}

func TestNavigatorUsesInstalledFirmware(t *testing.T) {
	h := newStartupHarness(t, true)
	writeScript(t, filepath.Join(h.dir, "ardusub"), navigatorScript)
	assert.Equal(t, h.sup.StartBoard(context.Background(), []model.Board{{Type: model.Navigator}}), nil)
	assert.Equal(t, h.firmware.calls, 0)
	assert.Equal(t, h.sup.navigatorArgs(), []string{
		"-A", "udp:127.0.0.1:8852",
		"--log-directory", h.dir + "/logs/",
		"--storage-directory", h.dir + "/storage/",
	})
}

func TestNavigatorSelfCheckFailure(t *testing.T) {
	h := newStartupHarness(t, true)
	writeScript(t, filepath.Join(h.dir, "ardusub"), brokenScript)
	err := h.sup.StartBoard(context.Background(), []model.Board{{Type: model.Navigator}})
	assert.Equal(t, errors.Is(err, ErrFirmware), true)
	assert.Equal(t, h.proxy.starts, 0)
	assert.Equal(t, h.sup.Status().FirmwareRunning, false)
}

func TestNavigatorDownloadFailure(t *testing.T) {
	h := newStartupHarness(t, true)
	h.firmware.err = errors.New("offline")
	err := h.sup.StartBoard(context.Background(), []model.Board{{Type: model.Navigator}})
	assert.Equal(t, errors.Is(err, ErrFirmware), true)
	assert.Equal(t, h.proxy.starts, 0)
}

func TestDefaultEndpointFailureIsNotFatal(t *testing.T) {
	h := newStartupHarness(t, true)
	h.proxy.addErr["GCS Link"] = errors.New("address in use")
	err := h.sup.StartBoard(context.Background(), []model.Board{{Type: model.SerialBoard, Location: "/dev/ttyUSB0"}})
	assert.Equal(t, err, nil)

	live := h.sup.GetEndpoints().Sorted()
	assert.Equal(t, len(live), 1)
	assert.Equal(t, live[0].Name, "MAVLink2Rest")
	assert.Equal(t, h.proxy.starts, 1)
}

func TestStartBoardAfterShutdownLeavesProxyStopped(t *testing.T) {
	h := newStartupHarness(t, true)
	assert.Equal(t, h.sup.Shutdown(context.Background()), nil)

	err := h.sup.StartBoard(context.Background(), []model.Board{{Type: model.SerialBoard, Location: "/dev/ttyACM0"}})
	assert.Equal(t, errors.Is(err, ErrStopped), true)
	assert.Equal(t, h.proxy.starts, 0)
	assert.Equal(t, h.proxy.Running(), false)
	assert.Equal(t, h.sup.Status().State == StateProxyRunning, false)

	assert.Equal(t, errors.Is(h.sup.Run(context.Background()), ErrStopped), true)
}

func TestStartBoardWithCancelledContext(t *testing.T) {
	h := newStartupHarness(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.sup.StartBoard(ctx, []model.Board{{Type: model.SerialBoard, Location: "/dev/ttyACM0"}})
	assert.Equal(t, errors.Is(err, context.Canceled), true)
	assert.Equal(t, h.proxy.starts, 0)

	writeScript(t, filepath.Join(h.dir, "ardusub"), navigatorScript)
	err = h.sup.StartBoard(ctx, []model.Board{{Type: model.Navigator}})
	assert.Equal(t, errors.Is(err, context.Canceled), true)
	assert.Equal(t, h.proxy.starts, 0)
	assert.Equal(t, h.sup.Status().FirmwareRunning, false)
}
