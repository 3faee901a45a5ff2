package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/golang/glog"

	"ardupilot-manager/pkg/firmware"
	"ardupilot-manager/pkg/model"
	"ardupilot-manager/pkg/process"
)

const navigatorFirmware = "ardusub"

// Run checks privileges, waits for a board and starts the flow matching the
// highest priority one. It returns once the proxy is running, or with the
// error that ended startup. Cancelling ctx stops detection and, later, the
// firmware respawn loop.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.opts.SkipRootCheck && !s.isRoot() {
		return ErrNotRoot
	}

	if s.isStopped() {
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.cancelRun = cancel
	s.runMu.Unlock()

	s.setState(StateDetecting)
	for {
		s.metrics.DetectionAttempts.Inc()
		boards := s.detector.Detect()
		if len(boards) > 0 {
			return s.StartBoard(ctx, boards)
		}
		glog.Warningf("[supervisor]flight controller board not detected, will try again in %s", s.opts.DetectInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.opts.DetectInterval):
		}
	}
}

// StartBoard starts the highest priority board of boards.
func (s *Supervisor) StartBoard(ctx context.Context, boards []model.Board) error {
	if len(boards) == 0 {
		return errors.New("no boards to start")
	}
	boards = slices.Clone(boards)
	model.SortByPriority(boards)
	if len(boards) > 1 {
		glog.Warningf("[supervisor]more than a single board detected: %v", boards)
	}
	board := boards[0]
	glog.Infof("[supervisor]board in use: %s", board)

	s.runMu.Lock()
	s.board = &board
	s.runMu.Unlock()
	s.setState(StateBoardFound)

	switch board.Type {
	case model.Navigator:
		s.setState(StateNavigatorFlow)
		return s.startNavigator(ctx)
	case model.SerialBoard:
		s.setState(StateSerialFlow)
		return s.startSerial(ctx, board.Location)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBoard, board)
	}
}

func (s *Supervisor) startSerial(ctx context.Context, device string) error {
	master := model.Endpoint{
		Name:           "Master",
		Owner:          s.opts.AppName,
		ConnectionKind: model.Serial,
		Place:          device,
		Argument:       s.opts.SerialBaud,
		Protected:      true,
	}
	return s.startProxy(ctx, master)
}

func (s *Supervisor) startNavigator(ctx context.Context) error {
	if err := s.startCheck(ctx); err != nil {
		return err
	}
	binary := filepath.Join(s.opts.FirmwareDir, navigatorFirmware)
	if err := s.ensureFirmware(ctx, binary); err != nil {
		return fmt.Errorf("%w: %v", ErrFirmware, err)
	}
	if err := s.selfCheck(ctx, binary); err != nil {
		return fmt.Errorf("%w: %v", ErrFirmware, err)
	}

	master := model.Endpoint{
		Name:           "Master",
		Owner:          s.opts.AppName,
		ConnectionKind: model.UDPIn,
		Place:          s.opts.MasterAddress,
		Argument:       s.opts.MasterPort,
		Protected:      true,
	}
	runner := &Respawner{
		Path:        binary,
		Args:        s.navigatorArgs(),
		Cooldown:    s.opts.RespawnCooldown,
		StopTimeout: s.opts.StopTimeout,
		Clock:       s.clock,
		OnStart:     func(int) { s.metrics.FirmwareStarts.Inc() },
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrFirmware, err)
	}
	s.runMu.Lock()
	s.runner = runner
	s.runMu.Unlock()
	if err := s.startCheck(ctx); err != nil {
		s.stopRunner(runner)
		return err
	}
	return s.startProxy(ctx, master)
}

func (s *Supervisor) navigatorArgs() []string {
	return []string{
		"-A", "udp:" + s.opts.MasterAddress + ":" + strconv.Itoa(s.opts.MasterPort),
		"--log-directory", filepath.Join(s.opts.FirmwareDir, "logs") + "/",
		"--storage-directory", filepath.Join(s.opts.FirmwareDir, "storage") + "/",
	}
}

// ensureFirmware downloads and installs the Navigator firmware unless it is
// already in place.
func (s *Supervisor) ensureFirmware(ctx context.Context, binary string) error {
	if _, err := os.Stat(binary); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat firmware: %w", err)
	}
	if s.firmware == nil {
		return fmt.Errorf("firmware %s missing and no downloader configured", binary)
	}
	glog.Infof("[supervisor]navigator firmware not found, downloading")
	file, err := s.firmware.Download(ctx, firmware.Sub, "Navigator")
	if err != nil {
		return fmt.Errorf("download navigator firmware: %w", err)
	}
	return firmware.Install(file, binary)
}

// selfCheck runs the firmware with --help to prove it executes on this
// machine before it is handed to the respawn loop.
func (s *Supervisor) selfCheck(ctx context.Context, binary string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SelfCheckTimeout)
	defer cancel()
	if _, err := process.Run(ctx, binary, "--help"); err != nil {
		return fmt.Errorf("firmware self-check: %w", err)
	}
	return nil
}

// startProxy adds the default endpoints one by one, installs the master
// and starts the router.
func (s *Supervisor) startProxy(ctx context.Context, master model.Endpoint) error {
	for _, e := range s.opts.DefaultEndpoints {
		if err := s.AddEndpoints(model.NewEndpointSet(e)); err != nil {
			glog.Errorf("[supervisor]could not add default endpoint %q: %v", e.Name, err)
		}
	}

	s.mu.Lock()
	if err := s.startCheckLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	s.proxy.SetMaster(master)
	s.publishLocked()
	err := s.proxy.Start()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	s.runMu.Lock()
	s.master = &master
	s.runMu.Unlock()
	s.metrics.ProxyRunning.Set(1)
	s.setState(StateProxyRunning)
	return nil
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Supervisor) startCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCheckLocked(ctx)
}

// startCheckLocked refuses to start children once shutdown has begun.
func (s *Supervisor) startCheckLocked(ctx context.Context) error {
	if s.stopped {
		return ErrStopped
	}
	return ctx.Err()
}

func (s *Supervisor) stopRunner(runner *Respawner) {
	s.runMu.Lock()
	if s.runner == runner {
		s.runner = nil
	}
	s.runMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout+time.Second)
	defer cancel()
	if err := runner.Stop(ctx); err != nil {
		glog.Errorf("[supervisor]stop firmware: %v", err)
	}
}
