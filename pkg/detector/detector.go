// Package detector finds flight controller boards attached to the host.
package detector

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"ardupilot-manager/pkg/model"
)

const (
	DefaultSerialByIDDir = "/dev/serial/by-id"
	DefaultNavigatorBus  = "/dev/i2c-1"

	// I2C_SLAVE from linux/i2c-dev.h.
	i2cSlave = 0x0703

	ads1115Address = 0x48
	ak09915Address = 0x0C
)

// serialVendors are fragments of USB descriptor names used by autopilot boards.
var serialVendors = []string{
	"ArduPilot",
	"Pixhawk",
	"PX4",
	"3D_Robotics",
	"Hex_ProfiCNC",
	"CubePilot",
	"Holybro",
	"mRo",
	"CUAV",
	"MatekSys",
}

// Detector looks for a Navigator HAT on I2C and USB serial autopilots.
type Detector struct {
	SerialByIDDir string
	NavigatorBus  string
	// Probe reports whether a device answers at addr on bus.
	Probe func(bus string, addr uint16) bool
}

func New() *Detector {
	return &Detector{
		SerialByIDDir: DefaultSerialByIDDir,
		NavigatorBus:  DefaultNavigatorBus,
		Probe:         probeI2C,
	}
}

// Detect returns every board found. Order is Navigator first, then serial
// devices by path, but callers must not rely on it.
func (d *Detector) Detect() []model.Board {
	var boards []model.Board
	if d.navigatorPresent() {
		boards = append(boards, model.Board{Type: model.Navigator})
	}
	for _, dev := range d.serialDevices() {
		boards = append(boards, model.Board{Type: model.SerialBoard, Location: dev})
	}
	return boards
}

// navigatorPresent checks for the ADC and magnetometer soldered on the HAT.
func (d *Detector) navigatorPresent() bool {
	if d.Probe == nil || d.NavigatorBus == "" {
		return false
	}
	return d.Probe(d.NavigatorBus, ads1115Address) && d.Probe(d.NavigatorBus, ak09915Address)
}

func (d *Detector) serialDevices() []string {
	entries, err := os.ReadDir(d.SerialByIDDir)
	if err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("[detector]read %s: %v", d.SerialByIDDir, err)
		}
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, entry := range entries {
		if !isAutopilot(entry.Name()) {
			continue
		}
		link := filepath.Join(d.SerialByIDDir, entry.Name())
		dev, err := filepath.EvalSymlinks(link)
		if err != nil {
			glog.Warningf("[detector]resolve %s: %v", link, err)
			continue
		}
		if seen[dev] {
			continue
		}
		seen[dev] = true
		out = append(out, dev)
	}
	sort.Strings(out)
	return out
}

func isAutopilot(name string) bool {
	lower := strings.ToLower(name)
	for _, v := range serialVendors {
		if strings.Contains(lower, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func probeI2C(bus string, addr uint16) bool {
	fd, err := unix.Open(bus, unix.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	if err := unix.IoctlSetInt(fd, i2cSlave, int(addr)); err != nil {
		return false
	}
	buf := make([]byte, 1)
	n, err := unix.Read(fd, buf)
	return err == nil && n == 1
}
