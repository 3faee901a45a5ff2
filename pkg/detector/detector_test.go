package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"ardupilot-manager/pkg/model"
)

func fakeByID(t *testing.T, names ...string) (string, string) {
	root := t.TempDir()
	devDir := filepath.Join(root, "dev")
	byID := filepath.Join(root, "by-id")
	assert.Equal(t, os.MkdirAll(devDir, 0o755), nil)
	assert.Equal(t, os.MkdirAll(byID, 0o755), nil)
	for i, name := range names {
		dev := filepath.Join(devDir, "ttyACM"+string(rune('0'+i)))
		assert.Equal(t, os.WriteFile(dev, nil, 0o644), nil)
		assert.Equal(t, os.Symlink(dev, filepath.Join(byID, name)), nil)
	}
	return byID, devDir
}

func TestDetectSerialBoards(t *testing.T) {
	byID, devDir := fakeByID(t,
		"usb-ArduPilot_Pixhawk1_1E0030-if00",
		"usb-FTDI_FT232R_USB_UART-if00-port0",
	)
	d := &Detector{SerialByIDDir: byID}
	boards := d.Detect()
	assert.Equal(t, len(boards), 1)
	assert.Equal(t, boards[0].Type, model.SerialBoard)
	resolvedDev, _ := filepath.EvalSymlinks(filepath.Join(devDir, "ttyACM0"))
	assert.Equal(t, boards[0].Location, resolvedDev)
}

func TestDetectNavigatorNeedsBothDevices(t *testing.T) {
	seen := map[uint16]bool{ads1115Address: true}
	d := &Detector{
		SerialByIDDir: filepath.Join(t.TempDir(), "missing"),
		NavigatorBus:  "/dev/i2c-test",
		Probe:         func(_ string, addr uint16) bool { return seen[addr] },
	}
	assert.Equal(t, len(d.Detect()), 0)

	seen[ak09915Address] = true
	boards := d.Detect()
	assert.Equal(t, boards, []model.Board{{Type: model.Navigator}})
}

func TestDetectBoth(t *testing.T) {
	byID, _ := fakeByID(t, "usb-Holybro_Pixhawk6C_0-if00")
	d := &Detector{
		SerialByIDDir: byID,
		NavigatorBus:  "/dev/i2c-test",
		Probe:         func(string, uint16) bool { return true },
	}
	boards := d.Detect()
	assert.Equal(t, len(boards), 2)
	assert.Equal(t, boards[0].Type, model.Navigator)
	assert.Equal(t, boards[1].Type, model.SerialBoard)
}
