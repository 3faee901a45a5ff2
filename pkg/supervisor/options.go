package supervisor

import (
	"time"

	"ardupilot-manager/pkg/model"
)

// Options tunes the startup flows. Zero fields take the defaults below.
type Options struct {
	// AppName owns the default endpoints and the master.
	AppName          string
	FirmwareDir      string
	DetectInterval   time.Duration
	RespawnCooldown  time.Duration
	SelfCheckTimeout time.Duration
	StopTimeout      time.Duration
	MasterAddress    string
	MasterPort       int
	SerialBaud       int
	SkipRootCheck    bool
	// DefaultEndpoints are added at startup. Nil means DefaultEndpoints(AppName).
	DefaultEndpoints []model.Endpoint
}

const (
	DefaultAppName          = "ardupilot-manager"
	DefaultFirmwareDir      = "/root/ardupilot-manager/firmware"
	DefaultDetectInterval   = 2 * time.Second
	DefaultRespawnCooldown  = time.Second
	DefaultSelfCheckTimeout = 30 * time.Second
	DefaultStopTimeout      = 5 * time.Second
	DefaultMasterAddress    = "127.0.0.1"
	DefaultMasterPort       = 8852
	DefaultSerialBaud       = 115200
)

// DefaultEndpoints are the GCS link and the MAVLink2Rest feed.
func DefaultEndpoints(owner string) []model.Endpoint {
	return []model.Endpoint{
		{
			Name:           "GCS Link",
			Owner:          owner,
			ConnectionKind: model.UDPOut,
			Place:          "192.168.2.1",
			Argument:       14550,
			Protected:      true,
		},
		{
			Name:           "MAVLink2Rest",
			Owner:          owner,
			ConnectionKind: model.UDPOut,
			Place:          "127.0.0.1",
			Argument:       14000,
			Protected:      true,
		},
	}
}

func (o Options) withDefaults() Options {
	if o.AppName == "" {
		o.AppName = DefaultAppName
	}
	if o.FirmwareDir == "" {
		o.FirmwareDir = DefaultFirmwareDir
	}
	if o.DetectInterval <= 0 {
		o.DetectInterval = DefaultDetectInterval
	}
	if o.RespawnCooldown <= 0 {
		o.RespawnCooldown = DefaultRespawnCooldown
	}
	if o.SelfCheckTimeout <= 0 {
		o.SelfCheckTimeout = DefaultSelfCheckTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.MasterAddress == "" {
		o.MasterAddress = DefaultMasterAddress
	}
	if o.MasterPort == 0 {
		o.MasterPort = DefaultMasterPort
	}
	if o.SerialBaud == 0 {
		o.SerialBaud = DefaultSerialBaud
	}
	if o.DefaultEndpoints == nil {
		o.DefaultEndpoints = DefaultEndpoints(o.AppName)
	}
	return o
}
