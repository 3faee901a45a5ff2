package version

import "runtime/debug"

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// String returns Build, falling back to the VCS revision stamped by the Go
// toolchain for dev builds.
func String() string {
	if Build != "dev" {
		return Build
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Build
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return Build + "-" + s.Value[:12]
		}
	}
	return Build
}
