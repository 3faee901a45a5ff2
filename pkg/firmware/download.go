// Package firmware fetches ArduPilot firmware from the public manifest.
package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/golang/glog"
	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
)

const (
	DefaultManifestURL  = "https://firmware.ardupilot.org/manifest.json.gz"
	DefaultNavigatorURL = "https://s3.amazonaws.com/downloads.bluerobotics.com/ardusub/navigator/ardusub"

	supportedFormat  = "apj"
	manifestVersion  = "1.0.0"
	stableVersionTag = "STABLE-"
)

var (
	ErrInvalidManifest    = errors.New("invalid firmware manifest")
	ErrVersionUnavailable = errors.New("firmware version not available")
	ErrNoCandidate        = errors.New("no single firmware candidate")
	ErrInvalidFirmware    = errors.New("invalid firmware file")
)

// Vehicle selects the ArduPilot vehicle build.
type Vehicle int

const (
	Sub Vehicle = iota + 1
	Rover
	Plane
	Copter
)

func (v Vehicle) String() string {
	switch v {
	case Sub:
		return "Sub"
	case Rover:
		return "Rover"
	case Plane:
		return "Plane"
	case Copter:
		return "Copter"
	}
	return fmt.Sprintf("Vehicle(%d)", int(v))
}

// Item is one firmware entry of the manifest.
type Item struct {
	VehicleType string `json:"vehicletype"`
	Platform    string `json:"platform"`
	Format      string `json:"format"`
	VersionType string `json:"mav-firmware-version-type"`
	URL         string `json:"url"`
}

// Manifest is the decoded manifest.json.
type Manifest struct {
	FormatVersion string `json:"format-version"`
	Firmware      []Item `json:"firmware"`
}

// Downloader resolves and downloads firmware files to a temporary location.
type Downloader struct {
	ManifestURL  string
	NavigatorURL string
	TempDir      string
	Client       *http.Client

	mu       sync.Mutex
	manifest *Manifest
}

func NewDownloader() *Downloader {
	return &Downloader{
		ManifestURL:  DefaultManifestURL,
		NavigatorURL: DefaultNavigatorURL,
		TempDir:      os.TempDir(),
		Client:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// FetchManifest downloads and caches the manifest.
func (d *Downloader) FetchManifest(ctx context.Context) (*Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manifest != nil {
		return d.manifest, nil
	}
	body, err := d.get(ctx, d.ManifestURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	defer zr.Close()
	var m Manifest
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.FormatVersion == "" {
		return nil, fmt.Errorf("%w: missing format-version", ErrInvalidManifest)
	}
	if m.FormatVersion != manifestVersion {
		glog.Warningf("[firmware]manifest format %s differs from %s, compatibility may be broken", m.FormatVersion, manifestVersion)
	}
	d.manifest = &m
	return d.manifest, nil
}

func (d *Downloader) find(ctx context.Context, vehicle Vehicle, platform, version string) ([]Item, error) {
	m, err := d.FetchManifest(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(m.Firmware, func(it Item, _ int) bool {
		return it.VehicleType == vehicle.String() &&
			it.Platform == platform &&
			it.Format == supportedFormat &&
			(version == "" || it.VersionType == version)
	}), nil
}

// AvailableVersions lists the version tags published for vehicle and platform.
func (d *Downloader) AvailableVersions(ctx context.Context, vehicle Vehicle, platform string) ([]string, error) {
	items, err := d.find(ctx, vehicle, platform, "")
	if err != nil {
		return nil, err
	}
	return lo.Uniq(lo.Map(items, func(it Item, _ int) string { return it.VersionType })), nil
}

// Download fetches the newest stable firmware.
func (d *Downloader) Download(ctx context.Context, vehicle Vehicle, platform string) (string, error) {
	return d.DownloadVersion(ctx, vehicle, platform, "")
}

// DownloadVersion fetches a specific version tag, or the newest stable one
// when version is empty. The returned file is owned by the caller.
func (d *Downloader) DownloadVersion(ctx context.Context, vehicle Vehicle, platform, version string) (string, error) {
	if vehicle == Sub && strings.EqualFold(platform, "navigator") {
		return d.download(ctx, d.NavigatorURL)
	}

	versions, err := d.AvailableVersions(ctx, vehicle, platform)
	if err != nil {
		return "", err
	}
	if version != "" && !lo.Contains(versions, version) {
		return "", fmt.Errorf("%w: %s %s %s", ErrVersionUnavailable, vehicle, platform, version)
	}
	if version == "" {
		newest := NewestStable(versions)
		if newest == "" {
			return "", fmt.Errorf("%w: no stable release for %s %s", ErrVersionUnavailable, vehicle, platform)
		}
		version = newest
	}

	items, err := d.find(ctx, vehicle, platform, version)
	if err != nil {
		return "", err
	}
	if len(items) != 1 {
		return "", fmt.Errorf("%w: %d candidates for %s %s %s", ErrNoCandidate, len(items), vehicle, platform, version)
	}
	file, err := d.download(ctx, items[0].URL)
	if err != nil {
		return "", err
	}
	if err := ValidateAPJ(file); err != nil {
		_ = os.Remove(file)
		return "", err
	}
	return file, nil
}

// NewestStable picks the highest STABLE-x.y.z tag, or "" if none parse.
func NewestStable(versions []string) string {
	var best *semver.Version
	bestTag := ""
	for _, tag := range versions {
		if !strings.HasPrefix(tag, stableVersionTag) {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(tag, stableVersionTag))
		if err != nil {
			continue
		}
		if best == nil || best.LessThan(*v) {
			best = v
			bestTag = tag
		}
	}
	return bestTag
}

// ValidateAPJ checks that an .apj file is JSON carrying an image.
func ValidateAPJ(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read firmware: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFirmware, err)
	}
	if _, ok := doc["image"]; !ok {
		return fmt.Errorf("%w: missing image", ErrInvalidFirmware)
	}
	if _, ok := doc["image_size"]; !ok {
		return fmt.Errorf("%w: missing image_size", ErrInvalidFirmware)
	}
	return nil
}

func (d *Downloader) download(ctx context.Context, rawURL string) (string, error) {
	name := "firmware"
	if u, err := url.Parse(rawURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		name = path.Base(u.Path)
	}
	body, err := d.get(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	tmp, err := os.CreateTemp(d.TempDir, "*-"+name)
	if err != nil {
		return "", fmt.Errorf("create temp firmware: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp firmware: %w", err)
	}
	glog.Infof("[firmware]downloaded %s to %s", rawURL, tmp.Name())
	return tmp.Name(), nil
}

func (d *Downloader) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s returned %s body=%s", rawURL, resp.Status, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}
