// Package options resolves the daemon configuration from defaults, an
// optional YAML file, the environment and the command line, in that order.
package options

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ardupilot-manager/pkg/firmware"
	"ardupilot-manager/pkg/mavlink"
	"ardupilot-manager/pkg/settings"
	"ardupilot-manager/pkg/supervisor"
)

const (
	EnvPrefix = "MANAGER_"

	BackendFile   = "file"
	BackendConsul = "consul"
	BackendMemory = "memory"
)

// Options is everything cmd/manager needs to build the daemon.
type Options struct {
	Listen    string `yaml:"listen"`
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	ClientCA  string `yaml:"client_ca"`
	StaticDir string `yaml:"static_dir"`

	SettingsBackend string `yaml:"settings_backend"`
	SettingsFile    string `yaml:"settings_file"`
	ConsulAddr      string `yaml:"consul_addr"`
	ConsulKey       string `yaml:"consul_key"`
	JournalPath     string `yaml:"journal_path"`

	FirmwareDir    string        `yaml:"firmware_dir"`
	ManifestURL    string        `yaml:"manifest_url"`
	NavigatorURL   string        `yaml:"navigator_url"`
	RouterBinary   string        `yaml:"router_binary"`
	RouterConfig   string        `yaml:"router_config"`
	DetectInterval time.Duration `yaml:"detect_interval"`
	SkipRootCheck  bool          `yaml:"skip_root_check"`

	// Command line only.
	ConfigFile  string `yaml:"-"`
	EnvFile     string `yaml:"-"`
	IssueToken  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Options {
	return Options{
		Listen:          ":6040",
		SettingsBackend: BackendFile,
		SettingsFile:    "/root/.config/ardupilot-manager/settings.json",
		ConsulAddr:      "127.0.0.1:8500",
		ConsulKey:       settings.DefaultConsulKey,
		JournalPath:     "/root/.config/ardupilot-manager/journal.db",
		FirmwareDir:     supervisor.DefaultFirmwareDir,
		ManifestURL:     firmware.DefaultManifestURL,
		NavigatorURL:    firmware.DefaultNavigatorURL,
		RouterBinary:    mavlink.DefaultBinary,
		RouterConfig:    "/tmp/ardupilot-manager/mavlink-router.conf",
		DetectInterval:  supervisor.DefaultDetectInterval,
		EnvFile:         ".env",
	}
}

// Load resolves the options for args (without the program name).
func Load(args []string) (Options, error) {
	opts := Default()

	pre := pflag.NewFlagSet("pre", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.SetOutput(io.Discard)
	pre.StringVar(&opts.ConfigFile, "config", os.Getenv(EnvPrefix+"CONFIG"), "")
	pre.StringVar(&opts.EnvFile, "env-file", opts.EnvFile, "")
	_ = pre.Parse(args)

	if err := loadDotEnv(opts.EnvFile); err != nil {
		return opts, fmt.Errorf("load %s: %w", opts.EnvFile, err)
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = os.Getenv(EnvPrefix + "CONFIG")
	}
	if opts.ConfigFile != "" {
		if err := loadYAML(opts.ConfigFile, &opts); err != nil {
			return opts, err
		}
	}
	if err := applyEnv(&opts); err != nil {
		return opts, err
	}

	fs := NewFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// NewFlagSet binds every option to a flag defaulting to its current value.
// glog's flags are exposed on the same set.
func NewFlagSet(opts *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ardupilot-manager", pflag.ContinueOnError)
	fs.StringVar(&opts.ConfigFile, "config", opts.ConfigFile, "YAML options file")
	fs.StringVar(&opts.EnvFile, "env-file", opts.EnvFile, "dotenv file loaded before reading MANAGER_* variables")
	fs.StringVar(&opts.Listen, "listen", opts.Listen, "REST API listen address")
	fs.StringVar(&opts.Token, "token", opts.Token, "static API token (optional)")
	fs.StringVar(&opts.JWTSecret, "jwt-secret", opts.JWTSecret, "HS256 secret for API bearer tokens (optional)")
	fs.StringVar(&opts.TLSCert, "tls-cert", opts.TLSCert, "TLS cert path (enables HTTPS if set with --tls-key)")
	fs.StringVar(&opts.TLSKey, "tls-key", opts.TLSKey, "TLS key path (enables HTTPS if set with --tls-cert)")
	fs.StringVar(&opts.ClientCA, "client-ca", opts.ClientCA, "require and verify client certs using this CA (optional)")
	fs.StringVar(&opts.StaticDir, "static-dir", opts.StaticDir, "frontend directory served at / (optional)")
	fs.StringVar(&opts.SettingsBackend, "settings-backend", opts.SettingsBackend, "settings backend: file|consul|memory")
	fs.StringVar(&opts.SettingsFile, "settings-file", opts.SettingsFile, "settings document path (file backend)")
	fs.StringVar(&opts.ConsulAddr, "consul-addr", opts.ConsulAddr, "consul address (consul backend)")
	fs.StringVar(&opts.ConsulKey, "consul-key", opts.ConsulKey, "consul KV key holding the settings document")
	fs.StringVar(&opts.JournalPath, "journal", opts.JournalPath, "sqlite endpoint journal path, empty disables it")
	fs.StringVar(&opts.FirmwareDir, "firmware-dir", opts.FirmwareDir, "directory holding the Navigator firmware")
	fs.StringVar(&opts.ManifestURL, "manifest-url", opts.ManifestURL, "ArduPilot firmware manifest URL")
	fs.StringVar(&opts.NavigatorURL, "navigator-url", opts.NavigatorURL, "Navigator ArduSub binary URL")
	fs.StringVar(&opts.RouterBinary, "router-binary", opts.RouterBinary, "mavlink-routerd executable")
	fs.StringVar(&opts.RouterConfig, "router-config", opts.RouterConfig, "generated mavlink-routerd config path")
	fs.DurationVar(&opts.DetectInterval, "detect-interval", opts.DetectInterval, "delay between board detection attempts")
	fs.BoolVar(&opts.SkipRootCheck, "skip-root-check", opts.SkipRootCheck, "do not require root (development only)")
	fs.StringVar(&opts.IssueToken, "issue-token", "", "print a bearer token for this subject and exit")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print the build and exit")
	fs.AddGoFlagSet(flag.CommandLine)
	return fs
}

// Validate rejects combinations the daemon cannot start with.
func (o Options) Validate() error {
	switch o.SettingsBackend {
	case BackendFile:
		if o.SettingsFile == "" {
			return errors.New("settings-file is required for the file backend")
		}
	case BackendConsul:
		if o.ConsulAddr == "" || o.ConsulKey == "" {
			return errors.New("consul-addr and consul-key are required for the consul backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported settings backend: %s", o.SettingsBackend)
	}
	if (o.TLSCert == "") != (o.TLSKey == "") {
		return errors.New("tls-cert and tls-key must be set together")
	}
	if o.DetectInterval <= 0 {
		return errors.New("detect-interval must be positive")
	}
	return nil
}

// InitGlog logs to stderr unless the command line configured glog.
func InitGlog(args []string) {
	for _, a := range args {
		if strings.Contains(a, "logtostderr") || strings.Contains(a, "log_dir") {
			return
		}
	}
	_ = flag.Set("logtostderr", getenvWithDefault(EnvPrefix+"LOG_LOGTOSTDERR", "true"))
	_ = flag.Set("stderrthreshold", getenvWithDefault(EnvPrefix+"LOG_STDERRTHRESHOLD", "INFO"))
	_ = flag.Set("v", getenvWithDefault(EnvPrefix+"LOG_V", "0"))
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

func loadYAML(path string, opts *Options) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(opts); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(opts *Options) error {
	strs := map[string]*string{
		"LISTEN":           &opts.Listen,
		"TOKEN":            &opts.Token,
		"JWT_SECRET":       &opts.JWTSecret,
		"TLS_CERT":         &opts.TLSCert,
		"TLS_KEY":          &opts.TLSKey,
		"CLIENT_CA":        &opts.ClientCA,
		"STATIC_DIR":       &opts.StaticDir,
		"SETTINGS_BACKEND": &opts.SettingsBackend,
		"SETTINGS_FILE":    &opts.SettingsFile,
		"CONSUL_ADDR":      &opts.ConsulAddr,
		"CONSUL_KEY":       &opts.ConsulKey,
		"JOURNAL":          &opts.JournalPath,
		"FIRMWARE_DIR":     &opts.FirmwareDir,
		"MANIFEST_URL":     &opts.ManifestURL,
		"NAVIGATOR_URL":    &opts.NavigatorURL,
		"ROUTER_BINARY":    &opts.RouterBinary,
		"ROUTER_CONFIG":    &opts.RouterConfig,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "DETECT_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDETECT_INTERVAL: %w", EnvPrefix, err)
		}
		opts.DetectInterval = d
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SKIP_ROOT_CHECK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSKIP_ROOT_CHECK: %w", EnvPrefix, err)
		}
		opts.SkipRootCheck = b
	}
	return nil
}

func getenvWithDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
