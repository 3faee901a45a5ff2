package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"ardupilot-manager/pkg/api"
	"ardupilot-manager/pkg/auth"
	"ardupilot-manager/pkg/detector"
	"ardupilot-manager/pkg/firmware"
	"ardupilot-manager/pkg/journal"
	"ardupilot-manager/pkg/mavlink"
	"ardupilot-manager/pkg/metrics"
	"ardupilot-manager/pkg/options"
	"ardupilot-manager/pkg/settings"
	"ardupilot-manager/pkg/supervisor"
	"ardupilot-manager/pkg/version"
)

const (
	journalRetention = 30 * 24 * time.Hour
	shutdownTimeout  = 10 * time.Second
)

func main() {
	args := os.Args[1:]
	options.InitGlog(args)
	opts, err := options.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ardupilot-manager: %v\n", err)
		os.Exit(2)
	}
	if opts.ShowVersion {
		fmt.Println(version.String())
		return
	}
	if opts.IssueToken != "" {
		token, err := auth.Generate(opts.IssueToken, 365*24*time.Hour, []byte(opts.JWTSecret))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ardupilot-manager: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	code := run(opts)
	glog.Flush()
	os.Exit(code)
}

func run(opts options.Options) int {
	glog.Infof("[manager]ardupilot-manager %s starting", version.String())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(opts)
	if err != nil {
		glog.Errorf("[manager]settings store: %v", err)
		return 1
	}

	var jr *journal.SQLite
	if opts.JournalPath != "" {
		jr, err = journal.Open(ctx, opts.JournalPath)
		if err != nil {
			glog.Errorf("[manager]open journal: %v", err)
			return 1
		}
		defer jr.Close()
		go pruneJournal(ctx, jr)
	}

	m := metrics.New()
	router := mavlink.NewRouter(opts.RouterBinary, opts.RouterConfig)
	downloader := firmware.NewDownloader()
	downloader.ManifestURL = opts.ManifestURL
	downloader.NavigatorURL = opts.NavigatorURL

	deps := supervisor.Deps{
		Store:    store,
		Proxy:    router,
		Detector: detector.New(),
		Firmware: downloader,
		Metrics:  m,
	}
	if jr != nil {
		deps.Journal = jr
	}
	sup, err := supervisor.New(supervisor.Options{
		FirmwareDir:    opts.FirmwareDir,
		DetectInterval: opts.DetectInterval,
		SkipRootCheck:  opts.SkipRootCheck,
	}, deps)
	if err != nil {
		glog.Errorf("[manager]%v", err)
		return 1
	}

	hub := api.NewWatchHub(sup)
	cfg := api.Config{
		Token:     opts.Token,
		JWTSecret: []byte(opts.JWTSecret),
		Metrics:   m.Handler(),
		StaticDir: opts.StaticDir,
		Hub:       hub,
	}
	if jr != nil {
		cfg.Journal = jr
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, sup, cfg)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Serve(ctx, mux, api.ServeOptions{
			Addr:     opts.Listen,
			TLSCert:  opts.TLSCert,
			TLSKey:   opts.TLSKey,
			ClientCA: opts.ClientCA,
		})
	}()

	startErr := make(chan error, 1)
	go func() {
		startErr <- sup.Run(ctx)
	}()

	code := 0
	runDone := false
	for done := false; !done; {
		select {
		case <-ctx.Done():
			glog.Infof("[manager]shutting down")
			done = true
		case err := <-serveErr:
			if err != nil {
				glog.Errorf("[manager]server error: %v", err)
				code = 1
			}
			done = true
		case err := <-startErr:
			runDone = true
			if err != nil && !errors.Is(err, context.Canceled) {
				glog.Errorf("[manager]startup failed: %v", err)
				code = 1
				done = true
			}
		}
	}

	stop()
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !runDone {
		select {
		case <-startErr:
		case <-shutdownCtx.Done():
			glog.Warningf("[manager]startup did not return before shutdown timeout")
		}
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("[manager]shutdown: %v", err)
	}
	return code
}

func openStore(opts options.Options) (settings.Store, error) {
	switch opts.SettingsBackend {
	case options.BackendConsul:
		return settings.NewConsulStore(opts.ConsulAddr, opts.ConsulKey)
	case options.BackendMemory:
		glog.Warningf("[manager]settings are kept in memory and lost on exit")
		return settings.NewMemoryStore(), nil
	default:
		return settings.NewFileStore(opts.SettingsFile), nil
	}
}

func pruneJournal(ctx context.Context, jr *journal.SQLite) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := jr.Prune(ctx, time.Now().Add(-journalRetention))
		if err != nil && ctx.Err() == nil {
			glog.Warningf("[manager]journal prune: %v", err)
		} else if n > 0 {
			glog.Infof("[manager]pruned %d journal entries", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
