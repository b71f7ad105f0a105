// Command mta-sts-daemon runs the long-running socketmap responder: it
// binds the configured listener, wires the chosen cache backend and the
// per-zone resolvers, optionally starts the proactive fetcher, and serves
// until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sts-resolver/daemon/internal/cache"
	"github.com/sts-resolver/daemon/internal/config"
	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/notify"
	"github.com/sts-resolver/daemon/internal/proactive"
	"github.com/sts-resolver/daemon/internal/resolver"
	"github.com/sts-resolver/daemon/internal/responder"
)

var (
	configFile    string
	logFile       string
	verbosity     string
	disableUvloop bool
	metricsAddr   string
)

func init() {
	flag.StringVar(&configFile, "c", "/etc/mta-sts-daemon.yml", "config file location")
	flag.StringVar(&logFile, "l", "", "log file location (default: stderr)")
	flag.StringVar(&verbosity, "v", "info", "logging verbosity (debug|info|warn|error)")
	flag.BoolVar(&disableUvloop, "disable-uvloop", false, "no-op: Go has no event-loop selection to make")
	flag.StringVar(&metricsAddr, "metrics", "", "if set, serve Prometheus metrics on this address")
}

func main() {
	flag.Parse()
	log.SetLevel(verbosity)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mta-sts-daemon: opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if err := run(); err != nil {
		log.Errorf("mta-sts-daemon: %v", err)
		os.Exit(1)
	}
}

func run() error {
	log.Info("mta-sts-daemon starting...")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := cache.New(cfg.Cache.Type, cfg.CacheOptions())
	if err != nil {
		return fmt.Errorf("building cache backend: %w", err)
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSetup()
	if err := c.Setup(setupCtx); err != nil {
		return fmt.Errorf("cache setup: %w", err)
	}

	dnsServer := cfg.ResolvedDNSServer()
	log.Infof("querying DNS via %s", dnsServer)

	zones := buildZoneSet(cfg, dnsServer)

	listener, err := responder.Listen(responder.ListenConfig{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Path:      cfg.Path,
		Mode:      parseMode(cfg.Mode),
		ReusePort: cfg.ReusePort,
	})
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	resp := responder.New(listener, zones, c, cfg.CacheGraceDuration(), cfg.ShutdownTimeoutDuration())
	go resp.Serve()
	log.Infof("listening on %s", listenerDesc(cfg))

	var fetcher *proactive.Fetcher
	pfCtx, cancelPF := context.WithCancel(context.Background())
	defer cancelPF()
	if cfg.ProactivePolicyFetching.Enabled {
		defaultZone := cfg.Zone("")
		pfResolver := resolver.New(dnsServer, defaultZone.Timeout, cfg.UserAgent)
		fetcher = proactive.New(c, pfResolver, cfg.ProactiveIntervalDuration(),
			cfg.ProactivePolicyFetching.ConcurrencyLimit, cfg.ProactivePolicyFetching.GraceRatio)
		fetcher.Start(pfCtx)
		log.Info("proactive policy fetching enabled")
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	notifier := notify.New()
	notifier.Ready()
	defer notifier.Close()

	waitForShutdownSignal()
	notifier.Stopping()

	log.Info("shutting down...")
	if fetcher != nil {
		fetcher.Stop()
	}
	cancelPF()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration()+5*time.Second)
	defer cancelShutdown()
	if err := resp.Stop(shutdownCtx); err != nil {
		log.Warnf("responder stop: %v", err)
	}

	log.Info("mta-sts-daemon finished its work.")
	return nil
}

// buildZoneSet constructs one *resolver.Resolver per configured zone (the
// default plus every named zone), since each zone may specify a different
// timeout (§4.3: "resolver ... holds ... an HTTPS client timeout configured
// at construction").
func buildZoneSet(cfg *config.Config, dnsServer string) *responder.ZoneSet {
	def := buildZone(cfg, "", dnsServer)
	named := make(map[string]*responder.Zone, len(cfg.Zones))
	for name := range cfg.Zones {
		named[name] = buildZone(cfg, name, dnsServer)
	}
	return responder.NewZoneSet(def, named)
}

func buildZone(cfg *config.Config, name, dnsServer string) *responder.Zone {
	z := cfg.Zone(name)
	return &responder.Zone{
		Name:          z.Name,
		StrictTesting: z.StrictTesting,
		RequireSNI:    z.RequireSNI,
		Timeout:       z.Timeout,
		Resolver:      resolver.New(dnsServer, z.Timeout, cfg.UserAgent),
	}
}

func parseMode(mode string) os.FileMode {
	if mode == "" {
		return 0
	}
	var m uint32
	if _, err := fmt.Sscanf(mode, "%o", &m); err != nil {
		return 0
	}
	return os.FileMode(m)
}

func listenerDesc(cfg *config.Config) string {
	if cfg.Path != "" {
		return "unix:" + cfg.Path
	}
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnf("metrics server: %v", err)
	}
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM arrives once; a
// second signal force-exits the process immediately (§5 "Signals").
func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Warn("got first exit signal! terminating gracefully.")

	go func() {
		<-sigCh
		log.Warn("got second exit signal! terminating hard.")
		os.Exit(1)
	}()
}
