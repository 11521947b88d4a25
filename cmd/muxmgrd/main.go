// Command muxmgrd is the per-port dual-ToR MUX control-plane daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/config"
	"github.com/dualtor/muxmgrd/pkg/driver"
	"github.com/dualtor/muxmgrd/pkg/linkprober"
	"github.com/dualtor/muxmgrd/pkg/muxport"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/reactor"
	"github.com/dualtor/muxmgrd/pkg/statestore"
	"github.com/dualtor/muxmgrd/pkg/statusui"
	"github.com/dualtor/muxmgrd/pkg/wire"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Println("muxmgrd (dual-ToR MUX control-plane daemon)")
		return
	}
	if len(os.Args) > 1 && (os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help") {
		printHelp()
		return
	}

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("muxmgrd exited with error")
	}
}

func printHelp() {
	fmt.Println(`muxmgrd - dual-ToR MUX control-plane daemon

Usage:
  muxmgrd --config <path> [--log-level <level>] [--fake-driver]
  muxmgrd version
  muxmgrd help

Flags:
  --config <path>      path to the ports config file (default /etc/muxmgrd/ports.yaml)
  --log-level <level>  logrus level: trace, debug, info, warn, error (default info)
  --fake-driver        use an in-memory driver stub instead of dialing the configured driver_addr (local development only)`)
}

func run() error {
	fs := flag.NewFlagSet("muxmgrd", flag.ExitOnError)
	configPath := fs.String("config", "/etc/muxmgrd/ports.yaml", "path to the ports config file")
	logLevel := fs.String("log-level", "info", "logrus level (trace, debug, info, warn, error)")
	fakeDriver := fs.Bool("fake-driver", false, "use an in-memory driver stub instead of dialing the configured driver_addr (local development only)")
	fs.Parse(os.Args[1:])

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", *logLevel, err)
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	if _, err := os.Stat(*configPath); err != nil {
		return fmt.Errorf("config file %s: %w", *configPath, err)
	}
	loader, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	daemonCfg := loader.Current()
	if len(daemonCfg.Ports) == 0 {
		return fmt.Errorf("config %s defines no ports", *configPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var audit *statestore.AuditLog
	if daemonCfg.AuditDBPath != "" {
		audit, err = statestore.OpenAuditLog(daemonCfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("opening audit log %s: %w", daemonCfg.AuditDBPath, err)
		}
		defer audit.Close()
	}

	store := statestore.New(audit)
	rtr := reactor.New(daemonCfg.ReactorWorkers)
	defer rtr.Stop()

	guid, err := wire.NewInstanceGUID()
	if err != nil {
		return fmt.Errorf("generating instance guid: %w", err)
	}

	router := newNotificationRouter()

	var driverClient driver.Client
	if *fakeDriver {
		fake := driver.NewFake(router.dispatch)
		for _, p := range daemonCfg.Ports {
			fake.Register(p.PortName, muxstate.Wait)
		}
		driverClient = fake
		entry.Warn("using in-memory fake driver — not suitable for production")
	} else {
		grpcClient, err := driver.NewGRPCClient(ctx, daemonCfg.DriverAddr, router.dispatch)
		if err != nil {
			return fmt.Errorf("dialing driver at %s: %w", daemonCfg.DriverAddr, err)
		}
		defer grpcClient.Close()
		driverClient = grpcClient
	}

	clock := clockwork.NewRealClock()

	ports := make(map[string]*muxport.MuxPort, len(daemonCfg.Ports))
	portNames := make([]string, 0, len(daemonCfg.Ports))
	for _, cfg := range daemonCfg.Ports {
		portLog := entry.WithField("port", cfg.PortName)
		ifName := cfg.PortName
		mp := muxport.New(cfg, muxport.Deps{
			Store:   store,
			Driver:  driverClient,
			Reactor: rtr,
			NewSocket: func() (linkprober.Socket, error) {
				return linkprober.NewPacketSocket(ifName)
			},
			Clock: clock,
			Log:   portLog,
			GUID:  guid,
		})
		router.register(cfg.PortName, mp)
		ports[cfg.PortName] = mp
		portNames = append(portNames, cfg.PortName)
	}

	for _, mp := range ports {
		if err := mp.Start(ctx); err != nil {
			return fmt.Errorf("starting port %s: %w", mp.Port, err)
		}
	}

	statusSrv := statusui.NewServer(&statusui.Config{
		ListenAddr: daemonCfg.StatusAddr,
		ListenPort: daemonCfg.StatusPort,
	}, store, audit, portNames, entry.WithField("component", "statusui"))
	if err := statusSrv.Start(ctx); err != nil {
		entry.WithError(err).Warn("statusui server failed to start")
	}

	loader.OnChange(func(d config.Daemon) {
		entry.Info("config file changed; per-port live-reload of retry/timeout fields not yet wired")
	})
	loader.Watch()

	entry.WithField("ports", len(ports)).Info("muxmgrd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	entry.Info("shutting down")
	cancel()
	for _, mp := range ports {
		if err := mp.Close(); err != nil {
			entry.WithError(err).WithField("port", mp.Port).Warn("error closing port")
		}
	}
	return nil
}

// notificationRouter demultiplexes the single shared driver.Client's
// NotificationHandler callback by port, since driver.Client is one
// collaborator shared across every MuxPort (spec.md §6.2) but each
// notification must land on its own port's strand.
type notificationRouter struct {
	mu    sync.RWMutex
	ports map[string]*muxport.MuxPort
}

func newNotificationRouter() *notificationRouter {
	return &notificationRouter{ports: make(map[string]*muxport.MuxPort)}
}

func (r *notificationRouter) register(port string, mp *muxport.MuxPort) {
	r.mu.Lock()
	r.ports[port] = mp
	r.mu.Unlock()
}

func (r *notificationRouter) dispatch(n driver.Notification) {
	r.mu.RLock()
	mp, ok := r.ports[n.Port]
	r.mu.RUnlock()
	if !ok {
		return
	}
	mp.HandleDriverNotification(n)
}
