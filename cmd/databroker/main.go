package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/admin"
	"github.com/signalsfoundry/ot-databroker/internal/broker"
	"github.com/signalsfoundry/ot-databroker/internal/config"
	"github.com/signalsfoundry/ot-databroker/internal/discovery"
	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/internal/supervisor"
	"github.com/signalsfoundry/ot-databroker/internal/telemetry"
	"github.com/signalsfoundry/ot-databroker/internal/transport"
	"github.com/signalsfoundry/ot-databroker/model"
	"github.com/signalsfoundry/ot-databroker/timectrl"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := broker.NewSession()
	tcfg := observability.TracingConfigFromEnv()
	tcfg.Version = version
	tcfg.SessionID = session.ID
	tcfg.Role = string(cfg.Role)
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewBrokerCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}

	descs, err := config.LoadDescriptors(cfg.DescriptorPath)
	if err != nil {
		log.Error(ctx, "failed to load descriptors", logging.String("path", cfg.DescriptorPath), logging.Err(err))
		os.Exit(1)
	}

	sems, err := ipc.OpenBank(ipc.DefaultNames)
	if err != nil {
		log.Error(ctx, "failed to open session semaphores", logging.Err(err))
		os.Exit(1)
	}
	defer sems.Close()
	// Counts left by an earlier session would release the loop early.
	sems.Drain()

	link := ipc.NewShmLink(ipc.DefaultShmKeys)
	defer link.Close()

	// The first interrupt stops the session the same way the console key
	// does; a second one abandons it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		interrupted := false
		for range sigCh {
			if interrupted {
				log.Warn(ctx, "second interrupt; abandoning session")
				cancel()
				return
			}
			interrupted = true
			log.Info(ctx, "interrupt received; stopping session")
			if err := sems.SignalStop(); err != nil {
				log.Warn(ctx, "failed to signal stop", logging.Err(err))
			}
		}
	}()

	err = run(ctx, runOptions{
		Config:      cfg,
		Session:     session,
		Descriptors: descs,
		Sems:        sems,
		Link:        link,
		Console:     os.Stdin,
		PromptOut:   os.Stdout,
		Log:         log,
		Metrics:     collector,
		PointDump:   strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
	})
	if err != nil {
		log.Error(ctx, "databroker exited", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "databroker exited cleanly")
}

type runOptions struct {
	Config      config.Broker
	Session     *broker.Session // nil starts a fresh one
	Descriptors model.DescriptorSet
	Sems        *ipc.Bank
	Link        broker.SimLink
	Console     io.Reader
	PromptOut   io.Writer
	Log         logging.Logger
	Metrics     *observability.BrokerCollector
	PointDump   bool
}

// run wires one session and blocks until the step loop ends. opts.Sems must
// already be drained. Handshake and transport setup failures are returned;
// everything started before them is torn down first.
func run(ctx context.Context, opts runOptions) error {
	cfg := opts.Config
	log := logging.OrNoop(opts.Log)
	sems := opts.Sems

	session := opts.Session
	if session == nil {
		session = broker.NewSession()
	}
	ctx = logging.ContextWithSessionID(ctx, session.ID)

	log.Info(ctx, "starting databroker",
		logging.String("version", version),
		logging.String("role", string(cfg.Role)),
		logging.String("simulator", opts.Descriptors.Simulator.Executable),
		logging.Int("endpoints", len(opts.Descriptors.Endpoints)),
	)

	var wg sync.WaitGroup
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		wg.Wait()
	}()
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, name+" stopped", logging.Err(err))
			}
		}()
	}

	switch cfg.Role {
	case discovery.RoleRegistrar:
		rep, err := transport.ListenReply(cfg.DiscoveryAddr, cfg.IngressRecvTimeout)
		if err != nil {
			return fmt.Errorf("discovery listener: %w", err)
		}
		closers = append(closers, rep)
		registrar := discovery.NewRegistrar(opts.Descriptors.Endpoints, rep, sems, log, opts.Metrics)
		goRun("registrar", registrar.Run)
	default:
		req := transport.Requester{Port: cfg.DiscoveryPort, Timeout: cfg.DiscoveryTimeout}
		discovery.NewPusher(opts.Descriptors.Endpoints, req, sems, log, opts.Metrics).Push(ctx)
	}

	sinks := []telemetry.Sink{}
	udp, err := telemetry.DialUDP(cfg.TelemetryAddr)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	sinks = append(sinks, udp)
	if cfg.MQTTBroker != "" {
		mq, err := telemetry.DialMQTT(cfg.MQTTBroker, "databroker-"+session.ID, cfg.MQTTTopic)
		if err != nil {
			log.Warn(ctx, "MQTT telemetry disabled", logging.String("broker", cfg.MQTTBroker), logging.Err(err))
		} else {
			sinks = append(sinks, mq)
		}
	}
	out := telemetry.NewBroadcaster(log, opts.Metrics, sinks...)
	closers = append(closers, out)

	pull, err := transport.ListenPull(cfg.IngressAddr, cfg.IngressRecvTimeout)
	if err != nil {
		return fmt.Errorf("ingress listener: %w", err)
	}
	closers = append(closers, pull)
	goRun("ingress", broker.NewIngress(session, pull, sems, log, opts.Metrics).Run)

	stats := broker.NewStepStats(0)
	if cfg.AdminAddr != "" {
		router := admin.NewRouter(admin.Dependencies{
			Session:   session,
			Stats:     stats,
			Sems:      sems,
			Metrics:   opts.Metrics,
			Role:      string(cfg.Role),
			Simulator: opts.Descriptors.Simulator,
			Version:   version,
		})
		closers = append(closers, shutdownCloser{admin.Serve(cfg.AdminAddr, router, log)})
	}
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen for gRPC health: %w", err)
		}
		health := admin.NewHealthServer(opts.Metrics)
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Warn(ctx, "gRPC health server exited", logging.Err(err))
			}
		}()
		closers = append(closers, closerFunc(health.Stop))
		goRun("health watcher", func(ctx context.Context) error {
			health.WatchStop(ctx, sems, 100*time.Millisecond)
			return nil
		})
	}

	sup := supervisor.New(supervisor.Config{
		Simulator: opts.Descriptors.Simulator,
		Console:   opts.Console,
		PromptOut: opts.PromptOut,
		StopGrace: cfg.StopGrace,
	}, sems, log)
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()
	supDone := make(chan error, 1)
	var startErr error
	abandoned := false
	go func() {
		err := sup.Run(ctx)
		_, started := session.Metadata()
		switch {
		case err != nil && !sems.IsStopped() && ctx.Err() == nil:
			// The simulator never came up; nothing will complete the handshake.
			startErr = err
			cancelBridge()
		case sems.IsStopped() && !started:
			// Stopped before the handshake; the simulator is already gone.
			abandoned = true
			cancelBridge()
		}
		supDone <- err
	}()

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	bridge := broker.NewBridge(session, opts.Link, sems, out,
		broker.WithMode(mode),
		broker.WithLogger(log),
		broker.WithMetrics(opts.Metrics),
		broker.WithStepStats(stats),
		broker.WithPointDump(opts.PointDump),
	)
	bridgeErr := bridge.Run(bridgeCtx)
	if bridgeErr != nil {
		// The supervisor only tears the simulator down once stop is set.
		_ = sems.SignalStop()
	}

	supErr := <-supDone
	switch {
	case startErr != nil:
		bridgeErr = startErr
	case abandoned && errors.Is(bridgeErr, context.Canceled):
		log.Info(ctx, "stopped before simulator handshake")
		bridgeErr = nil
	}
	if startErr == nil && supErr != nil && !errors.Is(supErr, context.Canceled) {
		log.Warn(ctx, "simulator shutdown", logging.Err(supErr))
	}
	if sum := stats.Summary(); sum.Count > 0 {
		log.Info(ctx, "step timing",
			logging.Int("steps", sum.Count),
			logging.Float("mean_ms", sum.MeanMs),
			logging.Float("stddev_ms", sum.StdDevMs),
			logging.Float("p99_ms", sum.P99Ms),
			logging.Any("overruns", sum.Overruns),
		)
	}
	return bridgeErr
}

type shutdownCloser struct {
	srv *http.Server
}

func (s shutdownCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
