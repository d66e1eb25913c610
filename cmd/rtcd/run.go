package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	openrtm "github.com/n-ando/OpenRTM-aist-sub001"
	"github.com/n-ando/OpenRTM-aist-sub001/config"
	"github.com/n-ando/OpenRTM-aist-sub001/internal/sample"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
	"github.com/n-ando/OpenRTM-aist-sub001/introspection/mermaid"
	"github.com/n-ando/OpenRTM-aist-sub001/metric"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/local"
	"github.com/n-ando/OpenRTM-aist-sub001/rpc/natsrpc"
)

// Substrate kinds accepted by daemon.substrate.
const (
	substrateLocal    = "local"
	substrateNATS     = "nats"
	substrateEmbedded = "embedded-nats"
)

// daemonSettings come from the daemon section of the manager file, with
// RTCD_DAEMON_* environment variables taking precedence.
type daemonSettings struct {
	Addr      string `config:"daemon.addr" default:":9090"`
	Substrate string `config:"daemon.substrate" default:"local"`
	NATSURL   string `config:"daemon.nats_url" default:"nats://127.0.0.1:4222"`
	Watch     bool   `config:"daemon.watch" default:"true"`
}

func runCmd() *cobra.Command {
	var (
		file      string
		overrides daemonSettings
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a manager from a manager file",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadDaemonSettings(cmd.Context(), file)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				settings.Addr = overrides.Addr
			}
			if flags.Changed("substrate") {
				settings.Substrate = overrides.Substrate
			}
			if flags.Changed("nats-url") {
				settings.NATSURL = overrides.NATSURL
			}
			if flags.Changed("watch") {
				settings.Watch = overrides.Watch
			}
			return runDaemon(file, settings, newLogger())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "rtcd.yaml", "manager file")
	cmd.Flags().StringVar(&overrides.Addr, "addr", ":9090", "HTTP listen address")
	cmd.Flags().StringVar(&overrides.Substrate, "substrate", substrateLocal, "RPC substrate (local, nats, embedded-nats)")
	cmd.Flags().StringVar(&overrides.NATSURL, "nats-url", nats.DefaultURL, "NATS server URL for the nats substrate")
	cmd.Flags().BoolVar(&overrides.Watch, "watch", true, "reapply rates when the manager file changes")
	return cmd
}

// loadDaemonSettings layers the environment over the manager file.
func loadDaemonSettings(ctx context.Context, file string) (daemonSettings, error) {
	var s daemonSettings
	fileProvider, err := config.NewViperFileProvider(file)
	if err != nil {
		return s, err
	}
	loader := config.NewLoader(config.Stack(fileProvider).Over("env", config.NewPrefixedEnvVarProvider("RTCD")))
	if err := loader.LoadStruct(ctx, &s); err != nil {
		return s, err
	}
	return s, nil
}

// newDaemonManager builds a manager with the sample factories and the
// manager file initializer.
func newDaemonManager(mf *ManagerFile, sub rpc.Substrate, reg *metric.Registry, logger *slog.Logger) (*openrtm.Manager, error) {
	name := mf.Name
	if name == "" {
		name = "rtcd"
	}
	m := openrtm.NewManager(
		openrtm.WithName(name),
		openrtm.WithLogger(logger),
		openrtm.WithMetrics(reg),
		openrtm.WithSubstrate(sub),
		openrtm.WithProperties(config.NewProperties(mf.FlatProperties())),
	)
	if err := sample.Register(m); err != nil {
		return nil, err
	}
	m.Initialize(managerFileInitializer{file: mf})
	return m, nil
}

func runDaemon(file string, settings daemonSettings, logger *slog.Logger) error {
	mf, err := loadManagerFile(file)
	if err != nil {
		return err
	}
	sub, closeSubstrate, err := openSubstrate(settings, logger)
	if err != nil {
		return err
	}
	defer closeSubstrate()

	reg := metric.NewRegistry()
	m, err := newDaemonManager(mf, sub, reg, logger)
	if err != nil {
		return err
	}
	m.Host(newHTTPServer(settings.Addr, newRouter(m, reg), logger))
	if settings.Watch {
		m.Host(newRateWatcher(file, m, logger))
	}
	m.Introspect(reportLogger{logger: logger})
	return m.Run()
}

// openSubstrate returns the configured substrate and its release function.
func openSubstrate(s daemonSettings, logger *slog.Logger) (rpc.Substrate, func(), error) {
	switch s.Substrate {
	case "", substrateLocal:
		return local.New(local.WithLogger(logger)), func() {}, nil
	case substrateNATS:
		nc, err := nats.Connect(s.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS at %s: %w", s.NATSURL, err)
		}
		return natsSubstrate(nc, logger, nc.Close)
	case substrateEmbedded:
		ns, err := server.NewServer(&server.Options{Port: -1, NoLog: true, NoSigs: true})
		if err != nil {
			return nil, nil, fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, nil, errors.New("embedded NATS server failed to start")
		}
		logger.Info("embedded NATS server started", "url", ns.ClientURL())
		nc, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return nil, nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		return natsSubstrate(nc, logger, func() {
			nc.Close()
			ns.Shutdown()
		})
	default:
		return nil, nil, fmt.Errorf("unknown substrate %q", s.Substrate)
	}
}

func natsSubstrate(nc *nats.Conn, logger *slog.Logger, release func()) (rpc.Substrate, func(), error) {
	sub, err := natsrpc.New(nc, natsrpc.WithLogger(logger))
	if err != nil {
		release()
		return nil, nil, err
	}
	return sub, func() {
		if err := sub.Close(); err != nil {
			logger.Warn("closing NATS substrate", "error", err)
		}
		release()
	}, nil
}

// reportLogger logs a summary of the report and, at debug level, its Mermaid graph.
type reportLogger struct {
	logger *slog.Logger
}

func (r reportLogger) Introspect(ctx context.Context, rep introspection.Report) error {
	r.logger.Info("manager started",
		"components", len(rep.Components),
		"contexts", len(rep.Contexts),
		"connectors", len(rep.Connectors()))
	if r.logger.Enabled(ctx, slog.LevelDebug) {
		r.logger.Debug("introspection graph", "mermaid", mermaid.GenerateIntrospectionGraph(rep))
	}
	return nil
}
