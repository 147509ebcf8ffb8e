// Command unraveld serves the analysis pipeline over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"

	"github.com/RowanDark/unravel/internal/config"
	"github.com/RowanDark/unravel/internal/logging"
	"github.com/RowanDark/unravel/internal/service"
	"github.com/RowanDark/unravel/internal/store"
	"github.com/RowanDark/unravel/internal/worker"
)

var version = "dev"

const shutdownGrace = 2 * time.Second

type cli struct {
	Config   string `name:"config" short:"c" help:"Read settings from this YAML file instead of the search path." type:"path"`
	Addr     string `help:"Listen address; defaults to the configured server_addr."`
	Token    string `help:"Token clients must present." env:"UNRAVEL_AUTH_TOKEN"`
	Persist  bool   `help:"Store every run and serve cached results."`
	DB       string `name:"db" help:"History database path; defaults to the configured database_path." type:"path"`
	MaxConns int    `name:"max-conns" help:"Concurrent connection limit; 0 keeps the configured value."`
	Journal  string `help:"Append audit events as JSON lines to this file." type:"path"`
	Version  bool   `help:"Print version and exit."`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("unraveld"),
		kong.Description("gRPC daemon for unravel.v1.Analyzer."),
		kong.UsageOnError(),
	)
	if c.Version {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c cli) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if c.Config != "" {
		cfg, err = config.LoadFile(c.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	if c.Addr != "" {
		cfg.ServerAddr = c.Addr
	}
	if c.Token != "" {
		cfg.AuthToken = c.Token
	}
	if c.DB != "" {
		cfg.DatabasePath = c.DB
	}
	if c.MaxConns > 0 {
		cfg.MaxConnections = c.MaxConns
	}
	return cfg, nil
}

func run(ctx context.Context, c cli, logOut io.Writer) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("unraveld", logging.WithOutput(logOut), logging.WithLevel(level), logging.WithFormat(cfg.LogFormat))

	auditOpts := []logging.Option{logging.WithWriter(logOut), logging.WithoutStdout()}
	if c.Journal != "" {
		auditOpts = append(auditOpts, logging.WithFile(c.Journal))
	}
	audit, err := logging.NewAuditLogger("unraveld", auditOpts...)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()

	options := []service.Option{
		service.WithLogger(logger),
		service.WithAuditLogger(audit.WithComponent("analyzer")),
		service.WithMaxBytes(int(cfg.MaxInputBytes)),
	}
	if c.Persist {
		db, err := store.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()
		options = append(options, service.WithRecorder(db))
		logger.Info("persisting runs", "database", cfg.DatabasePath)
	}

	analysis := cfg.AnalysisOptions()
	poolOpts := analysis
	poolOpts.Logger = logger.With("component", "worker")
	pool := worker.NewPool(analysis.Workers, poolOpts)
	pool.Start()
	defer pool.Stop()
	options = append(options, service.WithPool(worker.NewDispatcher(pool)))

	srv, err := service.NewServer(cfg.AuthToken, analysis, options...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ServerAddr, err)
	}
	defer func() {
		if err := lis.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Warn("failed to close listener", "error", err)
		}
	}()

	logger.Info("listening", "addr", lis.Addr().String(), "max_conns", cfg.MaxConnections)
	return serve(ctx, netutil.LimitListener(lis, cfg.MaxConnections), srv, int(cfg.MaxInputBytes), logger)
}

// serve blocks until ctx is cancelled, then drains in-flight calls for up to
// shutdownGrace before forcing the server down.
func serve(ctx context.Context, lis net.Listener, srv *service.Server, maxBytes int, logger *slog.Logger) error {
	grpcSrv := srv.Register(
		grpc.MaxRecvMsgSize(maxBytes+64<<10),
		grpc.MaxSendMsgSize(64<<20),
	)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(shutdownGrace):
			grpcSrv.Stop()
		}
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
	return nil
}
