// Command tracd runs the TRAC data-plane gRPC service: the dataset and
// file create/update/read surface of SPEC_FULL.md §4.5/§6, over the
// local storage driver and a single Postgres-backed metadata store.
// Flag parsing and the graceful-shutdown shape follow the teacher's
// cmd entrypoint (pflag.Parse, Config.Preflight, a stopper.Context
// tearing down on SIGINT/SIGTERM).
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/tracdap/trac-core/internal/config"
	"github.com/tracdap/trac-core/internal/rpc"
	"github.com/tracdap/trac-core/internal/util/stopper"
)

// shutdownGrace bounds how long tracd waits for in-flight requests to
// drain before a forced stop, mirroring the per-stage timeout design of
// §5 (lock acquisition and stream-idle both have an explicit bound;
// shutdown gets the same discipline).
const shutdownGrace = 10 * time.Second

func main() {
	cfg := &config.ServerConfig{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sctx := stopper.WithContext(rootCtx)

	application, err := wireApp(sctx, cfg)
	if err != nil {
		log.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	defer application.pool.Close()

	lis, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		log.WithError(err).Errorf("could not bind %s", cfg.BindAddr)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterServer(grpcServer, application.server)

	sctx.Go(func() error {
		log.Infof("tracd listening on %s", cfg.BindAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return err
		}
		return nil
	})

	<-sctx.Done()
	log.Info("shutdown requested, draining in-flight requests")

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		grpcServer.Stop()
	}

	if err := sctx.Stop(shutdownGrace); err != nil {
		log.WithError(err).Error("unclean shutdown")
		os.Exit(1)
	}
	os.Exit(0)
}
