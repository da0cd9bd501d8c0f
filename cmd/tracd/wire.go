//go:build wireinject
// +build wireinject

// This file is the injector wire_gen.go's hand-written wireApp stands
// in for; it is excluded from normal builds by the wireinject tag and
// exists so the provider graph is declared once, in the form
// `go run github.com/google/wire/cmd/wire` actually understands,
// rather than only in wire_gen.go's prose.
package main

import (
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracdap/trac-core/internal/config"
	"github.com/tracdap/trac-core/internal/dataplane"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/rpc"
	"github.com/tracdap/trac-core/internal/util/stopper"
)

func provideSystemConfig(cfg *config.ServerConfig) (*config.SystemConfig, error) {
	sysConfig, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	return sysConfig, sysConfig.Preflight()
}

func provideMetadataPool(ctx *stopper.Context, cfg *config.ServerConfig) (*pgxpool.Pool, error) {
	var opts []metadata.OpenOption
	if cfg.WaitForDB {
		opts = append(opts, metadata.WaitForStartup())
	}
	pool, err := metadata.Open(ctx, cfg.DBConnString, opts...)
	if err != nil {
		return nil, err
	}
	return pool, metadata.EnsureSchema(ctx, pool)
}

func provideBuckets(ctx *stopper.Context, sysConfig *config.SystemConfig) (*config.Buckets, error) {
	buckets := config.NewBuckets(sysConfig)
	if err := buckets.WarmAll(ctx); err != nil {
		return nil, err
	}
	return buckets, nil
}

func provideServer(dataSvc *dataplane.Service) *rpc.Server {
	return &rpc.Server{Data: dataSvc}
}

func provideApp(server *rpc.Server, pool *pgxpool.Pool) *app {
	return &app{server: server, pool: pool}
}

func wireApp(ctx *stopper.Context, cfg *config.ServerConfig) (*app, error) {
	panic(wire.Build(
		provideSystemConfig,
		provideMetadataPool,
		metadata.NewTenantCache,
		provideBuckets,
		wire.Bind(new(metadata.BeginTx), new(*pgxpool.Pool)),
		wire.Bind(new(dataplane.Buckets), new(*config.Buckets)),
		dataplane.NewService,
		provideServer,
		provideApp,
	))
}
