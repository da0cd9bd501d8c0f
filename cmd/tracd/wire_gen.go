// Code generated by Wire as of the teacher's cmd convention; written by
// hand here since `wire` codegen cannot run in this build (see
// DESIGN.md). It is kept in the exact shape `wire` would emit: a single
// provider-set function building every collaborator in dependency
// order and returning the fully assembled application.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracdap/trac-core/internal/config"
	"github.com/tracdap/trac-core/internal/dataplane"
	"github.com/tracdap/trac-core/internal/metadata"
	"github.com/tracdap/trac-core/internal/rpc"
	"github.com/tracdap/trac-core/internal/util/stopper"
)

// app bundles the built application: the gRPC handler and the metadata
// pool it was wired against, so main can close the pool on shutdown.
type app struct {
	server *rpc.Server
	pool   *pgxpool.Pool
}

// wireApp assembles config, the metadata pool, the tenant cache, bucket
// storage, the data-plane service and the gRPC adapter, in that
// dependency order — the provider graph Wire would otherwise generate.
func wireApp(ctx *stopper.Context, cfg *config.ServerConfig) (*app, error) {
	sysConfig, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := sysConfig.Preflight(); err != nil {
		return nil, err
	}

	var opts []metadata.OpenOption
	if cfg.WaitForDB {
		opts = append(opts, metadata.WaitForStartup())
	}
	pool, err := metadata.Open(ctx, cfg.DBConnString, opts...)
	if err != nil {
		return nil, err
	}
	if err := metadata.EnsureSchema(ctx, pool); err != nil {
		return nil, err
	}

	tenants := metadata.NewTenantCache(pool)
	buckets := config.NewBuckets(sysConfig)
	if err := buckets.WarmAll(ctx); err != nil {
		return nil, err
	}
	dataSvc := dataplane.NewService(tenants, pool, buckets)

	return &app{server: &rpc.Server{Data: dataSvc}, pool: pool}, nil
}
