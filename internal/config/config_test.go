package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracdap/trac-core/internal/config"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trac.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndPreflightAcceptsValidConfig(t *testing.T) {
	path := writeConfigFile(t, `
buckets:
  primary:
    protocol: LOCAL
    rootPath: /data/primary
defaultBucket: primary
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Preflight())
	require.Equal(t, "primary", cfg.DefaultBucket)
	require.Equal(t, "/data/primary", cfg.Buckets["primary"].RootPath)
}

func TestPreflightRejectsUnimplementedProtocol(t *testing.T) {
	path := writeConfigFile(t, `
buckets:
  primary:
    protocol: S3
    rootPath: s3://bucket
defaultBucket: primary
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Preflight())
}

func TestPreflightRejectsUnknownDefaultBucket(t *testing.T) {
	path := writeConfigFile(t, `
buckets:
  primary:
    protocol: LOCAL
    rootPath: /data/primary
defaultBucket: nope
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, cfg.Preflight())
}

func TestBucketsStoreLazilyConstructsAndCaches(t *testing.T) {
	path := writeConfigFile(t, `
buckets:
  primary:
    protocol: LOCAL
    rootPath: `+t.TempDir()+`
defaultBucket: primary
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Preflight())

	buckets := config.NewBuckets(cfg)
	require.Equal(t, "primary", buckets.DefaultBucket())

	s1, err := buckets.Store("primary")
	require.NoError(t, err)
	s2, err := buckets.Store("primary")
	require.NoError(t, err)
	require.Same(t, s1, s2, "Store must cache the constructed backend")

	_, err = buckets.Store("missing")
	require.Error(t, err)
}

func TestBucketsWarmAllCreatesEveryConfiguredRoot(t *testing.T) {
	root1 := filepath.Join(t.TempDir(), "a")
	root2 := filepath.Join(t.TempDir(), "b")
	path := writeConfigFile(t, `
buckets:
  primary:
    protocol: LOCAL
    rootPath: `+root1+`
  secondary:
    protocol: LOCAL
    rootPath: `+root2+`
defaultBucket: primary
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Preflight())

	buckets := config.NewBuckets(cfg)
	require.NoError(t, buckets.WarmAll(context.Background()))

	require.DirExists(t, root1)
	require.DirExists(t, root2)
}
