package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AngelCh415/affilka-etl/internal/config"
	"github.com/AngelCh415/affilka-etl/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuild_MemoryWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{RedisAddr: mr.Addr(), LockTTL: time.Minute, HTTPTimeout: time.Second}

	a, err := Build(context.Background(), cfg, quiet(), prometheus.NewRegistry(), true)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &store.MemoryStore{}, a.Store)
	assert.NotNil(t, a.ETL)
	assert.NotNil(t, a.Totals)
	assert.NoError(t, a.Store.Ping(context.Background()))
}

func TestBuild_NoDatabaseFallsBackToMemory(t *testing.T) {
	a, err := Build(context.Background(), config.Config{}, quiet(), nil, false)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &store.MemoryStore{}, a.Store)
}

func TestBuild_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Build(context.Background(), config.Config{RedisAddr: addr}, quiet(), nil, true)
	assert.Error(t, err)
}
