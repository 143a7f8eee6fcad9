package config_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gwinstanley/dbpool/config"
	"github.com/gwinstanley/dbpool/pool"
)

const sample = `
name=accounting
drivers=postgres,oracle

orders.url=jdbc:postgres://db/orders
orders.minpool=2
orders.maxpool=10
orders.maxsize=15
orders.idletimeout=30
orders.access=FIFO
orders.prop.sslmode=require
orders.listeners=audit,metrics

legacy.url=jdbc:postgres://db/legacy
legacy.poolsize=5
legacy.maxconn=3
legacy.expiry=60
`

func TestLoadString_ParsesPoolSections(t *testing.T) {
	cfg, err := config.LoadString(sample, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "accounting", cfg.Name)
	require.Equal(t, []string{"postgres", "oracle"}, cfg.Drivers)

	orders, ok := cfg.Pools["orders"]
	require.True(t, ok)
	require.Equal(t, "jdbc:postgres://db/orders", orders.URL)
	require.Equal(t, 2, orders.MinPool)
	require.Equal(t, 10, orders.MaxPool)
	require.Equal(t, 15, orders.MaxSize)
	require.Equal(t, pool.FIFO, orders.Access)
	require.Equal(t, "require", orders.DriverProps["sslmode"])
	require.Equal(t, []string{"audit", "metrics"}, orders.Listeners)
}

// Legacy keys (poolsize, maxconn, expiry) resolve to their canonical
// replacements, and a maxsize below maxpool is raised to meet it.
func TestLoadString_ResolvesLegacyAliasesAndClampsMaxSize(t *testing.T) {
	cfg, err := config.LoadString(sample, zerolog.Nop())
	require.NoError(t, err)

	legacy, ok := cfg.Pools["legacy"]
	require.True(t, ok)
	require.Equal(t, 5, legacy.MaxPool)
	require.Equal(t, 5, legacy.MaxSize) // maxconn=3 raised to maxpool=5
	require.Equal(t, int64(60), legacy.IdleTimeout.Nanoseconds()/1e9)
}

func TestLoadString_RejectsMinPoolAboveMaxPool(t *testing.T) {
	_, err := config.LoadString(`bad.url=x
bad.minpool=9
bad.maxpool=1
`, zerolog.Nop())
	require.ErrorIs(t, err, pool.ErrConfigInvalid)
}

func TestLoadString_RequiresURL(t *testing.T) {
	_, err := config.LoadString("noturl.maxpool=1\n", zerolog.Nop())
	require.ErrorIs(t, err, pool.ErrConfigInvalid)
}

// §6 also accepts numbered listenerN keys alongside the CSV listeners
// form; they combine, in ascending N order, with duplicates removed.
func TestLoadString_CombinesNumberedListenersWithCSVForm(t *testing.T) {
	cfg, err := config.LoadString(`
numbered.url=jdbc:postgres://db/numbered
numbered.listeners=audit
numbered.listener0=audit
numbered.listener2=tracing
numbered.listener1=metrics
`, zerolog.Nop())
	require.NoError(t, err)

	numbered, ok := cfg.Pools["numbered"]
	require.True(t, ok)
	require.Equal(t, []string{"audit", "metrics", "tracing"}, numbered.Listeners)
}
