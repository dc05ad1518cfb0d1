// Package modkit carries the shared dependencies modules are built from
package modkit

import (
	"archiver/internal/modkit/repokit"
	"archiver/internal/platform/config"
	"archiver/internal/platform/logger"
	"archiver/internal/platform/store"

	"github.com/redis/go-redis/v9"
)

// Deps holds core dependencies passed to modules.
// Every backend is optional; modules pick what their options ask for
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
	CH  store.Clickhouse
	RDS *redis.Client
}

// FromStore copies the open backends of st into Deps
func FromStore(log logger.Logger, cfg config.Conf, st *store.Store) Deps {
	d := Deps{Log: log, Cfg: cfg}
	if st == nil {
		return d
	}
	d.PG = st.PG
	d.CH = st.CH
	d.RDS = st.RDS
	return d
}
