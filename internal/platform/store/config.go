package store

import (
	"time"

	"archiver/internal/platform/config"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG  PGConfig
	CH  CHConfig
	RDS RedisConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	ConnectRetries   int           // default 20
	PingTimeout      time.Duration // default 3s
	StatementTimeout time.Duration
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string
}

// RedisConfig configures redis connectivity
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ConfigFromEnv reads SERVICE_PGSQL_*, SERVICE_CH_* and SERVICE_REDIS_*.
// A backend is enabled when its address is set
func ConfigFromEnv(cfg config.Conf, app string) Config {
	pg := cfg.Prefix("SERVICE_PGSQL_")
	ch := cfg.Prefix("SERVICE_CH_")
	rd := cfg.Prefix("SERVICE_REDIS_")

	out := Config{
		AppName: app,
		PG: PGConfig{
			URL:            pg.MayString("DBURL", ""),
			MaxConns:       int32(pg.MayInt("MAX_CONNS", 8)),
			LogSQL:         pg.MayBool("LOG_SQL", false),
			SlowQueryMs:    pg.MayInt("SLOW_MS", 500),
			ConnectRetries: pg.MayInt("CONNECT_RETRIES", 20),
			PingTimeout:    pg.MayDuration("PING_TIMEOUT", 3*time.Second),

			StatementTimeout: pg.MayDuration("STATEMENT_TIMEOUT", 0),
		},
		CH: CHConfig{
			URL:  ch.MayString("DSN", ""),
			Role: app,
		},
		RDS: RedisConfig{
			Addr:     rd.MayString("ADDR", ""),
			Password: rd.MayString("PASSWORD", ""),
			DB:       rd.MayInt("DB", 0),
		},
	}
	out.PG.Enabled = out.PG.URL != ""
	out.CH.Enabled = out.CH.URL != ""
	out.RDS.Enabled = out.RDS.Addr != ""
	return out
}
