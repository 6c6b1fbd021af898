package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	xerrors "DeepResearch/internal/errors"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultPingTimeout     = 5 * time.Second
	defaultDialTimeout     = 10 * time.Second
)

// Config holds MySQL connection settings shared by the report archive and
// the task store.
type Config struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// connectorConfig parses the DSN, bounds the dial and keeps session times
// in UTC to match the unix timestamps the tables store.
func connectorConfig(dsn string) (*driver.Config, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mysql dsn is empty")
	}
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse mysql dsn")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDialTimeout
	}
	cfg.Loc = time.UTC
	return cfg, nil
}

// OpenDatabase opens a pooled handle and pings it.
func OpenDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsnCfg, err := connectorConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(dsnCfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "build mysql connector")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, defaultConnMaxLifetime))
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping mysql at "+dsnCfg.Addr, xerrors.WithRetryable(true))
	}
	return db, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
