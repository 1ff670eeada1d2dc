// Package database owns the connection pool to the shared PostgreSQL store
// and the credentials used to open it.
//
// The pool can be torn down and rebuilt with Reconnect, which the connection
// monitor calls when a health check keeps failing while the network is up.
// Repositories fetch the current handle through DB on every call, so a
// rebuilt pool is picked up without rewiring.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/quyen-luc/prices-app/internal/common"
)

// Auth modes.
const (
	AuthPassword = "password"
	AuthIAM      = "iam"
)

// Config describes how to reach the remote store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	AuthMode string // AuthPassword or AuthIAM
	Region   string // AWS region for IAM tokens

	// Optional static AWS credentials; the default chain is used when empty.
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	ConnectTimeout time.Duration
	MaxOpenConns   int
}

// Opener creates a fresh connection pool.
type Opener func(ctx context.Context) (*sql.DB, error)

// Database is a replaceable handle to the remote pool.
type Database struct {
	mu   sync.RWMutex
	db   *sql.DB
	open Opener
}

// New wraps an Opener without connecting.
func New(open Opener) *Database {
	return &Database{open: open}
}

// Open builds an Opener from cfg and connects once. A failed first connect
// still returns the Database so the monitor can retry later.
func Open(ctx context.Context, cfg Config) (*Database, error) {
	opener, err := NewOpener(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := New(opener)
	return d, d.Reconnect(ctx)
}

// NewOpener returns an Opener for the pgx stdlib driver honouring cfg.AuthMode.
func NewOpener(ctx context.Context, cfg Config) (Opener, error) {
	connConfig, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid remote database config: %w", err)
	}
	connConfig.Password = cfg.Password

	var opts []stdlib.OptionOpenDB
	switch cfg.AuthMode {
	case "", AuthPassword:
	case AuthIAM:
		beforeConnect, err := iamBeforeConnect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stdlib.OptionBeforeConnect(beforeConnect))
	default:
		return nil, fmt.Errorf("unknown remote auth mode %q", cfg.AuthMode)
	}

	return func(ctx context.Context) (*sql.DB, error) {
		db := stdlib.OpenDB(*connConfig, opts...)
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		return db, nil
	}, nil
}

// DSN renders cfg as a postgres URL without the password.
func DSN(cfg Config) string {
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	if cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(cfg.User),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// DB returns the current pool, or nil before the first successful connect.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Ping runs the health probe: SELECT 1.
func (d *Database) Ping(ctx context.Context) error {
	db := d.DB()
	if db == nil {
		return common.ErrRemoteNotConnected
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("remote health check: %w", err)
	}
	return nil
}

// Reconnect opens a new pool, verifies it and swaps it in. The previous pool
// is closed only after the new one answers.
func (d *Database) Reconnect(ctx context.Context) error {
	db, err := d.open(ctx)
	if err != nil {
		return fmt.Errorf("open remote database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("connect remote database: %w", err)
	}

	d.mu.Lock()
	old := d.db
	d.db = db
	d.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the pool.
func (d *Database) Close() error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.mu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}
