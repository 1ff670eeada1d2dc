package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/cryptox"
	"github.com/quyen-luc/prices-app/internal/logging"
	"github.com/quyen-luc/prices-app/internal/monitor"
	"github.com/quyen-luc/prices-app/internal/remote/database"
	"github.com/quyen-luc/prices-app/internal/services"
	"github.com/spf13/pflag"
)

// PassphraseEnv names the environment variable holding the passphrase used
// to open a sealed remote password.
const PassphraseEnv = "PRICESYNC_PASSPHRASE"

// Remote holds connection settings for the shared PostgreSQL store.
type Remote struct {
	Host     string
	Port     int
	User     string
	Database string
	SSLMode  string
	Password string // plain or sealed (cryptox)
	AuthMode string // database.AuthPassword or database.AuthIAM
	Region   string

	// Static AWS credentials for iam auth; the default chain is used when empty.
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	ConnectTimeout time.Duration
	MaxOpenConns   int
}

type Sync struct {
	BatchSize        int
	TombstoneChunk   int
	SafetyWindow     time.Duration
	AutoSyncInterval time.Duration
}

type Monitor struct {
	ProbeHost          string
	ProbeInterval      time.Duration
	PingTimeout        time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
}

// Config holds runtime settings for pricesync.
type Config struct {
	LocalDBPath  string
	IdentityFile string
	HealthAddr   string // empty disables the gRPC health endpoint

	Remote  Remote
	Sync    Sync
	Monitor Monitor
	Log     logging.Options
}

// DataDir is the directory holding the local database and the identity file
// by default.
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "pricesync")
	}
	return ".pricesync"
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	dir := DataDir()
	c.LocalDBPath = filepath.Join(dir, "prices.db")
	c.IdentityFile = filepath.Join(dir, "app-identity.json")
	c.HealthAddr = ""

	c.Remote = Remote{
		Host:           "localhost",
		Port:           5432,
		User:           "postgres",
		Database:       "prices",
		SSLMode:        "prefer",
		AuthMode:       database.AuthPassword,
		ConnectTimeout: 10 * time.Second,
		MaxOpenConns:   5,
	}

	sc := services.DefaultConfig()
	c.Sync = Sync{
		BatchSize:        sc.BatchSize,
		TombstoneChunk:   sc.TombstoneChunk,
		SafetyWindow:     sc.SafetyWindow,
		AutoSyncInterval: time.Minute,
	}

	mc := monitor.DefaultConfig()
	c.Monitor = Monitor{
		ProbeHost:          "google.com",
		ProbeInterval:      mc.ProbeInterval,
		PingTimeout:        mc.PingTimeout,
		ReconnectAttempts:  mc.MaxAttempts,
		ReconnectBaseDelay: mc.BaseDelay,
	}

	c.Log = logging.Options{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Load builds a Config from defaults, the JSON file named by the --config
// flag (if any) and the flags in fs that were explicitly set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if f := fs.Lookup(FlagConfig); f != nil && f.Value.String() != "" {
		path := f.Value.String()
		if err := loadJSON(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyFlags(cfg, fs); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RemotePassword returns the plain remote password. A sealed password is
// opened with PRICESYNC_PASSPHRASE, falling back to prompt when the variable
// is unset. prompt may be nil.
func (c *Config) RemotePassword(prompt func() ([]byte, error)) (string, error) {
	if !cryptox.IsSealed(c.Remote.Password) {
		return c.Remote.Password, nil
	}

	var passphrase []byte
	if env, ok := os.LookupEnv(PassphraseEnv); ok && env != "" {
		passphrase = []byte(env)
	} else if prompt != nil {
		p, err := prompt()
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		passphrase = p
	}
	if len(passphrase) == 0 {
		return "", common.ErrMissingPassphrase
	}

	plain, err := cryptox.Open(c.Remote.Password, passphrase)
	if err != nil {
		return "", fmt.Errorf("open remote password: %w", err)
	}
	return string(plain), nil
}

// DatabaseConfig converts the remote settings into a database.Config using
// the already opened password.
func (c *Config) DatabaseConfig(password string) database.Config {
	return database.Config{
		Host:               c.Remote.Host,
		Port:               c.Remote.Port,
		User:               c.Remote.User,
		Password:           password,
		Database:           c.Remote.Database,
		SSLMode:            c.Remote.SSLMode,
		AuthMode:           c.Remote.AuthMode,
		Region:             c.Remote.Region,
		AWSAccessKeyID:     c.Remote.AWSAccessKeyID,
		AWSSecretAccessKey: c.Remote.AWSSecretAccessKey,
		ConnectTimeout:     c.Remote.ConnectTimeout,
		MaxOpenConns:       c.Remote.MaxOpenConns,
	}
}

func (c *Config) ServiceConfig() services.Config {
	return services.Config{
		BatchSize:      c.Sync.BatchSize,
		TombstoneChunk: c.Sync.TombstoneChunk,
		SafetyWindow:   c.Sync.SafetyWindow,
	}
}

func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		ProbeInterval: c.Monitor.ProbeInterval,
		PingTimeout:   c.Monitor.PingTimeout,
		MaxAttempts:   c.Monitor.ReconnectAttempts,
		BaseDelay:     c.Monitor.ReconnectBaseDelay,
	}
}

// Validate reports settings that would make the engine unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.LocalDBPath == "" {
		errs = append(errs, errors.New("local database path is empty"))
	}
	if c.IdentityFile == "" {
		errs = append(errs, errors.New("identity file path is empty"))
	}
	if c.Remote.Host == "" {
		errs = append(errs, errors.New("remote host is empty"))
	}
	if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote port %d out of range", c.Remote.Port))
	}
	switch c.Remote.AuthMode {
	case database.AuthPassword:
	case database.AuthIAM:
		if c.Remote.Region == "" {
			errs = append(errs, errors.New("iam auth requires a region"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Remote.AuthMode))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.Sync.BatchSize))
	}
	return errors.Join(errs...)
}
