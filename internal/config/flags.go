package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flag names.
const (
	FlagConfig           = "config"
	FlagLocalDB          = "local-db"
	FlagIdentityFile     = "identity-file"
	FlagHealthAddr       = "health-addr"
	FlagRemoteHost       = "remote-host"
	FlagRemotePort       = "remote-port"
	FlagRemoteUser       = "remote-user"
	FlagRemoteDatabase   = "remote-db"
	FlagRemoteSSLMode    = "remote-sslmode"
	FlagRemoteAuth       = "remote-auth"
	FlagAWSRegion        = "aws-region"
	FlagBatchSize        = "batch-size"
	FlagSafetyWindow     = "safety-window"
	FlagAutoSyncInterval = "autosync-interval"
	FlagProbeHost        = "probe-host"
	FlagProbeInterval    = "probe-interval"
	FlagReconnectTries   = "reconnect-attempts"
	FlagReconnectDelay   = "reconnect-delay"
	FlagLogLevel         = "log-level"
	FlagLogFile          = "log-file"
)

// AddFlags registers the configuration flags on fs. Help output shows the
// built-in defaults; only flags set explicitly override the JSON file.
func AddFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to a JSON config file")
	fs.String(FlagLocalDB, d.LocalDBPath, "path to the local SQLite database")
	fs.String(FlagIdentityFile, d.IdentityFile, "path to the node identity file")
	fs.String(FlagHealthAddr, d.HealthAddr, "address for the gRPC health endpoint (empty disables it)")

	fs.String(FlagRemoteHost, d.Remote.Host, "remote PostgreSQL host")
	fs.Int(FlagRemotePort, d.Remote.Port, "remote PostgreSQL port")
	fs.String(FlagRemoteUser, d.Remote.User, "remote PostgreSQL user")
	fs.String(FlagRemoteDatabase, d.Remote.Database, "remote PostgreSQL database")
	fs.String(FlagRemoteSSLMode, d.Remote.SSLMode, "remote PostgreSQL sslmode")
	fs.String(FlagRemoteAuth, d.Remote.AuthMode, "remote auth mode: password or iam")
	fs.String(FlagAWSRegion, d.Remote.Region, "AWS region used for iam auth")

	fs.Int(FlagBatchSize, d.Sync.BatchSize, "rows per push/pull page")
	fs.Duration(FlagSafetyWindow, d.Sync.SafetyWindow, "overlap subtracted from the pull low-water mark")
	fs.Duration(FlagAutoSyncInterval, d.Sync.AutoSyncInterval, "auto-sync push interval")

	fs.String(FlagProbeHost, d.Monitor.ProbeHost, "host resolved to detect internet connectivity")
	fs.Duration(FlagProbeInterval, d.Monitor.ProbeInterval, "connectivity probe interval")
	fs.Int(FlagReconnectTries, d.Monitor.ReconnectAttempts, "reconnect attempts before giving up")
	fs.Duration(FlagReconnectDelay, d.Monitor.ReconnectBaseDelay, "base delay of the reconnect backoff")

	fs.String(FlagLogLevel, d.Log.Level, "log level: debug, info, warn, error")
	fs.String(FlagLogFile, d.Log.File, "rotating log file (stderr only when empty)")
}

// applyFlags copies every flag that was set on the command line into cfg.
// Flags that were never registered on fs are ignored.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	strs := map[string]*string{
		FlagLocalDB:        &cfg.LocalDBPath,
		FlagIdentityFile:   &cfg.IdentityFile,
		FlagHealthAddr:     &cfg.HealthAddr,
		FlagRemoteHost:     &cfg.Remote.Host,
		FlagRemoteUser:     &cfg.Remote.User,
		FlagRemoteDatabase: &cfg.Remote.Database,
		FlagRemoteSSLMode:  &cfg.Remote.SSLMode,
		FlagRemoteAuth:     &cfg.Remote.AuthMode,
		FlagAWSRegion:      &cfg.Remote.Region,
		FlagProbeHost:      &cfg.Monitor.ProbeHost,
		FlagLogLevel:       &cfg.Log.Level,
		FlagLogFile:        &cfg.Log.File,
	}
	for name, dst := range strs {
		if !changed(fs, name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		FlagRemotePort:     &cfg.Remote.Port,
		FlagBatchSize:      &cfg.Sync.BatchSize,
		FlagReconnectTries: &cfg.Monitor.ReconnectAttempts,
	}
	for name, dst := range ints {
		if !changed(fs, name) {
			continue
		}
		v, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	durs := map[string]*time.Duration{
		FlagSafetyWindow:     &cfg.Sync.SafetyWindow,
		FlagAutoSyncInterval: &cfg.Sync.AutoSyncInterval,
		FlagProbeInterval:    &cfg.Monitor.ProbeInterval,
		FlagReconnectDelay:   &cfg.Monitor.ReconnectBaseDelay,
	}
	for name, dst := range durs {
		if !changed(fs, name) {
			continue
		}
		v, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

func changed(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}
