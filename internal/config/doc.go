// Package config loads runtime configuration for pricesync.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config / -c.
//  3. Command-line flags registered by AddFlags. Only flags that were set
//     on the command line override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "10s" or
// integer nanoseconds. Keys left out of the file keep their defaults:
//
//	{
//	  "local_db_path": "/var/lib/pricesync/prices.db",
//	  "remote": {
//	    "host": "db.internal",
//	    "port": 5432,
//	    "user": "pricesync",
//	    "database": "prices",
//	    "sslmode": "require",
//	    "password": "v1.<salt>.<nonce>.<ciphertext>",
//	    "auth_mode": "password"
//	  },
//	  "sync": { "batch_size": 1000, "safety_window": "60s", "auto_sync_interval": "1m" },
//	  "monitor": { "probe_host": "google.com", "probe_interval": "10s" },
//	  "health_addr": "127.0.0.1:50061",
//	  "log": { "level": "info", "file": "" }
//	}
//
// The remote password may be stored sealed (see cryptox.Seal). A sealed
// value is opened with the passphrase from PRICESYNC_PASSPHRASE or, when the
// variable is unset, with a passphrase supplied by the caller.
package config
