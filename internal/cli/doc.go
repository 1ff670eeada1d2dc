// Package cli implements the pricesync command tree on top of cobra.
//
// Commands
//
//	pricesync push                 upload local changes
//	pricesync pull                 download remote changes
//	pricesync sync                 push, then pull
//	pricesync status [--json]      pending counts and connection state
//	pricesync run                  long-running mode: monitor + auto-sync
//	pricesync autosync on|off      persist the auto-sync preference
//	pricesync initial-sync [--reset]
//	pricesync secret seal          seal a remote password for the config file
//	pricesync version
//
// Every command accepts the configuration flags registered by
// config.AddFlags, including --config/-c for a JSON file.
package cli
