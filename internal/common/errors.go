// Package common defines sentinel errors and small helpers shared by the
// local store, the remote store and the sync services. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Sync-level errors.
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrRemoteNotConnected = errors.New("remote database is not connected")

	// Connectivity errors.
	ErrNoInternet         = errors.New("no internet connection")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// Configuration errors.
	ErrMissingPassphrase = errors.New("passphrase required to open sealed password")
)
