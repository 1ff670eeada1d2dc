package cli

import (
	"context"

	"github.com/quyen-luc/prices-app/internal/app"
	"github.com/quyen-luc/prices-app/internal/config"
	"github.com/quyen-luc/prices-app/internal/services"
)

// Engine is the part of the application the commands drive.
type Engine interface {
	NodeID() string
	Push(ctx context.Context) (services.PushResult, error)
	Pull(ctx context.Context) (services.PullResult, error)
	FullSync(ctx context.Context) (services.FullSyncResult, error)
	Status(ctx context.Context) (services.Status, error)
	SetAutoSync(ctx context.Context, enabled bool) error
	InitialSync(ctx context.Context) (services.PullResult, bool, error)
	ResetFirstRun(ctx context.Context) error
	Progress() (<-chan services.Event, func())
	Run(ctx context.Context) error
	Close() error
}

// Opener builds an Engine from a loaded config.
type Opener func(ctx context.Context, cfg *config.Config) (Engine, error)

// OpenApp is the production Opener.
func OpenApp(ctx context.Context, cfg *config.Config) (Engine, error) {
	a, err := app.NewApp(ctx, cfg, app.Options{Prompt: PromptPassphrase})
	if err != nil {
		return nil, err
	}
	return appEngine{a}, nil
}

type appEngine struct {
	*app.App
}

func (e appEngine) NodeID() string {
	return e.Sync.NodeID()
}

func (e appEngine) Push(ctx context.Context) (services.PushResult, error) {
	return e.Sync.Push(ctx)
}

func (e appEngine) Pull(ctx context.Context) (services.PullResult, error) {
	return e.Sync.Pull(ctx)
}

func (e appEngine) FullSync(ctx context.Context) (services.FullSyncResult, error) {
	return e.Sync.FullSync(ctx)
}

func (e appEngine) Status(ctx context.Context) (services.Status, error) {
	return e.Sync.Status(ctx)
}

func (e appEngine) SetAutoSync(ctx context.Context, enabled bool) error {
	return e.Sync.SetAutoSync(ctx, enabled)
}

func (e appEngine) InitialSync(ctx context.Context) (services.PullResult, bool, error) {
	return e.Sync.InitialSync(ctx)
}

func (e appEngine) ResetFirstRun(ctx context.Context) error {
	return e.Sync.ResetFirstRun(ctx)
}

func (e appEngine) Progress() (<-chan services.Event, func()) {
	return e.App.Progress.Subscribe()
}
