package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quyen-luc/prices-app/internal/services"
	"github.com/spf13/cobra"
)

func (e *env) pushCommand() *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload local changes to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				stop := watchProgress(eng, cmd.ErrOrStderr(), progress)
				res, err := eng.Push(ctx)
				stop()
				if err != nil {
					return err
				}
				printPush(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "print progress events")
	return cmd
}

func (e *env) pullCommand() *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download remote changes into the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				stop := watchProgress(eng, cmd.ErrOrStderr(), progress)
				res, err := eng.Pull(ctx)
				stop()
				if err != nil {
					return err
				}
				printPull(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "print progress events")
	return cmd
}

func (e *env) syncCommand() *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				stop := watchProgress(eng, cmd.ErrOrStderr(), progress)
				res, err := eng.FullSync(ctx)
				stop()
				printPush(cmd.OutOrStdout(), res.Push)
				printPull(cmd.OutOrStdout(), res.Pull)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "print progress events")
	return cmd
}

func (e *env) statusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and the remote connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				st, err := eng.Status(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printStatusJSON(cmd.OutOrStdout(), eng.NodeID(), st)
				}
				printStatus(cmd.OutOrStdout(), eng.NodeID(), st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func (e *env) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor the remote store and push on a timer while auto-sync is on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				return eng.Run(ctx)
			})
		},
	}
}

func (e *env) autoSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "autosync on|off",
		Short:     "Turn periodic pushing on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				if err := eng.SetAutoSync(ctx, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Auto-sync %s\n", args[0])
				return nil
			})
		},
	}
}

func (e *env) initialSyncCommand() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "initial-sync",
		Short: "Pull everything once if this store has never been synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withEngine(cmd, func(ctx context.Context, eng Engine) error {
				if reset {
					if err := eng.ResetFirstRun(ctx); err != nil {
						return err
					}
				}
				res, ran, err := eng.InitialSync(ctx)
				if err != nil {
					return err
				}
				if !ran {
					fmt.Fprintln(cmd.OutOrStdout(), "Initial sync already completed")
					return nil
				}
				printPull(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the first-run marker before syncing")
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "enable":
		return true, nil
	case "off", "false", "0", "disable":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// watchProgress prints events to w until the returned func is called.
func watchProgress(eng Engine, w io.Writer, enabled bool) func() {
	if !enabled {
		return func() {}
	}
	events, unsubscribe := eng.Progress()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printEvent(w, ev)
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

func printEvent(w io.Writer, ev services.Event) {
	switch ev.Phase {
	case services.PhaseFailed:
		fmt.Fprintf(w, "%s failed after %d records: %v\n", ev.Direction, ev.Count, ev.Err)
	default:
		fmt.Fprintf(w, "%s %s: %d records\n", ev.Direction, ev.Phase, ev.Count)
	}
}

func printPush(w io.Writer, r services.PushResult) {
	fmt.Fprintf(w, "Pushed: %d uploaded, %d dropped, %d failed\n", r.Uploaded, r.Dropped, r.Failed)
}

func printPull(w io.Writer, r services.PullResult) {
	fmt.Fprintf(w, "Pulled: %d downloaded, %d skipped, %d failed\n", r.Downloaded, r.Skipped, r.Failed)
}

func printStatus(w io.Writer, nodeID string, st services.Status) {
	fmt.Fprintf(w, "Node:              %s\n", nodeID)
	fmt.Fprintf(w, "Remote connected:  %t\n", st.RemoteConnected)
	fmt.Fprintf(w, "Pending uploads:   %d\n", st.PendingUploads)
	if st.PendingDownloads < 0 {
		fmt.Fprintln(w, "Pending downloads: unknown")
	} else {
		fmt.Fprintf(w, "Pending downloads: %d\n", st.PendingDownloads)
	}
	if st.LastSyncedAt != nil {
		fmt.Fprintf(w, "Last synced at:    %s\n", st.LastSyncedAt.UTC().Format("2006-01-02 15:04:05Z"))
	} else {
		fmt.Fprintln(w, "Last synced at:    never")
	}
	fmt.Fprintf(w, "Auto-sync:         %t\n", st.AutoSyncEnabled)
	fmt.Fprintf(w, "Syncing:           %t\n", st.IsSyncing)
}

type statusJSON struct {
	NodeID           string `json:"node_id"`
	RemoteConnected  bool   `json:"remote_connected"`
	PendingUploads   int    `json:"pending_uploads"`
	PendingDownloads int    `json:"pending_downloads"`
	LastSyncedAt     string `json:"last_synced_at,omitempty"`
	AutoSyncEnabled  bool   `json:"auto_sync_enabled"`
	IsSyncing        bool   `json:"is_syncing"`
}

func printStatusJSON(w io.Writer, nodeID string, st services.Status) error {
	out := statusJSON{
		NodeID:           nodeID,
		RemoteConnected:  st.RemoteConnected,
		PendingUploads:   st.PendingUploads,
		PendingDownloads: st.PendingDownloads,
		AutoSyncEnabled:  st.AutoSyncEnabled,
		IsSyncing:        st.IsSyncing,
	}
	if st.LastSyncedAt != nil {
		out.LastSyncedAt = st.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
