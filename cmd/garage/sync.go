package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/motogarage/garage/internal/offline/daemon"
	"github.com/motogarage/garage/internal/offline/dashboard"
	"github.com/motogarage/garage/internal/offline/engine"
	"github.com/motogarage/garage/internal/offline/schema"
	"github.com/motogarage/garage/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full sync now",
	Long: `Run one full sync against the backend.

This performs a full sync:
  1. Refreshes every collection that has no queued changes
  2. Sends queued changes in the order they were made
  3. Refreshes the collections whose queue just drained`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if version, err := a.checkBackend(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: backend check failed: %v\n", err)
		} else if version != "" {
			fmt.Printf("%s Backend API %s at %s\n", ui.RenderAccent("🔗"), version, a.gateway.BaseURL())
		}

		fmt.Printf("%s Syncing %d queued change(s)...\n", ui.RenderAccent("🔄"), a.queue.Len())

		report, err := a.engine.FullSync(ctx)
		switch {
		case errors.Is(err, engine.ErrOffline):
			fmt.Printf("%s Offline, %d change(s) stay queued\n", ui.RenderWarn("⚠"), a.queue.Len())
			return
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		printReport(report)
		if report.Failed > 0 || report.Skipped > 0 {
			fmt.Printf("   Still queued: %d\n", a.queue.Len())
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Display the local sync state.

Shows:
  - Connectivity and pending change counts per collection
  - Last full sync and last refresh per collection
  - Local store location and size`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		status := a.engine.Status()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding status: %v\n", err)
				os.Exit(1)
			}
			return
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		rows := [][2]string{
			{"Backend", a.gateway.BaseURL()},
			{"Connectivity", ui.RenderOnline(status.Online)},
			{"Pending", fmt.Sprint(status.PendingCount)},
			{"Last sync", formatTime(status.LastSyncedAt)},
			{"Aliases", fmt.Sprint(len(a.store.Aliases()))},
			{"Store", a.cfg.StorePath()},
		}
		if a.db != nil {
			if size, err := storeSize(cmd.Context(), a); err == nil {
				rows = append(rows, [2]string{"Size", formatSize(size)})
			}
		}
		fmt.Print(ui.KeyValue(rows))

		fmt.Printf("\n%s\n", ui.RenderHeader("Collections"))
		var kindRows [][2]string
		for _, kind := range schema.Kinds() {
			line := fmt.Sprintf("%d pending, refreshed %s", status.PendingByKind[kind], formatTime(status.LastSyncPerKind[kind]))
			kindRows = append(kindRows, [2]string{kind.Plural(), line})
		}
		fmt.Print(ui.KeyValue(kindRows))

		if pending := a.queue.Drain(); len(pending) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader("Queue"))
			for _, m := range pending {
				fmt.Printf("  %s %s\n", ui.RenderMuted(m.EnqueuedAt.Local().Format("2006-01-02 15:04:05")), m)
			}
		}
		fmt.Println()
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a full sync at startup and on every interval tick
  2. Run a full sync once each time connectivity comes back
  3. Serve the status dashboard (WebSocket /ws, GET /status)
  4. Accept sync-now, foreground and connectivity signals over HTTP

Connectivity comes from the configured flag file when one is set (the file
exists while online). Otherwise POST /connectivity?online=false|true flips it.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustOpenApp()
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if version, err := a.checkBackend(ctx); err != nil {
			a.sink.Logger("daemon").Printf("Warning: backend check failed: %v", err)
		} else if version != "" {
			a.sink.Logger("daemon").Printf("Backend API %s at %s", version, a.gateway.BaseURL())
		}

		interval := a.cfg.Sync.Interval
		if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
			interval = v
		}

		d, err := daemon.NewWithConfig(a.engine, a.monitor, &daemon.Config{
			Interval:    interval,
			SyncOnStart: true,
			Logger:      a.sink.Logger("daemon"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		var server *dashboard.Server
		if port > 0 {
			sources := dashboard.Sources{Status: a.engine, Control: d}
			if a.manual != nil {
				sources.Connectivity = a.manual
			}
			server, err = dashboard.NewServer(sources, &dashboard.Config{
				Port:   port,
				Logger: a.sink.Logger("dashboard"),
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating dashboard: %v\n", err)
				os.Exit(1)
			}
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Printf("%s Starting garage sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Backend: %s\n", a.gateway.BaseURL())
		fmt.Printf("   Store: %s\n", a.cfg.StorePath())
		fmt.Printf("   Interval: %s\n", interval)
		if server != nil {
			fmt.Printf("   Dashboard: http://%s (ws://%s/ws)\n", server.GetAddr(), server.GetAddr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks until ctx is cancelled
		runErr := d.Start(ctx)

		fmt.Println("\nShutting down...")
		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", runErr)
			os.Exit(1)
		}
		fmt.Println("Daemon stopped")
	},
}

func printReport(r schema.Report) {
	mark := ui.RenderPass("✓")
	if r.Failed > 0 {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Printf("%s Sync complete in %v\n", mark, r.Duration.Round(time.Millisecond))
	fmt.Printf("   Applied: %d\n", r.Applied)
	fmt.Printf("   Failed: %d\n", r.Failed)
	fmt.Printf("   Skipped: %d\n", r.Skipped)
	fmt.Printf("   Refreshed: %s\n", kindList(r.Pulled))
	if len(r.Deferred) > 0 {
		fmt.Printf("   Deferred: %s\n", kindList(r.Deferred))
	}
}

func storeSize(ctx context.Context, a *app) (int64, error) {
	keys, err := a.db.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		total += int64(k.Size)
	}
	return total, nil
}

func kindList(kinds []schema.Kind) string {
	if len(kinds) == 0 {
		return "none"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Plural()
	}
	sort.Strings(names)
	return fmt.Sprint(names)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "abort the sync after this long")
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
	daemonCmd.Flags().Duration("interval", 0, "periodic sync interval (default: sync.interval)")
	daemonCmd.Flags().IntP("port", "p", 0, "dashboard port, 0 disables (default: dashboard.port)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
}
