package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/config"
	"github.com/mschirtzinger/obracontrol/internal/obra/daemon"
	"github.com/mschirtzinger/obracontrol/internal/obra/dashboard"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the dashboard server with live updates",
	Long: `Start the dashboard server for the active project key.

The server exposes a JSON API for every project operation and a WebSocket
that pushes the dataset to connected clients whenever it changes, whether
the change came from the API, from the remote store or from another obra
process writing the same data directory.

Endpoints:
  GET  /ws                       live snapshot, status and key_changed messages
  GET  /health                   health check
  GET  /metrics                  Prometheus metrics
  GET  /api/status               key, sync status and active project
  GET  /api/projects             project summaries
  GET  /api/projects/{id}/report weekly report (?format=xlsx)

The server binds 127.0.0.1 unless --host says otherwise. Mutating API
calls must send Content-Type: application/json, and browsers may only call
them from the dashboard's own origin or one listed in --allow-origin.

With serve.backup_interval set, an export of the key is written to
serve.backup_dir on that schedule, keeping serve.backup_keep files.

Example usage:
  obra serve                     # Start on the configured port (8080)
  obra serve --port 9000         # Start on a custom port
  obra serve --host 0.0.0.0      # Listen on every interface`,
	Run: func(cmd *cobra.Command, args []string) {
		noWatch, _ := cmd.Flags().GetBool("no-watch")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening workspace: %v\n", err)
			os.Exit(1)
		}
		defer a.Close(ctx)

		port := a.cfg.Serve.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		host := a.cfg.Serve.Host
		if cmd.Flags().Changed("host") {
			host, _ = cmd.Flags().GetString("host")
		}
		origins := a.cfg.Serve.AllowedOrigins
		if cmd.Flags().Changed("allow-origin") {
			origins, _ = cmd.Flags().GetStringSlice("allow-origin")
		}
		interval := a.cfg.Serve.BackupInterval
		if cmd.Flags().Changed("backup-interval") {
			interval, _ = cmd.Flags().GetDuration("backup-interval")
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:           port,
			Host:           host,
			AllowedOrigins: origins,
			Metrics:        a.metrics,
			Logger:         a.logs.Logger("dashboard"),
		})
		handler := dashboard.NewHandler(server, a.workspace, a.assistant(), nil)
		handler.Attach()
		defer handler.Detach()

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			return
		}

		var d *daemon.Daemon
		if !noWatch || interval > 0 {
			dc := daemon.DefaultConfig()
			dc.Logger = a.logs.Logger("daemon")
			if interval > 0 {
				dc.Backup = &daemon.BackupConfig{
					Exporter: a.workspace,
					Dir:      a.cfg.BackupDir(),
					Interval: interval,
					Keep:     a.cfg.Serve.BackupKeep,
					Logger:   a.logs.Logger("backup"),
				}
			}
			d, err = daemon.NewWithConfig(reloader(a, noWatch), a.cfg.DataDir, config.DBName, dc)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
				_ = server.Stop()
				return
			}
			go func() {
				if err := d.Start(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
				}
			}()
		}

		addr := server.Addr()
		fmt.Printf("%s Dashboard for %s on http://%s\n", ui.RenderAccent("🚀"), a.workspace.Key(), addr)
		fmt.Printf("   WebSocket: ws://%s/ws\n", addr)
		fmt.Printf("   Sync:      %s\n", ui.Status(a.workspace.Status()))
		if interval > 0 {
			fmt.Printf("   Backups:   every %s to %s\n", interval, a.cfg.BackupDir())
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if d != nil {
			if err := d.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
			}
		}
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

// noReload satisfies daemon.Reloader when only backups are wanted.
type noReload struct{}

func (noReload) ReloadLocal(context.Context) error { return nil }

func reloader(a *app, noWatch bool) daemon.Reloader {
	if noWatch {
		return noReload{}
	}
	return a.workspace
}

func init() {
	serveCmd.Flags().IntP("port", "P", 8080, "Port to listen on (default: serve.port)")
	serveCmd.Flags().String("host", "127.0.0.1", "Interface to bind, empty for all (default: serve.host)")
	serveCmd.Flags().StringSlice("allow-origin", nil, "Extra browser origin hosts allowed to call the API (default: serve.allowed_origins)")
	serveCmd.Flags().Duration("backup-interval", 0, "Write an export this often (default: serve.backup_interval)")
	serveCmd.Flags().Bool("no-watch", false, "Do not reload when other processes write the data directory")
	rootCmd.AddCommand(serveCmd)
}
