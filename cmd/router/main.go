// Command router runs the media plane relay: the WebSocket and
// WebTransport transports, the admin/observability HTTP API, and (when
// configured) the diagnostics sink — replacing the teacher's flag/os.Args
// dispatch in main.go/cli.go with a cobra command tree, grounded on
// LanternOps-breeze's apps/agent/cmd/breeze-agent/main.go (rootCmd with
// persistent flags, AddCommand-wired subcommands, one cobra.Command per
// operational concern).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mediaplane/router/internal/api"
	"github.com/mediaplane/router/internal/appconfig"
	"github.com/mediaplane/router/internal/auth"
	"github.com/mediaplane/router/internal/diagnostics"
	"github.com/mediaplane/router/internal/logging"
	"github.com/mediaplane/router/internal/room"
	"github.com/mediaplane/router/internal/server"
	"github.com/mediaplane/router/internal/store"
	"github.com/mediaplane/router/internal/tlscert"
)

// version is stamped at release build time via -ldflags; left as a plain
// default for development builds, matching the teacher's own Version var
// in main.go.
var version = "dev"

var (
	cfgSearchPath string
	dbPath        string
)

func main() {
	root := &cobra.Command{
		Use:   "router",
		Short: "mediaplane router: WebSocket/WebTransport media relay",
	}
	root.PersistentFlags().StringVar(&cfgSearchPath, "config-dir", ".", "directory to search for router.yaml")
	root.PersistentFlags().StringVar(&dbPath, "db", "router.db", "SQLite path for the room/ban/audit cache")

	root.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newStatusCmd(),
		newAuditCmd(),
		newBansCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the router version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mediaplane router %s\n", version)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "serve the WebSocket and WebTransport transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := appconfig.Load(cfgSearchPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	st, err := store.New(dbPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	hostname := ""
	if host, _, err := net.SplitHostPort(cfg.WebSocketAddr); err == nil && host != "" {
		hostname = host
	}
	cert, err := tlscert.Generate(24*time.Hour, hostname)
	if err != nil {
		return fmt.Errorf("generate TLS certificate: %w", err)
	}
	log.Infow("TLS certificate generated", "fingerprint", cert.Fingerprint)

	var diag *diagnostics.Sink
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Warnw("diagnostics disabled: nats connect failed", "url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Close()
			diag = diagnostics.NewSink(nc, diagnostics.Config{
				Region:      cfg.Region,
				ServiceType: cfg.ServiceType,
				ServerID:    cfg.ServerID,
			}, log)
		}
	}

	registry := room.NewRegistry(log)
	if cfg.RoomLingerMs > 0 {
		registry.SetLingerWindow(cfg.RoomLinger())
	}
	validator := auth.New(cfg.JWTSecret)
	srv := server.New(cfg, validator, registry, st, diag, log)
	api.Version = version
	apiSrv := api.New(registry, st, log)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.RunWebSocket(ctx, cfg.WebSocketAddr, cert.Config) }()
	go func() { errCh <- srv.RunWebTransport(ctx, cfg.WebTransportAddr, cert.Config) }()
	go apiSrv.Run(ctx, ":8080")

	go sweepLoop(ctx, registry, st, log)

	log.Infow("router started",
		"websocket_addr", cfg.WebSocketAddr,
		"webtransport_addr", cfg.WebTransportAddr,
	)

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// sweepLoop periodically reclaims empty rooms from the registry and purges
// expired bans from the local cache, mirroring the teacher's main.go
// ticker loop for mute-expiry/ban-purge housekeeping.
func sweepLoop(ctx context.Context, registry *room.Registry, st *store.Store, log interface {
	Infow(string, ...any)
	Warnw(string, ...any)
}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(); n > 0 {
				log.Infow("swept empty rooms", "count", n)
			}
			if n, err := st.PurgeExpiredBans(); err != nil {
				log.Warnw("purge expired bans failed", "err", err)
			} else if n > 0 {
				log.Infow("purged expired bans", "count", n)
			}
		}
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print a summary of the local room/ban cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, _ := logging.New("error")
			st, err := store.New(dbPath, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", dbPath)
			fmt.Fprintf(out, "Version: %s\n", version)
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <room-id>",
		Short: "print the audit log for a room from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, _ := logging.New("error")
			st, err := store.New(dbPath, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			entries, err := st.GetAuditLog(args[0], limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No audit entries found.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%d] %s %s %s %s\n", e.CreatedAt, e.ActorEmail, e.Action, e.Target, e.DetailsJSON)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of entries to print")
	return cmd
}

func newBansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bans",
		Short: "manage the local ban cache",
	}
	cmd.AddCommand(newBansAddCmd(), newBansCheckCmd())
	return cmd
}

func newBansAddCmd() *cobra.Command {
	var reason, bannedBy string
	var durationS int
	cmd := &cobra.Command{
		Use:   "add <email> <ip>",
		Short: "insert a ban record into the local cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, _ := logging.New("error")
			st, err := store.New(dbPath, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if _, err := st.InsertBan(args[0], args[1], reason, bannedBy, durationS); err != nil {
				return fmt.Errorf("insert ban: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "banned %s (%s)\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "ban reason")
	cmd.Flags().StringVar(&bannedBy, "by", "", "moderator email")
	cmd.Flags().IntVar(&durationS, "duration", 0, "ban duration in seconds (0 = permanent)")
	return cmd
}

func newBansCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <email> <ip>",
		Short: "check whether an identity is currently banned",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, _ := logging.New("error")
			st, err := store.New(dbPath, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			banned, reason, err := st.IsBanned(args[0], args[1])
			if err != nil {
				return fmt.Errorf("check ban: %w", err)
			}
			if banned {
				fmt.Fprintf(cmd.OutOrStdout(), "banned: %s\n", reason)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not banned")
			}
			return nil
		},
	}
}
