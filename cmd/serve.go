package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/bootstrap"
	"github.com/cladehq/clade/internal/channels"
	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/cron"
	"github.com/cladehq/clade/internal/heartbeat"
	"github.com/cladehq/clade/internal/ipc"
	"github.com/cladehq/clade/internal/memory"
	"github.com/cladehq/clade/internal/reflection"
	"github.com/cladehq/clade/internal/sessions"
	"github.com/cladehq/clade/internal/skills"
	"github.com/cladehq/clade/internal/store"
	"github.com/cladehq/clade/internal/tasks"
	"github.com/cladehq/clade/internal/tools"
	"github.com/cladehq/clade/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent host (same as running clade with no subcommand)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe boots the host and blocks until SIGINT/SIGTERM. Exit codes:
// 0 normal shutdown, 1 fatal init error, 2 incompatible external CLI.
func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	home, err := config.ResolveHome()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home.DataDir(), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(home.ConfigPath())
	if err != nil {
		return err
	}
	log := slog.Default()

	cliCfg := cfg.CLISnapshot()
	if _, err := cli.Probe(ctx, cliCfg.Command); err != nil {
		var incompat *cli.IncompatibleError
		if errors.As(err, &incompat) {
			fmt.Fprintln(os.Stderr, "error:", incompat.Error())
			os.Exit(2)
		}
		return err
	}

	st, err := store.Open(home.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	shutdownTracing, err := tracing.Setup(ctx, cfg.TelemetrySnapshot(), Version)
	if err != nil {
		log.Warn("telemetry setup failed, continuing without", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	registry := agents.NewRegistry(home, cfg, func() error {
		return config.Save(home.ConfigPath(), cfg)
	}, log)
	for _, id := range registry.IDs() {
		if _, err := bootstrap.EnsureAgentFiles(home, id); err != nil {
			log.Warn("seeding agent files failed", "agent", id, "error", err)
		}
	}

	if err := skills.Sync(ctx, st, home, cfg.SkillsSnapshot(), log); err != nil {
		log.Warn("skill sync failed, continuing with stored rows", "error", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}
	builder := tools.NewBuilder(home, home.SocketPath(), selfExe, log)
	runner := cli.NewRunner(cliCfg.Command, parseDuration(cliCfg.IdleTimeout, 120*time.Second), parseDuration(cliCfg.HardTimeout, 30*time.Minute), log)

	mgr := sessions.NewManager(st, registry, cfg, builder, runner, nil, log)
	mgr.SetReflector(reflection.NewDriver(registry, runner, home, log))

	chanMgr := channels.NewManager(cfg, mgr, log)
	cronSched := cron.NewScheduler(st, mgr, chanMgr, log)
	taskQueue := tasks.NewQueue(st, mgr, cfg.TasksMaxConcurrent(), log)
	indexer := memory.NewIndexer(st, home, registry, log)
	hb := heartbeat.NewDriver(registry, mgr, log)

	ipcSrv := ipc.NewServer(home.SocketPath(), mgr, registry, st, taskQueue, indexer, log)
	ipcSrv.SetDeliverer(chanMgr)

	// Start concurrently; both walk the store/home before their first tick.
	var g errgroup.Group
	g.Go(func() error { return cronSched.Start(ctx) })
	g.Go(func() error { return indexer.Start(ctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start background drivers: %w", err)
	}
	if err := ipcSrv.Start(); err != nil {
		return err
	}
	taskQueue.Start()
	hb.Start()
	chanMgr.StartAll(ctx)

	log.Info("clade host running",
		"home", home.Dir(),
		"socket", ipcSrv.SocketPath(),
		"agents", len(registry.IDs()),
		"version", Version)

	<-ctx.Done()
	log.Info("shutting down")

	// Stop intake first, then the drivers that feed the session manager.
	ipcSrv.Stop()
	chanMgr.StopAll(context.Background())
	hb.Stop()
	cronSched.Stop()
	taskQueue.Stop()
	indexer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
