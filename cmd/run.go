package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/luxbot/internal/commands"
	"github.com/nextlevelbuilder/luxbot/internal/config"
	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
	webhttp "github.com/nextlevelbuilder/luxbot/internal/http"
	"github.com/nextlevelbuilder/luxbot/internal/session"
)

const (
	dedupeSize          = 4096
	rateCleanupInterval = time.Minute
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect the session and serve commands (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
}

func runBot(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	shutdownTracing := initTracing(ctx, cfg)
	defer shutdownTracing()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	mgr, err := session.New(managerOptions(cfg, rt))
	if err != nil {
		return err
	}

	deps := commands.Deps{
		Started: time.Now(),
		Status:  func() string { return string(mgr.Phase()) },
	}
	reg, err := commands.Rebuild(cfg.Commands, deps)
	if err != nil {
		return err
	}
	d := dispatch.New(rt.adapter, reg, dispatcherSettings(cfg),
		dispatch.WithDedupe(dedupeSize, cfg.Commands.DedupeTTL.Std()))

	g, gctx := errgroup.WithContext(ctx)
	rt.adapter.SetHandler(gctx, d)

	stopWatch := watchConfig(resolveConfigPath(), deps, d)
	defer stopWatch()

	g.Go(func() error {
		return superviseSession(gctx, mgr, cfg.Session.ReconnectDelay.Std())
	})

	g.Go(func() error {
		ticker := time.NewTicker(rateCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				d.CleanupRateLimits()
			}
		}
	})

	if cfg.Web.Enabled {
		srv := webhttp.NewServer(mgr, cfg.Web)
		g.Go(func() error { return srv.Run(gctx) })
	}

	slog.Info("luxbot started",
		"version", Version,
		"session", cfg.Session.ID,
		"backend", cfg.Session.Backend,
		"commands", reg.Len(),
		"web", cfg.Web.Enabled,
	)

	err = g.Wait()
	d.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type sessionRunner interface {
	Run(ctx context.Context) (session.Outcome, error)
	SessionID() string
}

// superviseSession runs the session and starts it again after a challenge
// timeout, so an unlinked bot keeps offering fresh challenges. It returns
// on logout, on any other error, or when ctx is done.
func superviseSession(ctx context.Context, mgr sessionRunner, delay time.Duration) error {
	for {
		outcome, err := mgr.Run(ctx)
		slog.Info("session ended", "session", mgr.SessionID(), "outcome", outcome)
		switch outcome {
		case session.OutcomeStopped:
			return nil
		case session.OutcomeChallengeTimeout:
			slog.Info("pairing not completed, offering a new challenge", "session", mgr.SessionID(), "delay", delay)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		return err
	}
}

// watchConfig rebuilds the command registry and dispatcher settings when the
// config file changes. Session settings apply on the next start.
func watchConfig(path string, deps commands.Deps, d *dispatch.Dispatcher) func() {
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
		return func() {}
	}
	w.OnChange(func(cfg *config.Config) {
		reg, err := commands.Rebuild(cfg.Commands, deps)
		if err != nil {
			slog.Warn("config reload: command registry rejected", "error", err)
			return
		}
		d.SwapRegistry(reg)
		d.UpdateSettings(dispatcherSettings(cfg))
		slog.Info("command registry rebuilt", "commands", reg.Len())
	})
	if err := w.Start(); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
		w.Stop()
		return func() {}
	}
	return w.Stop
}
