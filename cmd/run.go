// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vouch-cli/api/schemas"
	"github.com/xkilldash9x/vouch-cli/internal/browser"
	"github.com/xkilldash9x/vouch-cli/internal/captcha"
	"github.com/xkilldash9x/vouch-cli/internal/config"
	"github.com/xkilldash9x/vouch-cli/internal/executor"
	"github.com/xkilldash9x/vouch-cli/internal/observability"
	"github.com/xkilldash9x/vouch-cli/internal/retry"
	"github.com/xkilldash9x/vouch-cli/internal/session"
	"github.com/xkilldash9x/vouch-cli/internal/store"
	"github.com/xkilldash9x/vouch-cli/internal/telegram"
)

const shutdownGrace = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot and serve verification sessions until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runService(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(parent context.Context, cfg config.Config) error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	pollPolicy, err := retry.NewPolicy(cfg.Solver.PollInterval, cfg.Solver.MaxPollAttempts, clock)
	if err != nil {
		return fmt.Errorf("invalid solver poll policy: %w", err)
	}

	solver := captcha.NewClient(cfg.Solver, logger)
	resolver := captcha.NewResolver(solver, pollPolicy, cfg.Target, logger)

	var sink schemas.OutcomeSink
	if cfg.Store.DSN != "" {
		st, err := store.New(ctx, cfg.Store.DSN, logger)
		if err != nil {
			return fmt.Errorf("failed to open outcome store: %w", err)
		}
		defer st.Close()
		sink = st
	} else {
		logger.Info("Outcome store disabled, no DSN configured.")
	}

	registry := session.NewRegistry(cfg.Session, session.Deps{
		NewDriver: browser.NewFactory(cfg.Browser, logger),
		NewFlow:   browser.NewFlowFactory(cfg.Target, cfg.Browser, logger),
		Resolver:  resolver,
		Executor:  executor.New(cfg.Target, cfg.Browser.WaitTimeout, logger),
		Sink:      sink,
	}, logger, clock)

	bot, err := telegram.New(cfg.Telegram, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	registry.SetNotifier(bot)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return registry.RunSweeper(gctx) })

	logger.Info("Service running, waiting for sessions.")
	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if derr := registry.Shutdown(shutdownCtx); derr != nil {
		logger.Warn("Shutdown drain incomplete.", zap.Error(derr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Service stopped.")
	return nil
}
