package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/device"
	"github.com/dhavalsavalia/devlink/internal/logging"
)

func newRunCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the link up without a UI, logging to stderr",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, err = initLogging(ctx, cfg, cfg.Log.File)
			if err != nil {
				return fmt.Errorf("cannot init logging: %w", err)
			}
			st, err := newStack(cfg, logging.FromContext(ctx))
			if err != nil {
				return err
			}
			return runHeadless(ctx, st)
		},
	}
}

// runHeadless keeps the link up until ctx is done or the monitor fails.
func runHeadless(ctx context.Context, st *stack) error {
	log := logging.FromContext(ctx)
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("cannot close", zap.Error(err))
		}
	}()

	svc := st.service
	svc.OnStateChange(func(s comm.State) {
		if s == comm.Up {
			log.Info("link up", zap.String("session", svc.Session()))
		}
	})
	svc.Subscribe(func(msg comm.Message) {
		log.Info("message received", zap.Int("id", msg.ID), zap.Binary("payload", msg.Payload()))
	})
	st.monitor.Subscribe(func(ev device.Event) {
		log.Debug("presence event",
			zap.Stringer("kind", ev.Kind),
			zap.Stringer("identity", ev.Identity),
			zap.String("path", ev.Path),
		)
	})

	log.Info("starting", zap.Stringer("device", svc.Identity()), zap.String("dir", st.monitor.Dir()))
	if err := st.start(ctx, log); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-st.monitor.Err():
		return fmt.Errorf("device monitor stopped: %w", err)
	}
}
