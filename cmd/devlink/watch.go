package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/config"
	"github.com/dhavalsavalia/devlink/internal/device"
	"github.com/dhavalsavalia/devlink/internal/logging"
	"github.com/dhavalsavalia/devlink/internal/ui"
)

const feedSize = 64

func newWatchCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the link up with a terminal status view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}

			// The terminal belongs to the view, so logs go to a file.
			logFile := cfg.Log.File
			if logFile == "" {
				if logFile, err = config.DefaultLogPath(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, err = initLogging(ctx, cfg, logFile)
			if err != nil {
				return fmt.Errorf("cannot init logging: %w", err)
			}
			log := logging.FromContext(ctx)

			st, err := newStack(cfg, log)
			if err != nil {
				return err
			}

			feed := ui.NewFeed(feedSize)
			svc := st.service
			svc.OnStateChange(func(s comm.State) {
				feed.Publish(ui.StateUpdate{State: s, Session: svc.Session()})
			})
			svc.Subscribe(func(msg comm.Message) {
				feed.Publish(ui.MessageUpdate{Message: msg})
			})
			st.monitor.Subscribe(func(ev device.Event) {
				feed.Publish(ui.DeviceUpdate{Event: ev})
			})

			if err := st.start(ctx, log); err != nil {
				_ = st.Close()
				return err
			}

			p := tea.NewProgram(ui.NewModel(svc, st.monitor, feed.Updates()),
				tea.WithAltScreen(),
				tea.WithContext(ctx),
			)
			monitorErr := make(chan error, 1)
			go func() {
				select {
				case err := <-st.monitor.Err():
					log.Error("device monitor stopped", zap.Error(err))
					err = fmt.Errorf("device monitor stopped: %w", err)
					monitorErr <- err
					feed.Publish(ui.ErrorUpdate{Err: err})
					p.Quit()
				case <-ctx.Done():
				}
			}()

			_, runErr := p.Run()
			interrupted := ctx.Err() != nil
			stop()
			feed.Close()
			if err := st.Close(); err != nil {
				log.Error("cannot close", zap.Error(err))
			}

			select {
			case err := <-monitorErr:
				return err
			default:
			}
			if runErr != nil && !interrupted {
				return runErr
			}
			return nil
		},
	}
}
