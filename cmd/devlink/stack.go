package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dhavalsavalia/devlink/internal/comm"
	"github.com/dhavalsavalia/devlink/internal/config"
	"github.com/dhavalsavalia/devlink/internal/descriptor"
	"github.com/dhavalsavalia/devlink/internal/device"
	"github.com/dhavalsavalia/devlink/internal/logging"
	"github.com/dhavalsavalia/devlink/internal/usbfs"
)

// stack is the monitor and device service built from one config.
type stack struct {
	monitor *device.Monitor
	service *comm.DeviceService
}

func initLogging(ctx context.Context, cfg *config.Config, outputs ...string) (context.Context, error) {
	return logging.Init(ctx,
		logging.WithLogLevel(cfg.Log.Level),
		logging.WithLogFormat(cfg.Log.Format),
		logging.WithOutputPaths(outputs),
	)
}

func newStack(cfg *config.Config, log *zap.Logger) (*stack, error) {
	var watcher device.Watcher
	switch cfg.Watch.Mode {
	case config.WatchModePoll:
		watcher = device.NewPollWatcher(time.Duration(cfg.Watch.PollInterval), device.WithWatchLogger(log))
	default:
		watcher = device.NewNotifyWatcher(device.WithWatchLogger(log))
	}

	mon, err := device.New(cfg.Device.DevDir,
		device.WithLogger(log),
		device.WithWatcher(watcher),
	)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	dc := cfg.Device
	factory := func(id descriptor.Identity) (comm.Delegate, error) {
		return usbfs.New(id,
			usbfs.WithDir(dc.DevDir),
			usbfs.WithInterface(uint8(dc.Interface)),
			usbfs.WithEndpoints(uint8(dc.EndpointIn), uint8(dc.EndpointOut)),
			usbfs.WithTimeout(time.Duration(dc.Timeout)),
			usbfs.WithLogger(log),
		), nil
	}

	svc, err := comm.NewDeviceService(dc.Identity(), factory, mon,
		comm.WithLogger(log),
		comm.WithInitialDelay(time.Duration(cfg.Restart.InitialDelay)),
		comm.WithMaxDelay(time.Duration(cfg.Restart.MaxDelay)),
		comm.WithAttempts(cfg.Restart.Attempts),
	)
	if err != nil {
		_ = mon.Close()
		return nil, err
	}

	return &stack{monitor: mon, service: svc}, nil
}

// start enables the monitor and tries the first connection. Only a
// monitor failure is fatal: an absent or unready device comes up when it
// next arrives.
func (s *stack) start(ctx context.Context, log *zap.Logger) error {
	err := s.service.Start(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, comm.ErrMonitor), errors.Is(err, comm.ErrClosed):
		return err
	case errors.Is(err, usbfs.ErrNotFound):
		log.Info("device not present, waiting for it")
		return nil
	default:
		log.Warn("initial connection failed, waiting for the device to return", zap.Error(err))
		return nil
	}
}

func (s *stack) Close() error {
	return errors.Join(s.service.Close(), s.monitor.Close())
}
