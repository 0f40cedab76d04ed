package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/cometblue/internal/device"
	"github.com/srg/cometblue/internal/device/goble"
	"github.com/srg/cometblue/internal/runner"
	"github.com/srg/cometblue/pkg/config"
)

// commandEnv bundles the resolved configuration every device command needs.
type commandEnv struct {
	cfg *config.Config
	log *logrus.Logger
	pin *uint32
}

// setupEnv loads the config file, configures logging and resolves the PIN.
func setupEnv(cmd *cobra.Command) (*commandEnv, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	pin, err := resolvePIN(cmd, cfg)
	if err != nil {
		return nil, err
	}

	if err := goble.SetAdapter(cfg.Adapter); err != nil {
		return nil, err
	}

	return &commandEnv{cfg: cfg, log: logger, pin: pin}, nil
}

// resolvePIN picks the device PIN: --pin flag, then --pin-file, then config.
func resolvePIN(cmd *cobra.Command, cfg *config.Config) (*uint32, error) {
	if s, _ := cmd.Flags().GetString("pin"); s != "" {
		return parsePIN(s)
	}
	if path, _ := cmd.Flags().GetString("pin-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read PIN file: %w", err)
		}
		return parsePIN(strings.TrimSpace(string(data)))
	}
	return cfg.PIN, nil
}

func parsePIN(s string) (*uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid PIN %q: must be a decimal number", s)
	}
	pin := uint32(n)
	return &pin, nil
}

// signalContext returns a context canceled by Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runWithDevice wires transport, session and runner together and executes fn
// as the single queued command: the runner keeps the transport loop serviced
// so write confirmations are delivered while fn blocks on them.
func runWithDevice(cmd *cobra.Command, env *commandEnv, address string, fn func(ctx context.Context, sess *device.Session) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	transport := goble.NewTransport(address, env.log)
	r := runner.New(transport, env.log)
	sess := device.NewSession(transport, device.Options{
		PIN:             env.pin,
		WriteTimeout:    env.cfg.WriteTimeout,
		ResolveInterval: env.cfg.ResolveInterval,
		ResolveAttempts: env.cfg.ResolveAttempts,
		Abort:           r.Abort(),
		Logger:          env.log,
	})

	r.EnqueueCommand(cmd.Name(), func(ctx context.Context) error {
		connectCtx, cancel := context.WithTimeout(ctx, env.cfg.ConnectTimeout)
		defer cancel()
		if err := sess.Acquire(connectCtx); err != nil {
			return err
		}
		defer sess.Release()
		return fn(ctx, sess)
	})
	r.EnqueueCleanup("disconnect", func() {
		_ = sess.Disconnect()
	})

	return r.Run(ctx)
}
