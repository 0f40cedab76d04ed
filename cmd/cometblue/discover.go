package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/cometblue/internal/device"
	"github.com/srg/cometblue/internal/device/goble"
	"github.com/srg/cometblue/internal/discovery"
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover Comet Blue thermostats",
	Long: `Scans for BLE devices and probes each one over GATT, listing only
devices that identify as Comet Blue compatible thermostats.

Examples:
  # Scan with the default duration
  cometblue discover

  # Scan longer in a noisy environment
  cometblue discover --duration 30s`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

var discoverDuration time.Duration

func init() {
	discoverCmd.Flags().DurationVar(&discoverDuration, "duration", 0, "Scan duration (default from config, 10s)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	env, err := setupEnv(cmd)
	if err != nil {
		return err
	}

	duration := env.cfg.ScanDuration
	if discoverDuration > 0 {
		duration = discoverDuration
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	d := discovery.New(goble.Scan, func(addr string) discovery.Prober {
		return device.NewSession(goble.NewTransport(addr, env.log), device.Options{
			ResolveInterval: env.cfg.ResolveInterval,
			ResolveAttempts: env.cfg.ResolveAttempts,
			Logger:          env.log,
		})
	}, env.log)
	d.SetProbeTimeout(env.cfg.ConnectTimeout)

	devices, err := d.Discover(ctx, duration)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "No thermostats found")
		return nil
	}
	for _, dev := range devices {
		if dev.Name != "" {
			fmt.Printf("%s (%s)\n", dev.Address, dev.Name)
		} else {
			fmt.Println(dev.Address)
		}
	}
	return nil
}
