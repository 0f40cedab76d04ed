package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srg/cometblue/internal/backup"
	"github.com/srg/cometblue/internal/device"
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup <device-address> [file]",
	Short: "Save the device configuration (requires PIN)",
	Long: `Saves every restorable value as YAML to a file, or to stdout when no
file is given. The device clock is not captured.

Examples:
  cometblue backup E0:E5:CF:00:00:00 -p 0 thermostat.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBackup,
}

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore <device-address> [file]",
	Short: "Restore a saved configuration (requires PIN)",
	Long: `Restores a YAML backup from a file, or from stdin when no file is
given. The device clock is set to the current time afterwards.

Examples:
  cometblue restore E0:E5:CF:00:00:00 -p 0 thermostat.yaml`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

func runBackup(cmd *cobra.Command, args []string) error {
	env, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	if env.pin == nil {
		return fmt.Errorf("backup requires a PIN: use --pin or --pin-file")
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	var snap *backup.Snapshot
	err = runWithDevice(cmd, env, args[0], func(ctx context.Context, sess *device.Session) error {
		snap, err = backup.Take(sess, env.log)
		return err
	})
	if err != nil {
		return err
	}

	out := os.Stdout
	if len(args) == 2 {
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return snap.Write(out)
}

func runRestore(cmd *cobra.Command, args []string) error {
	env, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	if env.pin == nil {
		return fmt.Errorf("restore requires a PIN: use --pin or --pin-file")
	}

	in := os.Stdin
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("failed to open backup file: %w", err)
		}
		defer f.Close()
		in = f
	}
	snap, err := backup.Read(in)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	return runWithDevice(cmd, env, args[0], func(ctx context.Context, sess *device.Session) error {
		return backup.Restore(sess, snap, env.log)
	})
}
