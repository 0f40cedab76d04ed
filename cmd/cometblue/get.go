package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/srg/cometblue/internal/device"
	"github.com/srg/cometblue/internal/protocol"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <device-address> [value] [row]",
	Short: "Read thermostat values",
	Long: `Reads one value, one table row, or everything the device exposes.

Without a value name, every readable value plus the full weekly schedule and
holiday table is printed. Some values require a PIN to read.

Examples:
  # Read everything
  cometblue get E0:E5:CF:00:00:00 -p 0

  # Read the battery level
  cometblue get E0:E5:CF:00:00:00 -p 0 battery

  # Read the whole weekly schedule
  cometblue get E0:E5:CF:00:00:00 -p 0 days

  # Read Tuesday only (rows are zero-based, Monday first)
  cometblue get E0:E5:CF:00:00:00 -p 0 day 1`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	env, err := setupEnv(cmd)
	if err != nil {
		return err
	}

	address := args[0]
	var valueName string
	row := -1
	if len(args) >= 2 {
		valueName = args[1]
	}
	if len(args) == 3 {
		row, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid row %q: must be a number", args[2])
		}
	}

	if valueName != "" && valueName != "days" && valueName != "holidays" {
		v, ok := protocol.Lookup(valueName)
		if !ok {
			return fmt.Errorf("unknown value %q", valueName)
		}
		if v.Table() && row < 0 {
			return fmt.Errorf("value %q is a table: provide a row, or use %q", valueName, valueName+"s")
		}
		if !v.Table() && row >= 0 {
			return fmt.Errorf("value %q is not a table", valueName)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	return runWithDevice(cmd, env, address, func(ctx context.Context, sess *device.Session) error {
		switch {
		case valueName == "":
			return getAll(os.Stdout, sess, env.pin != nil)
		case valueName == "days":
			days, err := sess.Days()
			if err != nil {
				return err
			}
			printDays(os.Stdout, days)
			return nil
		case valueName == "holidays":
			holidays, err := sess.Holidays()
			if err != nil {
				return err
			}
			printHolidays(os.Stdout, holidays)
			return nil
		case row >= 0:
			value, err := sess.GetTableValue(valueName, row)
			if err != nil {
				return err
			}
			printValue(os.Stdout, fmt.Sprintf("%s %d", valueName, row+1), value)
			return nil
		default:
			value, err := sess.GetValue(valueName)
			if err != nil {
				return err
			}
			printValue(os.Stdout, valueName, value)
			return nil
		}
	})
}

// valueReader is the slice of the session getAll needs.
type valueReader interface {
	GetValue(name string) (interface{}, error)
	Days() ([][]protocol.Period, error)
	Holidays() ([]protocol.Holiday, error)
}

// getAll reads every readable value plus the full schedule tables. Without a
// PIN the protected values are skipped with a notice instead of failing the
// whole listing on the first one.
func getAll(w io.Writer, sess valueReader, hasPin bool) error {
	skipped := 0
	for _, v := range protocol.Values() {
		if !v.Readable || v.Table() {
			continue
		}
		if v.PinRead && !hasPin {
			skipped++
			continue
		}
		value, err := sess.GetValue(v.Name)
		if err != nil {
			return err
		}
		printValue(w, v.Name, value)
	}

	if hasPin {
		days, err := sess.Days()
		if err != nil {
			return err
		}
		printDays(w, days)

		holidays, err := sess.Holidays()
		if err != nil {
			return err
		}
		printHolidays(w, holidays)
	} else {
		skipped += 2 // the day and holiday tables
	}

	if skipped > 0 {
		fmt.Fprintf(w, "%d PIN-protected values skipped (no PIN configured)\n", skipped)
	}
	return nil
}
