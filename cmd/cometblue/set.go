package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/cometblue/internal/device"
	"github.com/srg/cometblue/internal/protocol"
)

// setCmd represents the set command
var setCmd = &cobra.Command{
	Use:   "set <device-address> <value> <args...>",
	Short: "Write thermostat values (requires PIN)",
	Long: `Writes one value. All writes require the device PIN.

Examples:
  # Sync the device clock
  cometblue set E0:E5:CF:00:00:00 -p 0 datetime now

  # Set the manual target temperature
  cometblue set E0:E5:CF:00:00:00 -p 0 temperatures manual=21 offset=0.5

  # Toggle status flags (other flags keep their current state)
  cometblue set E0:E5:CF:00:00:00 -p 0 status childlock=on manual_mode=off

  # Set Monday's heating periods (rows are zero-based, Monday first)
  cometblue set E0:E5:CF:00:00:00 -p 0 day 0 06:00-09:00 17:00-22:30

  # Clear Monday
  cometblue set E0:E5:CF:00:00:00 -p 0 day 0 clear

  # Program the first holiday slot
  cometblue set E0:E5:CF:00:00:00 -p 0 holiday 0 "2026-12-24 12:00" "2026-12-27 18:00" 16

  # Change the PIN
  cometblue set E0:E5:CF:00:00:00 -p 0 pin 1234`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSet,
}

func runSet(cmd *cobra.Command, args []string) error {
	env, err := setupEnv(cmd)
	if err != nil {
		return err
	}
	if env.pin == nil {
		return fmt.Errorf("set requires a PIN: use --pin or --pin-file")
	}

	address, valueName, rest := args[0], args[1], args[2:]

	apply, err := buildSetter(valueName, rest)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	return runWithDevice(cmd, env, address, func(ctx context.Context, sess *device.Session) error {
		return apply(sess)
	})
}

// buildSetter parses the value-specific arguments up front so argument errors
// surface before any connection is attempted.
func buildSetter(valueName string, args []string) (func(*device.Session) error, error) {
	switch valueName {
	case "datetime":
		when := time.Now()
		if len(args) > 0 && args[0] != "now" {
			parsed, err := parseDateTime(strings.Join(args, " "))
			if err != nil {
				return nil, err
			}
			when = parsed
		}
		return func(s *device.Session) error { return s.SetValue("datetime", when) }, nil

	case "status":
		changes, err := parseFlagArgs(args)
		if err != nil {
			return nil, err
		}
		return func(s *device.Session) error {
			// Read-modify-write so unmentioned flags keep their state.
			current, err := s.GetValue("status")
			if err != nil {
				return err
			}
			flags := current.(protocol.Status).Flags
			for name, on := range changes {
				if _, ok := flags[name]; !ok {
					return fmt.Errorf("unknown status flag %q", name)
				}
				flags[name] = on
			}
			return s.SetValue("status", flags)
		}, nil

	case "temperatures":
		temps, err := parseTemperatureArgs(args)
		if err != nil {
			return nil, err
		}
		return func(s *device.Session) error { return s.SetValue("temperatures", temps) }, nil

	case "lcd_timer":
		if len(args) != 1 {
			return nil, fmt.Errorf("lcd_timer takes one argument: the preload value")
		}
		preload, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid lcd_timer preload %q", args[0])
		}
		timer := protocol.LCDTimer{Preload: uint8(preload)}
		return func(s *device.Session) error { return s.SetValue("lcd_timer", timer) }, nil

	case "pin":
		if len(args) != 1 {
			return nil, fmt.Errorf("pin takes one argument: the new PIN")
		}
		newPin, err := parsePIN(args[0])
		if err != nil {
			return nil, err
		}
		return func(s *device.Session) error { return s.SetValue("pin", *newPin) }, nil

	case "day":
		if len(args) < 2 {
			return nil, fmt.Errorf("day takes a row and either periods or \"clear\"")
		}
		row, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid day row %q", args[0])
		}
		periods, err := parsePeriodArgs(args[1:])
		if err != nil {
			return nil, err
		}
		return func(s *device.Session) error { return s.SetTableValue("day", row, periods) }, nil

	case "holiday":
		if len(args) < 2 {
			return nil, fmt.Errorf("holiday takes a row and either start/end/temp or \"clear\"")
		}
		row, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid holiday row %q", args[0])
		}
		holiday, err := parseHolidayArgs(args[1:])
		if err != nil {
			return nil, err
		}
		return func(s *device.Session) error { return s.SetTableValue("holiday", row, holiday) }, nil

	default:
		v, ok := protocol.Lookup(valueName)
		if !ok {
			return nil, fmt.Errorf("unknown value %q", valueName)
		}
		if !v.Writable {
			return nil, fmt.Errorf("value %q is read-only", valueName)
		}
		return nil, fmt.Errorf("value %q is not settable from the command line", valueName)
	}
}

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q: use \"YYYY-MM-DD HH:MM[:SS]\" or \"now\"", s)
}

// parseFlagArgs parses name=on/off pairs.
func parseFlagArgs(args []string) (map[string]bool, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("status takes flag=on|off arguments")
	}
	changes := make(map[string]bool, len(args))
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid status argument %q: expected flag=on|off", arg)
		}
		switch val {
		case "on", "true", "1":
			changes[name] = true
		case "off", "false", "0":
			changes[name] = false
		default:
			return nil, fmt.Errorf("invalid status value %q for %q: expected on or off", val, name)
		}
	}
	return changes, nil
}

// parseTemperatureArgs parses field=value pairs into a sparse Temperatures:
// fields left out stay unchanged on the device.
func parseTemperatureArgs(args []string) (protocol.Temperatures, error) {
	var temps protocol.Temperatures
	if len(args) == 0 {
		return temps, fmt.Errorf("temperatures takes field=value arguments")
	}
	for _, arg := range args {
		name, val, ok := strings.Cut(arg, "=")
		if !ok {
			return temps, fmt.Errorf("invalid temperatures argument %q: expected field=value", arg)
		}
		switch name {
		case "manual", "target_low", "target_high", "offset":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return temps, fmt.Errorf("invalid temperature %q for %q", val, name)
			}
			switch name {
			case "manual":
				temps.Manual = &f
			case "target_low":
				temps.TargetLow = &f
			case "target_high":
				temps.TargetHigh = &f
			case "offset":
				temps.Offset = &f
			}
		case "window_open_detection", "window_open_minutes":
			n, err := strconv.Atoi(val)
			if err != nil {
				return temps, fmt.Errorf("invalid value %q for %q", val, name)
			}
			if name == "window_open_detection" {
				temps.WindowOpenDetection = &n
			} else {
				temps.WindowOpenMinutes = &n
			}
		default:
			return temps, fmt.Errorf("unknown temperatures field %q", name)
		}
	}
	return temps, nil
}

// parsePeriodArgs parses HH:MM-HH:MM ranges, or "clear" for an empty day.
func parsePeriodArgs(args []string) ([]protocol.Period, error) {
	if len(args) == 1 && args[0] == "clear" {
		return nil, nil
	}
	periods := make([]protocol.Period, 0, len(args))
	for _, arg := range args {
		startStr, endStr, ok := strings.Cut(arg, "-")
		if !ok {
			return nil, fmt.Errorf("invalid period %q: expected HH:MM-HH:MM", arg)
		}
		start, err := parseTimeOfDay(startStr)
		if err != nil {
			return nil, err
		}
		end, err := parseTimeOfDay(endStr)
		if err != nil {
			return nil, err
		}
		periods = append(periods, protocol.Period{Start: start, End: end})
	}
	return periods, nil
}

func parseTimeOfDay(s string) (*protocol.TimeOfDay, error) {
	var t protocol.TimeOfDay
	n, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute)
	if err != nil || n != 2 || t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return nil, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return &t, nil
}

// parseHolidayArgs parses <start> <end> <temp>, or "clear" for an empty slot.
func parseHolidayArgs(args []string) (protocol.Holiday, error) {
	if len(args) == 1 && args[0] == "clear" {
		return protocol.Holiday{}, nil
	}
	if len(args) != 3 {
		return protocol.Holiday{}, fmt.Errorf("holiday takes <start> <end> <temperature>, or \"clear\"")
	}
	start, err := parseDateTime(args[0])
	if err != nil {
		return protocol.Holiday{}, err
	}
	end, err := parseDateTime(args[1])
	if err != nil {
		return protocol.Holiday{}, err
	}
	temp, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return protocol.Holiday{}, fmt.Errorf("invalid holiday temperature %q", args[2])
	}
	return protocol.Holiday{Start: &start, End: &end, Temp: &temp}, nil
}
