package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/srg/cometblue/internal/protocol"
)

var (
	labelColor = color.New(color.FgCyan)
	onColor    = color.New(color.FgGreen)
	offColor   = color.New(color.FgHiBlack)
)

const timestampLayout = "2006-01-02 15:04:05"

func formatFloat(v *float64, unit string) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

func formatInt(v *int, unit string) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d%s", *v, unit)
}

// printValue renders one decoded value for humans.
func printValue(w io.Writer, name string, value interface{}) {
	switch v := value.(type) {
	case string:
		fmt.Fprintf(w, "%s: %s\n", labelColor.Sprint(name), v)

	case time.Time:
		fmt.Fprintf(w, "%s: %s\n", labelColor.Sprint(name), v.Format(timestampLayout))

	case protocol.Status:
		fmt.Fprintf(w, "%s:\n", labelColor.Sprint(name))
		flags := make([]string, 0, len(v.Flags))
		for flag := range v.Flags {
			flags = append(flags, flag)
		}
		sort.Strings(flags)
		for _, flag := range flags {
			if v.Flags[flag] {
				fmt.Fprintf(w, "  %s: %s\n", flag, onColor.Sprint("on"))
			} else {
				fmt.Fprintf(w, "  %s: %s\n", flag, offColor.Sprint("off"))
			}
		}
		if v.UnusedBits != 0 {
			fmt.Fprintf(w, "  unrecognized bits: %#x\n", v.UnusedBits)
		}

	case protocol.Temperatures:
		fmt.Fprintf(w, "%s:\n", labelColor.Sprint(name))
		fmt.Fprintf(w, "  current: %s\n", formatFloat(v.Current, "°C"))
		fmt.Fprintf(w, "  manual: %s\n", formatFloat(v.Manual, "°C"))
		fmt.Fprintf(w, "  target low: %s\n", formatFloat(v.TargetLow, "°C"))
		fmt.Fprintf(w, "  target high: %s\n", formatFloat(v.TargetHigh, "°C"))
		fmt.Fprintf(w, "  offset: %s\n", formatFloat(v.Offset, "°C"))
		fmt.Fprintf(w, "  window open detection: %s\n", formatInt(v.WindowOpenDetection, ""))
		fmt.Fprintf(w, "  window open minutes: %s\n", formatInt(v.WindowOpenMinutes, "min"))

	case *int: // battery
		fmt.Fprintf(w, "%s: %s\n", labelColor.Sprint(name), formatInt(v, "%"))

	case protocol.LCDTimer:
		fmt.Fprintf(w, "%s: preload %d, current %d\n", labelColor.Sprint(name), v.Preload, v.Current)

	case []protocol.Period:
		fmt.Fprintf(w, "%s:\n", labelColor.Sprint(name))
		printPeriods(w, v)

	case protocol.Holiday:
		fmt.Fprintf(w, "%s: %s\n", labelColor.Sprint(name), formatHoliday(v))

	default:
		fmt.Fprintf(w, "%s: %v\n", labelColor.Sprint(name), v)
	}
}

func printPeriods(w io.Writer, periods []protocol.Period) {
	any := false
	for i, p := range periods {
		if p.Absent() {
			continue
		}
		any = true
		fmt.Fprintf(w, "  %d: %s - %s\n", i+1, p.Start, p.End)
	}
	if !any {
		fmt.Fprintf(w, "  %s\n", offColor.Sprint("no heating periods"))
	}
}

func formatHoliday(h protocol.Holiday) string {
	if h.Start == nil || h.End == nil || h.Temp == nil {
		return offColor.Sprint("not set")
	}
	return fmt.Sprintf("%s - %s at %.1f°C",
		h.Start.Format(timestampLayout), h.End.Format(timestampLayout), *h.Temp)
}

// printDays renders the full weekly schedule, Monday first.
func printDays(w io.Writer, days [][]protocol.Period) {
	names := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	for i, day := range days {
		name := fmt.Sprintf("day %d", i+1)
		if i < len(names) {
			name = names[i]
		}
		fmt.Fprintf(w, "%s:\n", labelColor.Sprint(name))
		printPeriods(w, day)
	}
}

// printHolidays renders all holiday slots.
func printHolidays(w io.Writer, holidays []protocol.Holiday) {
	for i, h := range holidays {
		fmt.Fprintf(w, "%s: %s\n", labelColor.Sprintf("holiday %d", i+1), formatHoliday(h))
	}
}
