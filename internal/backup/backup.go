// Package backup snapshots a thermostat's writable configuration and plays
// it back. Snapshots serialize to YAML so they can be kept in files and
// edited by hand before a restore.
package backup

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/cometblue/internal/protocol"
)

// ValueSession is the slice of the device session backup needs.
type ValueSession interface {
	GetValue(name string) (interface{}, error)
	SetValue(name string, value interface{}) error
	Days() ([][]protocol.Period, error)
	SetDays(days [][]protocol.Period) error
	Holidays() ([]protocol.Holiday, error)
	SetHolidays(holidays []protocol.Holiday) error
}

// Snapshot holds every value worth restoring. The clock is deliberately not
// captured: restoring a stale datetime makes no sense, so Restore stamps the
// current time instead unless the snapshot carries one explicitly.
type Snapshot struct {
	Status       map[string]bool        `yaml:"status,omitempty"`
	Temperatures *protocol.Temperatures `yaml:"temperatures,omitempty"`
	LCDTimer     *protocol.LCDTimer     `yaml:"lcd_timer,omitempty"`
	Days         [][]protocol.Period    `yaml:"days,omitempty"`
	Holidays     []protocol.Holiday     `yaml:"holidays,omitempty"`
	DateTime     *time.Time             `yaml:"datetime,omitempty"`
}

// Take reads every read/write value except the clock, plus the full weekday
// and holiday tables.
func Take(s ValueSession, logger logrus.FieldLogger) (*Snapshot, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.Info("Saving all supported values...")

	snap := &Snapshot{}

	status, err := s.GetValue("status")
	if err != nil {
		return nil, fmt.Errorf("failed to back up status: %w", err)
	}
	snap.Status = status.(protocol.Status).Flags

	temps, err := s.GetValue("temperatures")
	if err != nil {
		return nil, fmt.Errorf("failed to back up temperatures: %w", err)
	}
	t := temps.(protocol.Temperatures)
	snap.Temperatures = &t

	timer, err := s.GetValue("lcd_timer")
	if err != nil {
		return nil, fmt.Errorf("failed to back up lcd_timer: %w", err)
	}
	lt := timer.(protocol.LCDTimer)
	snap.LCDTimer = &lt

	if snap.Days, err = s.Days(); err != nil {
		return nil, fmt.Errorf("failed to back up day schedules: %w", err)
	}
	if snap.Holidays, err = s.Holidays(); err != nil {
		return nil, fmt.Errorf("failed to back up holidays: %w", err)
	}

	logger.Info("All supported values saved")
	return snap, nil
}

// Restore plays a snapshot back onto the device. Absent sections are
// skipped. The clock is always set: to the snapshot's datetime when present,
// otherwise to the current time.
func Restore(s ValueSession, snap *Snapshot, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.Info("Restoring values from backup...")

	if snap.Status != nil {
		if err := s.SetValue("status", snap.Status); err != nil {
			return fmt.Errorf("failed to restore status: %w", err)
		}
	}
	if snap.Temperatures != nil {
		if err := s.SetValue("temperatures", *snap.Temperatures); err != nil {
			return fmt.Errorf("failed to restore temperatures: %w", err)
		}
	}
	if snap.LCDTimer != nil {
		if err := s.SetValue("lcd_timer", *snap.LCDTimer); err != nil {
			return fmt.Errorf("failed to restore lcd_timer: %w", err)
		}
	}
	if snap.Days != nil {
		if err := s.SetDays(snap.Days); err != nil {
			return fmt.Errorf("failed to restore day schedules: %w", err)
		}
	}
	if snap.Holidays != nil {
		if err := s.SetHolidays(snap.Holidays); err != nil {
			return fmt.Errorf("failed to restore holidays: %w", err)
		}
	}

	when := time.Now()
	if snap.DateTime != nil {
		when = *snap.DateTime
	}
	if err := s.SetValue("datetime", when); err != nil {
		return fmt.Errorf("failed to set device clock: %w", err)
	}

	logger.Info("Values from backup restored")
	return nil
}

// Write serializes a snapshot as YAML.
func (s *Snapshot) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to serialize backup: %w", err)
	}
	return enc.Close()
}

// Read parses a YAML snapshot.
func Read(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}
	return &snap, nil
}
