// Package discovery finds Comet Blue compatible thermostats. A scan collects
// advertising peripherals; each candidate is then probed over GATT and kept
// only if its manufacturer or model identifies it as a supported device.
package discovery

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// supportedNames are the manufacturer/model strings a probe accepts,
// compared case-insensitively after trimming trailing NULs and whitespace.
var supportedNames = []string{
	"eurotronic gmbh",
	"comet blue",
}

// ScanFunc runs BLE discovery for the lifetime of ctx, reporting every
// advertisement through the callback.
type ScanFunc func(ctx context.Context, allowDuplicates bool, handler func(addr, name string)) error

// Prober reads identification strings from a connected candidate. The
// device session satisfies this.
type Prober interface {
	Acquire(ctx context.Context) error
	Release()
	GetValue(name string) (interface{}, error)
}

// ProberFactory creates a prober for the peripheral at addr.
type ProberFactory func(addr string) Prober

// Device is one discovered thermostat.
type Device struct {
	Address string
	Name    string
}

// defaultProbeTimeout bounds the GATT probe of a single candidate so one
// unreachable device cannot stall the whole discovery pass.
const defaultProbeTimeout = 10 * time.Second

// Discoverer scans for advertisements and filters them down to supported
// thermostats by probing each candidate.
type Discoverer struct {
	scan         ScanFunc
	factory      ProberFactory
	probeTimeout time.Duration
	log          logrus.FieldLogger
}

// New creates a discoverer around a scan source and a prober factory.
func New(scan ScanFunc, factory ProberFactory, logger logrus.FieldLogger) *Discoverer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Discoverer{scan: scan, factory: factory, probeTimeout: defaultProbeTimeout, log: logger}
}

// SetProbeTimeout overrides the per-candidate probe bound.
func (d *Discoverer) SetProbeTimeout(t time.Duration) {
	if t > 0 {
		d.probeTimeout = t
	}
}

// collect runs the scan for the given duration and returns the deduplicated
// advertisement set. The map is lock-free because the BLE stack may deliver
// advertisements from its own goroutine while we read progress.
func (d *Discoverer) collect(ctx context.Context, duration time.Duration) ([]Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	seen := hashmap.New[string, string]()
	err := d.scan(scanCtx, false, func(addr, name string) {
		addr = strings.ToLower(addr)
		if name != "" {
			seen.Set(addr, name)
			return
		}
		seen.Insert(addr, name)
	})
	if err != nil {
		return nil, err
	}

	var devices []Device
	seen.Range(func(addr, name string) bool {
		devices = append(devices, Device{Address: addr, Name: name})
		return true
	})
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices, nil
}

// probe connects to one candidate and checks its identification strings.
// Probe failures are not errors: an unreachable or foreign device is simply
// not a thermostat.
func (d *Discoverer) probe(ctx context.Context, dev Device) bool {
	log := d.log.WithField("address", dev.Address)
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	p := d.factory(dev.Address)
	if err := p.Acquire(ctx); err != nil {
		log.WithError(err).Debug("Candidate probe connect failed, skipping")
		return false
	}
	defer p.Release()

	for _, value := range []string{"manufacturer_name", "model_number"} {
		raw, err := p.GetValue(value)
		if err != nil {
			log.WithFields(logrus.Fields{"value": value, "error": err}).Debug("Candidate probe read failed")
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		// NUL padding and whitespace can interleave, so strip them together
		s = strings.ToLower(strings.Trim(s, "\x00 \t\r\n"))
		for _, want := range supportedNames {
			if s == want {
				log.WithField(value, s).Debug("Candidate identified as supported thermostat")
				return true
			}
		}
	}
	return false
}

// Discover scans for the given duration and returns the supported
// thermostats found, sorted by address.
func (d *Discoverer) Discover(ctx context.Context, duration time.Duration) ([]Device, error) {
	d.log.WithField("duration", duration).Info("Scanning for devices...")
	candidates, err := d.collect(ctx, duration)
	if err != nil {
		return nil, err
	}
	d.log.WithField("candidates", len(candidates)).Debug("Scan finished, probing candidates")

	var found []Device
	for _, dev := range candidates {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if d.probe(ctx, dev) {
			found = append(found, dev)
		}
	}
	return found, nil
}
