package discovery_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/cometblue/internal/discovery"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type advertisement struct {
	addr string
	name string
}

func scanOf(ads ...advertisement) discovery.ScanFunc {
	return func(ctx context.Context, allowDuplicates bool, handler func(addr, name string)) error {
		for _, ad := range ads {
			handler(ad.addr, ad.name)
		}
		return nil
	}
}

// fakeProber identifies as whatever strings its value map holds.
type fakeProber struct {
	values     map[string]string
	acquireErr error
	released   bool
}

func (p *fakeProber) Acquire(ctx context.Context) error { return p.acquireErr }
func (p *fakeProber) Release()                          { p.released = true }

func (p *fakeProber) GetValue(name string) (interface{}, error) {
	v, ok := p.values[name]
	if !ok {
		return nil, errors.New("read failed")
	}
	return v, nil
}

func TestDiscoverer_FiltersByIdentity(t *testing.T) {
	// GOAL: Verify discovery keeps only devices identifying as supported
	// thermostats
	//
	// TEST SCENARIO: Three advertisements → one Comet Blue, one Eurotronic,
	// one foreign → foreign device filtered out

	probers := map[string]*fakeProber{
		"e0:e5:cf:00:00:01": {values: map[string]string{"manufacturer_name": "EUROtronic GmbH"}},
		"e0:e5:cf:00:00:02": {values: map[string]string{"manufacturer_name": "ACME", "model_number": "Comet Blue"}},
		"aa:bb:cc:dd:ee:ff": {values: map[string]string{"manufacturer_name": "ACME", "model_number": "Widget"}},
	}

	d := discovery.New(
		scanOf(
			advertisement{"E0:E5:CF:00:00:01", "Comet Blue"},
			advertisement{"E0:E5:CF:00:00:02", ""},
			advertisement{"AA:BB:CC:DD:EE:FF", "Widget"},
		),
		func(addr string) discovery.Prober { return probers[addr] },
		testLogger(),
	)

	devices, err := d.Discover(context.Background(), time.Second)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "e0:e5:cf:00:00:01", devices[0].Address)
	assert.Equal(t, "Comet Blue", devices[0].Name)
	assert.Equal(t, "e0:e5:cf:00:00:02", devices[1].Address)

	for addr, p := range probers {
		assert.True(t, p.released, "prober for %s MUST be released", addr)
	}
}

func TestDiscoverer_TrimsIdentityStrings(t *testing.T) {
	// GOAL: Verify identity matching survives NUL padding and case noise,
	// in whatever order the padding arrives

	for _, name := range []string{
		"Comet Blue\x00\x00 ", // NULs before trailing whitespace
		"Comet Blue \x00\x00", // whitespace before trailing NULs
		"\x00 comet blue\x00",
		"EUROTRONIC GMBH",
	} {
		t.Run(fmt.Sprintf("%q", name), func(t *testing.T) {
			p := &fakeProber{values: map[string]string{"manufacturer_name": name}}
			d := discovery.New(
				scanOf(advertisement{"E0:E5:CF:00:00:01", ""}),
				func(string) discovery.Prober { return p },
				testLogger(),
			)

			devices, err := d.Discover(context.Background(), time.Second)
			require.NoError(t, err)
			assert.Len(t, devices, 1, "padded identity MUST still match")
		})
	}
}

func TestDiscoverer_SkipsUnreachableCandidates(t *testing.T) {
	// GOAL: Verify probe failures skip the candidate instead of failing the scan
	//
	// TEST SCENARIO: One candidate refuses connections, one reads fail,
	// one is genuine → only the genuine one is returned

	probers := map[string]*fakeProber{
		"e0:e5:cf:00:00:01": {acquireErr: errors.New("connect refused")},
		"e0:e5:cf:00:00:02": {values: map[string]string{}},
		"e0:e5:cf:00:00:03": {values: map[string]string{"model_number": "Comet Blue"}},
	}

	d := discovery.New(
		scanOf(
			advertisement{"E0:E5:CF:00:00:01", ""},
			advertisement{"E0:E5:CF:00:00:02", ""},
			advertisement{"E0:E5:CF:00:00:03", ""},
		),
		func(addr string) discovery.Prober { return probers[addr] },
		testLogger(),
	)

	devices, err := d.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "e0:e5:cf:00:00:03", devices[0].Address)
}

func TestDiscoverer_DeduplicatesAdvertisements(t *testing.T) {
	// GOAL: Verify repeated advertisements collapse to one candidate and a
	// named advertisement wins over a nameless one

	probeCount := 0
	d := discovery.New(
		scanOf(
			advertisement{"E0:E5:CF:00:00:01", ""},
			advertisement{"E0:E5:CF:00:00:01", "Comet Blue"},
			advertisement{"e0:e5:cf:00:00:01", ""},
		),
		func(string) discovery.Prober {
			probeCount++
			return &fakeProber{values: map[string]string{"manufacturer_name": "EUROtronic GmbH"}}
		},
		testLogger(),
	)

	devices, err := d.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 1, probeCount, "each address MUST be probed once")
	assert.Equal(t, "Comet Blue", devices[0].Name, "named advertisement MUST win")
}

func TestDiscoverer_ScanError(t *testing.T) {
	// GOAL: Verify a failing scan source surfaces its error

	scanErr := errors.New("adapter gone")
	d := discovery.New(
		func(ctx context.Context, allowDuplicates bool, handler func(addr, name string)) error {
			return scanErr
		},
		func(string) discovery.Prober { return &fakeProber{} },
		testLogger(),
	)

	_, err := d.Discover(context.Background(), time.Second)
	assert.ErrorIs(t, err, scanErr)
}
