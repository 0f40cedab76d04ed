// Package goble implements the device.Transport capability interface on top
// of the go-ble stack. Writes are executed on the transport loop so their
// completions are only observable while RunLoop is being serviced, matching
// the session/tracker contract.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/cometblue/internal/device"
)

// DeviceFactory creates the ble.Device (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	dev, err := linux.NewDevice(ble.OptDeviceID(int(adapterID.Load())))
	if err != nil {
		return nil, fmt.Errorf("failed to open HCI device: %w", err)
	}
	return dev, nil
}

var (
	adapterID atomic.Int32
	setupOnce sync.Once
	setupErr  error
)

// SetAdapter selects the HCI adapter by name, e.g. "hci0". Must be called
// before the first connect or scan; later calls have no effect on the
// already-opened device.
func SetAdapter(name string) error {
	var id int
	if _, err := fmt.Sscanf(name, "hci%d", &id); err != nil || id < 0 {
		return fmt.Errorf("invalid adapter %q: expected hci<N>", name)
	}
	adapterID.Store(int32(id))
	return nil
}

// ensureDevice opens the HCI adapter once per process and installs it as
// the default go-ble device.
func ensureDevice() error {
	setupOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			setupErr = err
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return setupErr
}

type writeRequest struct {
	uuid string
	char *ble.Characteristic
	data []byte
}

// Transport is a go-ble backed device.Transport bound to one peripheral.
type Transport struct {
	address string
	log     logrus.FieldLogger

	mu        sync.RWMutex
	client    ble.Client
	connected bool
	resolved  bool
	chars     map[string]*ble.Characteristic

	handler atomic.Value // device.WriteCompletionHandler

	writes   chan writeRequest
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTransport creates a transport for the peripheral at address.
func NewTransport(address string, logger logrus.FieldLogger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		address: address,
		log:     logger.WithField("address", address),
		chars:   make(map[string]*ble.Characteristic),
		writes:  make(chan writeRequest, 16),
		stop:    make(chan struct{}),
	}
}

// Address returns the peripheral address.
func (t *Transport) Address() string { return t.address }

// Connect dials the peripheral and discovers its GATT profile. go-ble
// resolves the profile synchronously, so ServicesResolved is true as soon
// as Connect returns.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return errors.New("already connected")
	}
	if err := ensureDevice(); err != nil {
		return err
	}

	client, err := ble.Dial(ctx, ble.NewAddr(t.address))
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", t.address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars[device.NormalizeUUID(c.UUID.String())] = c
		}
	}

	t.client = client
	t.chars = chars
	t.connected = true
	t.resolved = true
	t.log.WithField("characteristics", len(chars)).Debug("Profile discovered")
	return nil
}

// Disconnect cancels the connection. The transport is disconnected on
// return regardless of the reported error.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.connected = false
	t.resolved = false
	t.chars = make(map[string]*ble.Characteristic)
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.CancelConnection()
}

// IsConnected reports whether the link is up.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// ServicesResolved reports whether the characteristic catalog is known.
func (t *Transport) ServicesResolved() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolved
}

// Characteristics returns the resolved catalog as normalized UUIDs.
func (t *Transport) Characteristics() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.chars))
	for uuid := range t.chars {
		out = append(out, uuid)
	}
	return out
}

func (t *Transport) lookup(uuid string) (ble.Client, *ble.Characteristic, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected || t.client == nil {
		return nil, nil, errors.New("not connected")
	}
	c, ok := t.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, nil, fmt.Errorf("characteristic %q not found", device.ShortenUUID(uuid))
	}
	return t.client, c, nil
}

// Read performs a synchronous characteristic read. go-ble delivers exactly
// one blob per read.
func (t *Transport) Read(uuid string) ([][]byte, error) {
	client, c, err := t.lookup(uuid)
	if err != nil {
		return nil, err
	}
	data, err := client.ReadCharacteristic(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic: %w", err)
	}
	return [][]byte{data}, nil
}

// Write queues an asynchronous write; the loop executes it and reports the
// outcome through the completion handler.
func (t *Transport) Write(uuid string, data []byte) error {
	_, c, err := t.lookup(uuid)
	if err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case t.writes <- writeRequest{uuid: device.NormalizeUUID(uuid), char: c, data: buf}:
		return nil
	case <-t.stop:
		return errors.New("transport loop stopped")
	}
}

// ConfirmsWrites reports that completions are delivered via the handler.
func (t *Transport) ConfirmsWrites() bool { return true }

// SetWriteCompletionHandler installs the completion callback.
func (t *Transport) SetWriteCompletionHandler(h device.WriteCompletionHandler) {
	t.handler.Store(h)
}

func (t *Transport) complete(uuid string, err error) {
	if h, ok := t.handler.Load().(device.WriteCompletionHandler); ok && h != nil {
		h(uuid, err)
	}
}

// RunLoop services queued writes until StopLoop is called. Each write is
// performed with response and its result forwarded to the completion
// handler on this goroutine.
func (t *Transport) RunLoop() error {
	for {
		select {
		case <-t.stop:
			return nil
		case w := <-t.writes:
			t.mu.RLock()
			client := t.client
			t.mu.RUnlock()

			if client == nil {
				t.complete(w.uuid, errors.New("not connected"))
				continue
			}
			err := client.WriteCharacteristic(w.char, w.data, false)
			if err != nil {
				t.log.WithFields(logrus.Fields{"uuid": device.ShortenUUID(w.uuid), "error": err}).Debug("Write failed")
			}
			t.complete(w.uuid, err)
		}
	}
}

// StopLoop cooperatively asks RunLoop to return after the in-flight write,
// if any, finishes.
func (t *Transport) StopLoop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Scan runs BLE discovery for the given context lifetime, invoking handler
// for every advertisement. Context expiry is the normal way a scan ends.
func Scan(ctx context.Context, allowDuplicates bool, handler func(addr, name string)) error {
	if err := ensureDevice(); err != nil {
		return err
	}
	err := ble.Scan(ctx, allowDuplicates, func(a ble.Advertisement) {
		handler(a.Addr().String(), a.LocalName())
	}, nil)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}
