package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/cometblue/internal/protocol"
)

// State is the session's position in the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateServicesResolving
	StateAuthenticating
	StateReady
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateServicesResolving:
		return "services_resolving"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WriteMode selects how session writes handle confirmations.
type WriteMode int

const (
	// WriteConfirmed blocks on the tracker until the transport confirms.
	WriteConfirmed WriteMode = iota
	// WriteFireAndForget issues the write and returns immediately. Required
	// when the caller runs on the loop context itself: a blocking wait there
	// would starve the very loop that delivers the confirmation.
	WriteFireAndForget
)

// Options configures a session.
type Options struct {
	// PIN is the device secret; nil means unauthenticated access only.
	PIN *uint32
	// WriteTimeout bounds each confirmed write wait.
	WriteTimeout time.Duration
	// ResolveInterval and ResolveAttempts bound the service-resolution poll.
	ResolveInterval time.Duration
	ResolveAttempts int
	// Abort is the shared cancellation flag; tracker waits observe it.
	Abort  *atomic.Bool
	Logger logrus.FieldLogger
}

func (o *Options) applyDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ResolveInterval <= 0 {
		o.ResolveInterval = 20 * time.Millisecond
	}
	if o.ResolveAttempts <= 0 {
		o.ResolveAttempts = 250
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Session owns one physical connection to a thermostat and exposes its
// logical values by name, delegating wire formatting to the codec. It holds
// the transport behind the Transport capability interface rather than
// embedding any stack-specific device type, so tests run against a fake.
type Session struct {
	transport Transport
	codec     *protocol.Codec
	tracker   *WriteTracker
	opts      Options
	log       logrus.FieldLogger

	mu            sync.Mutex
	state         State
	catalog       map[string]struct{}
	resolved      bool
	authenticated bool
	writeMode     WriteMode
	scopeDepth    int
	manual        bool
}

// NewSession wires a session to a transport. The transport's completion
// handler is pointed at the session's write tracker; completions therefore
// record outcomes on the loop context while waits poll from the drain
// context, with the tracker's mutex mediating.
func NewSession(t Transport, opts Options) *Session {
	opts.applyDefaults()
	log := opts.Logger.WithField("address", t.Address())
	s := &Session{
		transport: t,
		codec:     protocol.NewCodec(log),
		tracker:   NewWriteTracker(log),
		opts:      opts,
		log:       log,
		state:     StateDisconnected,
	}
	t.SetWriteCompletionHandler(func(uuid string, err error) {
		s.tracker.Resolve(uuid, err)
	})
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"from": prev.String(), "to": st.String()}).Debug("Session state change")
}

// SetWriteMode switches between confirmed and fire-and-forget writes.
func (s *Session) SetWriteMode(m WriteMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeMode = m
}

func (s *Session) currentWriteMode() WriteMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMode
}

// Ready re-derives readiness from first principles: connected, services
// resolved, and a non-empty characteristic catalog.
func (s *Session) Ready() bool {
	s.mu.Lock()
	resolved, n := s.resolved, len(s.catalog)
	s.mu.Unlock()
	return s.transport.IsConnected() && resolved && n > 0
}

// Connect drives Disconnected → Connecting → ServicesResolving →
// Authenticating → Ready. Any failure tears the connection down and leaves
// the session Disconnected; there is no internal retry.
func (s *Session) Connect(ctx context.Context) error {
	s.log.Info("Connecting to device...")
	s.setState(StateConnecting)

	if err := s.transport.Connect(ctx); err != nil {
		s.abortConnect()
		return &OpError{Kind: NotConnected, Msg: "transport connect failed", Err: err}
	}
	if !s.transport.IsConnected() {
		s.abortConnect()
		return opError(NotConnected, "transport reports not connected after connect")
	}

	s.setState(StateServicesResolving)
	if err := s.resolveServices(ctx); err != nil {
		s.abortConnect()
		return err
	}

	s.setState(StateAuthenticating)
	if s.opts.PIN != nil {
		if err := s.authenticate(); err != nil {
			s.abortConnect()
			return &OpError{Kind: InvalidPin, Msg: "PIN handshake failed", Err: err}
		}
	}

	s.setState(StateReady)
	s.logUnknownCharacteristics()
	s.log.Info("Device connected")
	return nil
}

// resolveServices polls for the characteristic catalog at a fixed short
// interval with a bounded iteration count.
func (s *Session) resolveServices(ctx context.Context) error {
	for i := 0; i < s.opts.ResolveAttempts; i++ {
		if !s.transport.IsConnected() {
			return opError(NotConnected, "disconnected while resolving services")
		}
		if s.transport.ServicesResolved() {
			uuids := s.transport.Characteristics()
			if len(uuids) > 0 {
				catalog := make(map[string]struct{}, len(uuids))
				for _, u := range uuids {
					catalog[NormalizeUUID(u)] = struct{}{}
				}
				s.mu.Lock()
				s.catalog = catalog
				s.resolved = true
				s.mu.Unlock()
				s.log.WithField("characteristics", len(catalog)).Debug("Services resolved")
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return &OpError{Kind: ResolutionTimeout, Msg: "canceled while resolving services", Err: ctx.Err()}
		case <-time.After(s.opts.ResolveInterval):
		}
	}
	return opError(ResolutionTimeout, "services not resolved after %d attempts", s.opts.ResolveAttempts)
}

// authenticate writes the configured PIN and, on transports with async
// confirmation, blocks on that specific write via the tracker. In
// fire-and-forget mode (auto-reauthentication from the loop context) the
// wait is skipped so the loop keeps running.
func (s *Session) authenticate() error {
	pinValue, ok := protocol.Lookup("pin")
	if !ok {
		return fmt.Errorf("pin value not registered")
	}
	data, err := s.codec.EncodePin(*s.opts.PIN)
	if err != nil {
		return err
	}

	uuid := NormalizeUUID(pinValue.UUID)
	confirmed := s.transport.ConfirmsWrites() && s.currentWriteMode() == WriteConfirmed
	if confirmed {
		s.tracker.Begin(uuid)
	}
	if err := s.transport.Write(uuid, data); err != nil {
		return err
	}
	if confirmed {
		if err := s.tracker.Wait(uuid, s.opts.WriteTimeout, s.opts.Abort, s.transport.IsConnected); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return nil
}

// abortConnect rolls a failed connect sequence back to Disconnected.
func (s *Session) abortConnect() {
	_ = s.Disconnect()
}

// Disconnect is idempotent and reachable from any state. Transport-level
// disconnect errors are logged and swallowed, never raised: the session is
// considered disconnected either way.
func (s *Session) Disconnect() error {
	s.setState(StateDisconnecting)

	if s.transport.IsConnected() {
		s.log.Info("Disconnecting from device...")
		if err := s.transport.Disconnect(); err != nil {
			s.log.WithError(err).Warn("Transport disconnect failed, considering disconnected anyway")
		}
	}

	s.mu.Lock()
	s.resolved = false
	s.authenticated = false
	s.catalog = nil
	s.mu.Unlock()

	s.setState(StateDisconnected)
	return nil
}

// ----------------------------
// Scoped acquisition
// ----------------------------

// Acquire enters a connection scope, connecting on the outermost entry.
// Nested acquisitions share the one session.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	first := s.scopeDepth == 0
	s.scopeDepth++
	s.mu.Unlock()

	if first && !s.Ready() {
		if err := s.Connect(ctx); err != nil {
			s.mu.Lock()
			s.scopeDepth--
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

// Release exits a connection scope. The connection is torn down only when
// the outermost scope exits, and never while the session is in manual mode.
func (s *Session) Release() {
	s.mu.Lock()
	if s.scopeDepth > 0 {
		s.scopeDepth--
	}
	last := s.scopeDepth == 0
	manual := s.manual
	s.mu.Unlock()

	if last && !manual {
		_ = s.Disconnect()
	}
}

// ConnectManual establishes the connection outside any scope: subsequent
// scoped exits will not disconnect it.
func (s *Session) ConnectManual(ctx context.Context) error {
	if !s.Ready() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.manual = true
	s.mu.Unlock()
	return nil
}

// DisconnectManual ends manual mode and tears the connection down.
func (s *Session) DisconnectManual() {
	s.mu.Lock()
	wasManual := s.manual
	s.manual = false
	s.mu.Unlock()
	if wasManual {
		_ = s.Disconnect()
	}
}

// ----------------------------
// Value access
// ----------------------------

func lookupValue(name string) (*protocol.Value, error) {
	v, ok := protocol.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown value %q", name)
	}
	return v, nil
}

// GetValue reads and decodes a scalar logical value by name.
func (s *Session) GetValue(name string) (interface{}, error) {
	v, err := lookupValue(name)
	if err != nil {
		return nil, err
	}
	if v.Table() {
		return nil, fmt.Errorf("value %q is a table, use GetTableValue", name)
	}
	if !v.Readable {
		return nil, fmt.Errorf("value %q is write-only", name)
	}
	return s.readRecord(v, NormalizeUUID(v.UUID))
}

// GetTableValue reads one row of a table value. The row index is validated
// against the table's declared cardinality before anything else.
func (s *Session) GetTableValue(name string, row int) (interface{}, error) {
	v, err := lookupValue(name)
	if err != nil {
		return nil, err
	}
	if !v.Table() {
		return nil, fmt.Errorf("value %q is not a table", name)
	}
	if row < 0 || row >= v.Rows {
		return nil, opError(InvalidTableIndex, "%s row %d outside [0,%d)", name, row, v.Rows)
	}
	uuid, err := protocol.OffsetUUID(v.UUID, row)
	if err != nil {
		return nil, err
	}
	return s.readRecord(v, NormalizeUUID(uuid))
}

// SetValue encodes and writes a scalar logical value by name.
func (s *Session) SetValue(name string, value interface{}) error {
	v, err := lookupValue(name)
	if err != nil {
		return err
	}
	if v.Table() {
		return fmt.Errorf("value %q is a table, use SetTableValue", name)
	}
	if !v.Writable {
		return fmt.Errorf("value %q is read-only", name)
	}
	return s.writeRecord(v, NormalizeUUID(v.UUID), value)
}

// SetTableValue encodes and writes one row of a table value.
func (s *Session) SetTableValue(name string, row int, value interface{}) error {
	v, err := lookupValue(name)
	if err != nil {
		return err
	}
	if !v.Table() {
		return fmt.Errorf("value %q is not a table", name)
	}
	if row < 0 || row >= v.Rows {
		return opError(InvalidTableIndex, "%s row %d outside [0,%d)", name, row, v.Rows)
	}
	uuid, err := protocol.OffsetUUID(v.UUID, row)
	if err != nil {
		return err
	}
	return s.writeRecord(v, NormalizeUUID(uuid), value)
}

func (s *Session) pinEstablished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// readRecord enforces the read contract: connected, PIN confirmed when the
// value demands it (checked before any transport I/O), catalog resolved,
// exactly one value blob in the reply.
func (s *Session) readRecord(v *protocol.Value, uuid string) (interface{}, error) {
	if !s.transport.IsConnected() {
		return nil, opError(NotConnected, "cannot read %s", v.Name)
	}
	if v.PinRead && !s.pinEstablished() {
		return nil, opError(PinRequired, "reading %s requires a confirmed PIN", v.Name)
	}

	s.mu.Lock()
	_, present := s.catalog[uuid]
	resolved := s.resolved
	s.mu.Unlock()
	if !resolved || !present {
		return nil, opError(UnknownCharacteristic, "no handle for %s (%s), perhaps a sync issue", v.Name, uuid)
	}

	s.log.WithFields(logrus.Fields{"value": v.Name, "uuid": uuid}).Debug("Reading value")
	values, err := s.transport.Read(uuid)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", v.Name, err)
	}
	if len(values) != 1 {
		return nil, opError(MultiValueReply, "read of %s returned %d values", v.Name, len(values))
	}

	decoded, err := s.codec.Decode(v.Kind, values[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", v.Name, err)
	}
	return decoded, nil
}

// writeRecord enforces the write contract: connected, PIN established, and
// the target present in the resolved catalog. A resolved catalog that lacks
// the target means the device genuinely does not offer it
// (UnsupportedCharacteristic); an unresolved catalog is a sync problem
// (UnknownCharacteristic).
func (s *Session) writeRecord(v *protocol.Value, uuid string, value interface{}) error {
	if !s.transport.IsConnected() {
		return opError(NotConnected, "cannot write %s", v.Name)
	}
	if s.opts.PIN == nil {
		return opError(PinRequired, "writing %s requires a PIN", v.Name)
	}

	s.mu.Lock()
	_, present := s.catalog[uuid]
	resolved := s.resolved
	catalogSize := len(s.catalog)
	s.mu.Unlock()
	if !present {
		if resolved && catalogSize > 0 {
			return opError(UnsupportedCharacteristic, "device does not offer %s (%s)", v.Name, uuid)
		}
		return opError(UnknownCharacteristic, "no handle for %s (%s), perhaps a sync issue", v.Name, uuid)
	}

	data, err := s.codec.Encode(v.Kind, value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", v.Name, err)
	}

	s.log.WithFields(logrus.Fields{"value": v.Name, "uuid": uuid, "bytes": len(data)}).Debug("Writing value")

	confirmed := s.transport.ConfirmsWrites() && s.currentWriteMode() == WriteConfirmed
	if confirmed {
		s.tracker.Begin(uuid)
	}
	if err := s.transport.Write(uuid, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", v.Name, err)
	}
	if confirmed {
		if err := s.tracker.Wait(uuid, s.opts.WriteTimeout, s.opts.Abort, s.transport.IsConnected); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------
// Bulk table helpers
// ----------------------------

// Days reads all seven weekday schedules.
func (s *Session) Days() ([][]protocol.Period, error) {
	v, _ := protocol.Lookup("day")
	out := make([][]protocol.Period, 0, v.Rows)
	for i := 0; i < v.Rows; i++ {
		day, err := s.GetTableValue("day", i)
		if err != nil {
			return nil, err
		}
		out = append(out, day.([]protocol.Period))
	}
	return out, nil
}

// SetDays writes weekday schedules starting from Monday.
func (s *Session) SetDays(days [][]protocol.Period) error {
	for i, day := range days {
		if err := s.SetTableValue("day", i, day); err != nil {
			return err
		}
	}
	return nil
}

// Holidays reads all eight holiday slots.
func (s *Session) Holidays() ([]protocol.Holiday, error) {
	v, _ := protocol.Lookup("holiday")
	out := make([]protocol.Holiday, 0, v.Rows)
	for i := 0; i < v.Rows; i++ {
		h, err := s.GetTableValue("holiday", i)
		if err != nil {
			return nil, err
		}
		out = append(out, h.(protocol.Holiday))
	}
	return out, nil
}

// SetHolidays writes holiday slots starting from the first.
func (s *Session) SetHolidays(holidays []protocol.Holiday) error {
	for i, h := range holidays {
		if err := s.SetTableValue("holiday", i, h); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------
// Catalog introspection
// ----------------------------

// UnknownCharacteristics returns characteristics the device offers beyond
// the known value table, direct or table-addressed. Diagnostic only.
func (s *Session) UnknownCharacteristics() []string {
	known := make(map[string]struct{})
	for _, v := range protocol.Values() {
		if !v.Table() {
			known[NormalizeUUID(v.UUID)] = struct{}{}
			continue
		}
		for i := 0; i < v.Rows; i++ {
			if uuid, err := protocol.OffsetUUID(v.UUID, i); err == nil {
				known[NormalizeUUID(uuid)] = struct{}{}
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var extra []string
	for uuid := range s.catalog {
		if _, ok := known[uuid]; !ok {
			extra = append(extra, uuid)
		}
	}
	sort.Strings(extra)
	return extra
}

func (s *Session) logUnknownCharacteristics() {
	if extra := s.UnknownCharacteristics(); len(extra) > 0 {
		s.log.WithField("uuids", extra).Debug("Device offers characteristics outside the known value table")
	}
}
