package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind enumerates every logical value the protocol knows. The set is closed:
// value dispatch is a switch over Kind, not a table of function pointers.
type Kind int

const (
	KindDeviceName Kind = iota
	KindModelNumber
	KindFirmwareRevision
	KindSoftwareRevision
	KindManufacturerName
	KindDateTime
	KindStatus
	KindTemperatures
	KindBattery
	KindFirmwareRevision2
	KindLCDTimer
	KindPin
	KindDay
	KindHoliday
)

// Value describes one logical value: its characteristic, access rules and
// (for table families) the declared row count.
type Value struct {
	Kind        Kind
	Name        string
	Description string
	UUID        string
	Rows        int // 0 for scalar values, table cardinality otherwise
	Readable    bool
	Writable    bool
	PinRead     bool // reading requires an established PIN
}

// Table reports whether the value is addressed by row.
func (v *Value) Table() bool { return v.Rows > 0 }

// registry holds every supported value in declaration order, which is the
// order backup snapshots and CLI listings use.
var registry = func() *orderedmap.OrderedMap[string, *Value] {
	m := orderedmap.New[string, *Value]()
	for _, v := range []*Value{
		{Kind: KindDeviceName, Name: "device_name", Description: "device name",
			UUID: "00002a00-0000-1000-8000-00805f9b34fb", Readable: true},
		{Kind: KindModelNumber, Name: "model_number", Description: "model number",
			UUID: "00002a24-0000-1000-8000-00805f9b34fb", Readable: true},
		{Kind: KindFirmwareRevision, Name: "firmware_revision", Description: "firmware revision",
			UUID: "00002a26-0000-1000-8000-00805f9b34fb", Readable: true},
		{Kind: KindSoftwareRevision, Name: "software_revision", Description: "software revision",
			UUID: "00002a28-0000-1000-8000-00805f9b34fb", Readable: true},
		{Kind: KindManufacturerName, Name: "manufacturer_name", Description: "manufacturer name",
			UUID: "00002a29-0000-1000-8000-00805f9b34fb", Readable: true},
		{Kind: KindDateTime, Name: "datetime", Description: "time and date",
			UUID: "47e9ee01-47e9-11e4-8939-164230d1df67", Readable: true, Writable: true, PinRead: true},
		{Kind: KindStatus, Name: "status", Description: "status",
			UUID: "47e9ee2a-47e9-11e4-8939-164230d1df67", Readable: true, Writable: true, PinRead: true},
		{Kind: KindTemperatures, Name: "temperatures", Description: "temperatures",
			UUID: "47e9ee2b-47e9-11e4-8939-164230d1df67", Readable: true, Writable: true, PinRead: true},
		{Kind: KindBattery, Name: "battery", Description: "battery charge",
			UUID: "47e9ee2c-47e9-11e4-8939-164230d1df67", Readable: true, PinRead: true},
		{Kind: KindFirmwareRevision2, Name: "firmware_revision2", Description: "firmware revision #2",
			UUID: "47e9ee2d-47e9-11e4-8939-164230d1df67", Readable: true, PinRead: true},
		{Kind: KindLCDTimer, Name: "lcd_timer", Description: "LCD timer",
			UUID: "47e9ee2e-47e9-11e4-8939-164230d1df67", Readable: true, Writable: true, PinRead: true},
		{Kind: KindPin, Name: "pin", Description: "PIN",
			UUID: "47e9ee30-47e9-11e4-8939-164230d1df67", Writable: true},
		{Kind: KindDay, Name: "day", Description: "periods per day of week",
			UUID: "47e9ee10-47e9-11e4-8939-164230d1df67", Rows: 7, Readable: true, Writable: true, PinRead: true},
		{Kind: KindHoliday, Name: "holiday", Description: "holiday period and temperature",
			UUID: "47e9ee20-47e9-11e4-8939-164230d1df67", Rows: 8, Readable: true, Writable: true, PinRead: true},
	} {
		m.Set(v.Name, v)
	}
	return m
}()

// Lookup returns the value descriptor for a logical name.
func Lookup(name string) (*Value, bool) {
	return registry.Get(name)
}

// Values returns all descriptors in declaration order.
func Values() []*Value {
	out := make([]*Value, 0, registry.Len())
	for pair := registry.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// OffsetUUID derives a table row's characteristic id by adding the row index
// to the base UUID's first 32-bit field.
func OffsetUUID(uuid string, n int) (string, error) {
	parts := strings.SplitN(uuid, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 8 {
		return "", fmt.Errorf("malformed characteristic uuid %q", uuid)
	}
	first, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return "", fmt.Errorf("malformed characteristic uuid %q: %w", uuid, err)
	}
	return fmt.Sprintf("%08x-%s", uint32(first)+uint32(n), parts[1]), nil
}

// Decode is the single typed decode entry point: it dispatches the record
// bytes to the codec routine for the given kind.
func (c *Codec) Decode(kind Kind, data []byte) (interface{}, error) {
	switch kind {
	case KindDeviceName, KindModelNumber, KindFirmwareRevision, KindSoftwareRevision,
		KindManufacturerName, KindFirmwareRevision2:
		return c.DecodeString(data)
	case KindDateTime:
		return c.DecodeDateTime(data)
	case KindStatus:
		return c.DecodeStatus(data)
	case KindTemperatures:
		return c.DecodeTemperatures(data)
	case KindBattery:
		return c.DecodeBattery(data)
	case KindLCDTimer:
		return c.DecodeLCDTimer(data)
	case KindDay:
		return c.DecodeDay(data)
	case KindHoliday:
		return c.DecodeHoliday(data)
	default:
		return nil, fmt.Errorf("%w: kind %d is not readable", ErrDecodeRange, kind)
	}
}

// Encode is the single typed encode entry point. A value of the wrong
// dynamic type for the kind is an encode validation error.
func (c *Codec) Encode(kind Kind, value interface{}) ([]byte, error) {
	switch kind {
	case KindDateTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodeDateTime(t)
	case KindStatus:
		switch v := value.(type) {
		case Status:
			return c.EncodeStatus(v.Flags)
		case map[string]bool:
			return c.EncodeStatus(v)
		default:
			return nil, encodeTypeError(kind, value)
		}
	case KindTemperatures:
		t, ok := value.(Temperatures)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodeTemperatures(t)
	case KindLCDTimer:
		t, ok := value.(LCDTimer)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodeLCDTimer(t)
	case KindPin:
		p, ok := value.(uint32)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodePin(p)
	case KindDay:
		p, ok := value.([]Period)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodeDay(p)
	case KindHoliday:
		h, ok := value.(Holiday)
		if !ok {
			return nil, encodeTypeError(kind, value)
		}
		return c.EncodeHoliday(h)
	default:
		return nil, fmt.Errorf("%w: kind %d is not writable", ErrEncodeInvalid, kind)
	}
}

func encodeTypeError(kind Kind, value interface{}) error {
	return fmt.Errorf("%w: unexpected %T for kind %d", ErrEncodeInvalid, value, kind)
}
