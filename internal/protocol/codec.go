package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Codec errors. Decode errors mean the device sent bytes outside the
// documented ranges; encode errors mean the caller supplied a value the
// protocol cannot represent. Neither is ever silently clamped.
var (
	ErrDecodeRange   = errors.New("decoded value out of range")
	ErrEncodeInvalid = errors.New("value cannot be encoded")
)

// Temperature sentinel: a signed byte of -128 on the wire means
// "leave this setting unchanged". tempUnchangedByte is the same value as
// seen by the wire encoder.
const (
	tempUnchanged     int8 = -128
	tempUnchangedByte byte = 0x80
)

// maxRawTime is the largest valid quantized time-of-day unit (23:59 / 10min).
const maxRawTime = (23*60 + 59) / 10

// Codec translates between protocol records and typed domain values.
// It is stateless apart from the logger used to report ignored status flags.
type Codec struct {
	log logrus.FieldLogger
}

// NewCodec creates a codec. A nil logger falls back to the logrus standard logger.
func NewCodec(logger logrus.FieldLogger) *Codec {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Codec{log: logger}
}

func checkLen(name string, data []byte, want int) error {
	if len(data) != want {
		return fmt.Errorf("%w: %s record is %d bytes, want %d", ErrDecodeRange, name, len(data), want)
	}
	return nil
}

// ----------------------------
// Date and time
// ----------------------------

// DecodeDateTime decodes the 5-byte clock record {minute, hour, day, month, year-2000}.
func (c *Codec) DecodeDateTime(data []byte) (time.Time, error) {
	if err := checkLen("datetime", data, 5); err != nil {
		return time.Time{}, err
	}
	mi, ho, da, mo, ye := int(data[0]), int(data[1]), int(data[2]), int(data[3]), int(data[4])
	if mi > 59 || ho > 23 || da < 1 || da > 31 || mo < 1 || mo > 12 {
		return time.Time{}, fmt.Errorf("%w: datetime %02d-%02d %02d:%02d", ErrDecodeRange, mo, da, ho, mi)
	}
	return time.Date(2000+ye, time.Month(mo), da, ho, mi, 0, 0, time.Local), nil
}

// EncodeDateTime encodes the device clock. Years before 2000 are not representable.
func (c *Codec) EncodeDateTime(t time.Time) ([]byte, error) {
	if t.Year() < 2000 {
		return nil, fmt.Errorf("%w: year %d is before 2000", ErrEncodeInvalid, t.Year())
	}
	return []byte{
		byte(t.Minute()),
		byte(t.Hour()),
		byte(t.Day()),
		byte(int(t.Month())),
		byte(t.Year() - 2000),
	}, nil
}

// ----------------------------
// Status flags
// ----------------------------

// statusMasks maps flag names to their bit masks within the 24-bit status field.
// "installing" is a composite of three motor-related masks.
var statusMasks = map[string]uint32{
	"childlock":           0x80,
	"manual_mode":         0x1,
	"adapting":            0x400,
	"not_ready":           0x200,
	"installing":          0x400 | 0x200 | 0x100,
	"motor_moving":        0x100,
	"antifrost_activated": 0x10,
	"satisfied":           0x80000,
	"low_battery":         0x800,
}

// Status is the decoded 24-bit status field. UnusedBits carries every bit
// not covered by a named mask so callers can spot firmware surprises.
type Status struct {
	Flags      map[string]bool
	Raw        uint32
	UnusedBits uint32
}

// DecodeStatus decodes the 3-byte status record.
func (c *Codec) DecodeStatus(data []byte) (Status, error) {
	if err := checkLen("status", data, 3); err != nil {
		return Status{}, err
	}
	raw := binary.LittleEndian.Uint32([]byte{data[0], data[1], data[2], 0})

	flags := make(map[string]bool, len(statusMasks))
	var maskedOut uint32
	for name, mask := range statusMasks {
		flags[name] = raw&mask == mask
		maskedOut |= mask
	}

	return Status{
		Flags:      flags,
		Raw:        raw,
		UnusedBits: raw &^ maskedOut,
	}, nil
}

// EncodeStatus encodes the named flags that are set. Unknown flag names are
// logged and skipped, never rejected, so snapshots from newer firmware still apply.
func (c *Codec) EncodeStatus(flags map[string]bool) ([]byte, error) {
	var raw uint32
	for name, set := range flags {
		if !set {
			continue
		}
		mask, ok := statusMasks[name]
		if !ok {
			c.log.WithField("flag", name).Error("Ignoring unknown status flag")
			continue
		}
		raw |= mask
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], raw)
	return buf[:3], nil
}

// ----------------------------
// Temperatures
// ----------------------------

// Temperatures holds the 7-byte temperature record. Degree values are in
// 0.5 °C steps; a nil field encodes as the "leave unchanged" sentinel.
// Current is reported by the device and can never be written.
type Temperatures struct {
	Current             *float64
	Manual              *float64
	TargetLow           *float64
	TargetHigh          *float64
	Offset              *float64
	WindowOpenDetection *int
	WindowOpenMinutes   *int
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// DecodeTemperatures decodes the 7 signed temperature bytes.
func (c *Codec) DecodeTemperatures(data []byte) (Temperatures, error) {
	if err := checkLen("temperatures", data, 7); err != nil {
		return Temperatures{}, err
	}
	b := func(i int) int8 { return int8(data[i]) }
	return Temperatures{
		Current:             floatPtr(float64(b(0)) / 2),
		Manual:              floatPtr(float64(b(1)) / 2),
		TargetLow:           floatPtr(float64(b(2)) / 2),
		TargetHigh:          floatPtr(float64(b(3)) / 2),
		Offset:              floatPtr(float64(b(4)) / 2),
		WindowOpenDetection: intPtr(int(b(5))),
		WindowOpenMinutes:   intPtr(int(b(6))),
	}, nil
}

// encodeHalfDegrees converts degrees to wire units, truncating toward zero.
// Values whose wire unit falls outside the signed byte are rejected, never
// wrapped.
func encodeHalfDegrees(name string, v *float64) (byte, error) {
	if v == nil {
		return tempUnchangedByte, nil
	}
	units := math.Trunc(*v * 2)
	if units < math.MinInt8 || units > math.MaxInt8 {
		return 0, fmt.Errorf("%w: %s %g°C outside the representable range", ErrEncodeInvalid, name, *v)
	}
	return byte(int8(units)), nil
}

func encodeCount(name string, v *int) (byte, error) {
	if v == nil {
		return tempUnchangedByte, nil
	}
	if *v < math.MinInt8 || *v > math.MaxInt8 {
		return 0, fmt.Errorf("%w: %s %d outside the representable range", ErrEncodeInvalid, name, *v)
	}
	return byte(int8(*v)), nil
}

// EncodeTemperatures encodes a temperature update. The current temperature
// is device-owned and always sent as the unchanged sentinel.
func (c *Codec) EncodeTemperatures(t Temperatures) ([]byte, error) {
	out := []byte{tempUnchangedByte}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"manual temperature", t.Manual},
		{"low target temperature", t.TargetLow},
		{"high target temperature", t.TargetHigh},
		{"temperature offset", t.Offset},
	} {
		b, err := encodeHalfDegrees(f.name, f.v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"window open detection", t.WindowOpenDetection},
		{"window open minutes", t.WindowOpenMinutes},
	} {
		b, err := encodeCount(f.name, f.v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ----------------------------
// Battery
// ----------------------------

// DecodeBattery decodes the battery percentage. 255 means the device
// has no reading yet; that decodes to nil.
func (c *Codec) DecodeBattery(data []byte) (*int, error) {
	if err := checkLen("battery", data, 1); err != nil {
		return nil, err
	}
	if data[0] == 255 {
		return nil, nil
	}
	return intPtr(int(data[0])), nil
}

// ----------------------------
// LCD timer
// ----------------------------

// LCDTimer is the 2-byte display timer record. Only Preload is settable;
// Current counts down on the device and is always written as zero.
type LCDTimer struct {
	Preload uint8
	Current uint8
}

func (c *Codec) DecodeLCDTimer(data []byte) (LCDTimer, error) {
	if err := checkLen("lcd timer", data, 2); err != nil {
		return LCDTimer{}, err
	}
	return LCDTimer{Preload: data[0], Current: data[1]}, nil
}

func (c *Codec) EncodeLCDTimer(t LCDTimer) ([]byte, error) {
	return []byte{t.Preload, 0}, nil
}

// ----------------------------
// PIN
// ----------------------------

// EncodePin encodes the 4-byte little-endian PIN word. Write-only.
func (c *Codec) EncodePin(pin uint32) ([]byte, error) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], pin)
	return buf[:], nil
}

// ----------------------------
// Strings
// ----------------------------

// DecodeString decodes a UTF-8 string characteristic (name, revisions, manufacturer).
func (c *Codec) DecodeString(data []byte) (string, error) {
	return string(data), nil
}

// ----------------------------
// Day schedule
// ----------------------------

// TimeOfDay is a wall-clock boundary inside a heating period.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Period is one heating window within a day. Start and End are either
// both present or both absent.
type Period struct {
	Start *TimeOfDay
	End   *TimeOfDay
}

// Absent reports whether the period slot is unused.
func (p Period) Absent() bool { return p.Start == nil }

// DecodeDay decodes the 8-byte day schedule: four {start, end} pairs in
// 10-minute units. A raw end past 23:59 voids the whole period; a raw start
// past it alone clamps to midnight. Periods whose boundaries coincide
// collapse to absent. The result is stable-sorted ascending by start with
// absent periods last, regardless of on-wire order.
func (c *Codec) DecodeDay(data []byte) ([]Period, error) {
	if err := checkLen("day", data, 8); err != nil {
		return nil, err
	}

	periods := make([]Period, 0, 4)
	for i := 0; i < 8; i += 2 {
		rawStart, rawEnd := int(data[i]), int(data[i+1])

		var start, end *TimeOfDay
		if rawEnd <= maxRawTime {
			if rawStart > maxRawTime {
				start = &TimeOfDay{}
			} else {
				m := rawStart * 10
				start = &TimeOfDay{Hour: m / 60, Minute: m % 60}
			}
			m := rawEnd * 10
			end = &TimeOfDay{Hour: m / 60, Minute: m % 60}
		}

		if start != nil && *start == *end {
			start, end = nil, nil
		}
		periods = append(periods, Period{Start: start, End: end})
	}

	sort.SliceStable(periods, func(i, j int) bool {
		a, b := periods[i].Start, periods[j].Start
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.minutes() < b.minutes()
	})

	return periods, nil
}

// encodeDayBoundary quantizes a boundary to 10-minute units. The wire
// reserves 0 for "unused", so a boundary that quantizes to true midnight is
// re-encoded as 255. The device firmware conflates the two on decode; this
// mirrors the behavior of shipped firmware rather than correcting it.
func encodeDayBoundary(t *TimeOfDay) byte {
	raw := t.minutes() / 10
	if raw == 0 {
		return 255
	}
	return byte(raw)
}

// EncodeDay encodes up to four periods, padding the remainder with absent
// slots. More than four periods cannot be represented.
func (c *Codec) EncodeDay(periods []Period) ([]byte, error) {
	if len(periods) > 4 {
		return nil, fmt.Errorf("%w: day schedule holds 4 periods, got %d", ErrEncodeInvalid, len(periods))
	}

	out := make([]byte, 0, 8)
	for i := 0; i < 4; i++ {
		var p Period
		if i < len(periods) {
			p = periods[i]
		}
		if (p.Start == nil) != (p.End == nil) {
			return nil, fmt.Errorf("%w: period start and end must both be present or both absent", ErrEncodeInvalid)
		}
		if p.Absent() {
			out = append(out, 255, 255)
			continue
		}
		out = append(out, encodeDayBoundary(p.Start), encodeDayBoundary(p.End))
	}
	return out, nil
}

// ----------------------------
// Holiday record
// ----------------------------

// Holiday is one holiday slot: a date+hour range and its target temperature.
// All three fields are present or all three are absent.
type Holiday struct {
	Start *time.Time
	End   *time.Time
	Temp  *float64
}

// Absent reports whether the holiday slot is unused.
func (h Holiday) Absent() bool { return h.Start == nil }

func holidayFieldsValid(hour, day, month, year int) bool {
	return hour <= 23 && day >= 1 && day <= 31 && month >= 1 && month <= 12 && year <= 99
}

// DecodeHoliday decodes the 9-byte holiday record. Any field outside
// calendar range, or a temperature equal to the unchanged sentinel, marks
// the whole slot absent; the device uses saturated bytes as its own
// "empty slot" pattern.
func (c *Codec) DecodeHoliday(data []byte) (Holiday, error) {
	if err := checkLen("holiday", data, 9); err != nil {
		return Holiday{}, err
	}

	hs, ds, ms, ys := int(data[0]), int(data[1]), int(data[2]), int(data[3])
	he, de, me, ye := int(data[4]), int(data[5]), int(data[6]), int(data[7])
	temp := int8(data[8])

	if !holidayFieldsValid(hs, ds, ms, ys) || !holidayFieldsValid(he, de, me, ye) || temp == tempUnchanged {
		return Holiday{}, nil
	}

	start := time.Date(2000+ys, time.Month(ms), ds, hs, 0, 0, 0, time.Local)
	end := time.Date(2000+ye, time.Month(me), de, he, 0, 0, 0, time.Local)
	return Holiday{Start: &start, End: &end, Temp: floatPtr(float64(temp) / 2)}, nil
}

// absentHolidayRecord is the fixed on-wire pattern for an empty holiday slot.
var absentHolidayRecord = []byte{128, 128, 128, 128, 128, 128, 128, 128, tempUnchangedByte}

// EncodeHoliday encodes one holiday slot. A record with any absent field
// encodes as the fixed empty pattern; present records with years before
// 2000 are rejected.
func (c *Codec) EncodeHoliday(h Holiday) ([]byte, error) {
	if h.Start == nil || h.End == nil || h.Temp == nil {
		out := make([]byte, len(absentHolidayRecord))
		copy(out, absentHolidayRecord)
		return out, nil
	}
	if h.Start.Year() < 2000 || h.End.Year() < 2000 {
		return nil, fmt.Errorf("%w: holiday year before 2000", ErrEncodeInvalid)
	}
	temp, err := encodeHalfDegrees("holiday temperature", h.Temp)
	if err != nil {
		return nil, err
	}
	return []byte{
		byte(h.Start.Hour()),
		byte(h.Start.Day()),
		byte(int(h.Start.Month())),
		byte(h.Start.Year() - 2000),
		byte(h.End.Hour()),
		byte(h.End.Day()),
		byte(int(h.End.Month())),
		byte(h.End.Year() - 2000),
		temp,
	}, nil
}
