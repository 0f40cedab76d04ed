package protocol

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec() *Codec {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCodec(logger)
}

func TestCodec_DateTime(t *testing.T) {
	c := testCodec()

	t.Run("decode", func(t *testing.T) {
		// {minute, hour, day, month, year-2000}
		got, err := c.DecodeDateTime([]byte{30, 14, 24, 12, 26})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.December, 24, 14, 30, 0, 0, time.Local), got)
	})

	t.Run("decode rejects out-of-range fields", func(t *testing.T) {
		tests := []struct {
			name string
			data []byte
		}{
			{"minute 60", []byte{60, 14, 24, 12, 26}},
			{"hour 24", []byte{30, 24, 24, 12, 26}},
			{"day 0", []byte{30, 14, 0, 12, 26}},
			{"day 32", []byte{30, 14, 32, 12, 26}},
			{"month 0", []byte{30, 14, 24, 0, 26}},
			{"month 13", []byte{30, 14, 24, 13, 26}},
			{"short record", []byte{30, 14, 24, 12}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.DecodeDateTime(tt.data)
				assert.ErrorIs(t, err, ErrDecodeRange)
			})
		}
	})

	t.Run("encode", func(t *testing.T) {
		data, err := c.EncodeDateTime(time.Date(2026, time.December, 24, 14, 30, 45, 0, time.Local))
		require.NoError(t, err)
		// Seconds are not representable and must be dropped
		assert.Equal(t, []byte{30, 14, 24, 12, 26}, data)
	})

	t.Run("encode rejects pre-2000 years", func(t *testing.T) {
		_, err := c.EncodeDateTime(time.Date(1999, time.December, 31, 23, 59, 0, 0, time.Local))
		assert.ErrorIs(t, err, ErrEncodeInvalid)
	})

	t.Run("roundtrip", func(t *testing.T) {
		want := time.Date(2031, time.March, 1, 0, 0, 0, 0, time.Local)
		data, err := c.EncodeDateTime(want)
		require.NoError(t, err)
		got, err := c.DecodeDateTime(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestCodec_Status(t *testing.T) {
	c := testCodec()

	t.Run("decode known flags", func(t *testing.T) {
		// raw = 0x080481: manual_mode | childlock | adapting | satisfied
		status, err := c.DecodeStatus([]byte{0x81, 0x04, 0x08})
		require.NoError(t, err)

		assert.Equal(t, uint32(0x080481), status.Raw)
		assert.True(t, status.Flags["manual_mode"])
		assert.True(t, status.Flags["childlock"])
		assert.True(t, status.Flags["adapting"])
		assert.True(t, status.Flags["satisfied"])
		assert.False(t, status.Flags["not_ready"])
		assert.False(t, status.Flags["motor_moving"])
		assert.False(t, status.Flags["antifrost_activated"])
		assert.False(t, status.Flags["low_battery"])
		// 0x400 alone is adapting, not the full installing composite
		assert.False(t, status.Flags["installing"])
		assert.Zero(t, status.UnusedBits)
	})

	t.Run("decode composite installing flag", func(t *testing.T) {
		status, err := c.DecodeStatus([]byte{0x00, 0x07, 0x00})
		require.NoError(t, err)
		assert.True(t, status.Flags["installing"])
		assert.True(t, status.Flags["adapting"])
		assert.True(t, status.Flags["not_ready"])
		assert.True(t, status.Flags["motor_moving"])
	})

	t.Run("decode preserves unrecognized bits", func(t *testing.T) {
		status, err := c.DecodeStatus([]byte{0x02, 0x00, 0x40})
		require.NoError(t, err)
		assert.Equal(t, uint32(0x400002), status.UnusedBits)
		// Every raw bit is accounted for by a mask or by UnusedBits
		var fromFlags uint32
		for name, set := range status.Flags {
			if set {
				fromFlags |= statusMasks[name]
			}
		}
		assert.Equal(t, status.Raw, fromFlags|status.UnusedBits)
	})

	t.Run("decode rejects wrong length", func(t *testing.T) {
		_, err := c.DecodeStatus([]byte{0x00, 0x00})
		assert.ErrorIs(t, err, ErrDecodeRange)
	})

	t.Run("encode", func(t *testing.T) {
		data, err := c.EncodeStatus(map[string]bool{"childlock": true, "low_battery": true, "manual_mode": false})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x80, 0x08, 0x00}, data)
	})

	t.Run("encode skips unknown flags", func(t *testing.T) {
		data, err := c.EncodeStatus(map[string]bool{"manual_mode": true, "hyperdrive": true})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x00, 0x00}, data)
	})

	t.Run("roundtrip", func(t *testing.T) {
		data, err := c.EncodeStatus(map[string]bool{"antifrost_activated": true, "satisfied": true})
		require.NoError(t, err)
		status, err := c.DecodeStatus(data)
		require.NoError(t, err)
		assert.True(t, status.Flags["antifrost_activated"])
		assert.True(t, status.Flags["satisfied"])
		assert.False(t, status.Flags["childlock"])
	})
}

func TestCodec_Temperatures(t *testing.T) {
	c := testCodec()

	t.Run("decode", func(t *testing.T) {
		temps, err := c.DecodeTemperatures([]byte{41, 42, 32, 56, 0xFB, 8, 30})
		require.NoError(t, err)
		assert.Equal(t, 20.5, *temps.Current)
		assert.Equal(t, 21.0, *temps.Manual)
		assert.Equal(t, 16.0, *temps.TargetLow)
		assert.Equal(t, 28.0, *temps.TargetHigh)
		assert.Equal(t, -2.5, *temps.Offset) // signed byte
		assert.Equal(t, 8, *temps.WindowOpenDetection)
		assert.Equal(t, 30, *temps.WindowOpenMinutes)
	})

	t.Run("decode rejects wrong length", func(t *testing.T) {
		_, err := c.DecodeTemperatures([]byte{41, 42})
		assert.ErrorIs(t, err, ErrDecodeRange)
	})

	t.Run("encode sparse update", func(t *testing.T) {
		manual := 10.0
		data, err := c.EncodeTemperatures(Temperatures{Manual: &manual})
		require.NoError(t, err)
		// Everything unset, current included, is the "leave unchanged" byte
		assert.Equal(t, []byte{0x80, 20, 0x80, 0x80, 0x80, 0x80, 0x80}, data)
	})

	t.Run("encode never writes current temperature", func(t *testing.T) {
		current, manual := 19.5, 21.0
		data, err := c.EncodeTemperatures(Temperatures{Current: &current, Manual: &manual})
		require.NoError(t, err)
		assert.Equal(t, byte(0x80), data[0])
	})

	t.Run("encode truncates toward zero", func(t *testing.T) {
		offset := 2.3 // 4.6 wire units
		data, err := c.EncodeTemperatures(Temperatures{Offset: &offset})
		require.NoError(t, err)
		assert.Equal(t, byte(4), data[4])

		negative := -2.3
		data, err = c.EncodeTemperatures(Temperatures{Offset: &negative})
		require.NoError(t, err)
		assert.Equal(t, byte(0xFC), data[4]) // -4 wire units
	})

	t.Run("encode rejects unrepresentable values", func(t *testing.T) {
		tests := []struct {
			name  string
			temps Temperatures
		}{
			{"manual too hot", Temperatures{Manual: floatPtr(100)}},
			{"offset too cold", Temperatures{Offset: floatPtr(-70)}},
			{"window open minutes too large", Temperatures{WindowOpenMinutes: intPtr(300)}},
			{"window open detection negative overflow", Temperatures{WindowOpenDetection: intPtr(-200)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := c.EncodeTemperatures(tt.temps)
				assert.ErrorIs(t, err, ErrEncodeInvalid, "out-of-range values are rejected, never wrapped")
			})
		}

		// Boundary values still encode
		low := -64.0 // -128 wire units
		data, err := c.EncodeTemperatures(Temperatures{Manual: &low})
		require.NoError(t, err)
		assert.Equal(t, byte(0x80), data[1])
	})
}

func TestCodec_Battery(t *testing.T) {
	c := testCodec()

	t.Run("decode percentage", func(t *testing.T) {
		got, err := c.DecodeBattery([]byte{87})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 87, *got)
	})

	t.Run("255 means no reading", func(t *testing.T) {
		got, err := c.DecodeBattery([]byte{255})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("decode rejects wrong length", func(t *testing.T) {
		_, err := c.DecodeBattery([]byte{87, 0})
		assert.ErrorIs(t, err, ErrDecodeRange)
	})
}

func TestCodec_LCDTimer(t *testing.T) {
	c := testCodec()

	timer, err := c.DecodeLCDTimer([]byte{15, 7})
	require.NoError(t, err)
	assert.Equal(t, LCDTimer{Preload: 15, Current: 7}, timer)

	// Current counts down on the device; writes always carry zero
	data, err := c.EncodeLCDTimer(LCDTimer{Preload: 30, Current: 12})
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 0}, data)
}

func TestCodec_EncodePin(t *testing.T) {
	c := testCodec()

	data, err := c.EncodePin(1234)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD2, 0x04, 0x00, 0x00}, data)

	data, err = c.EncodePin(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func tod(hour, minute int) *TimeOfDay {
	return &TimeOfDay{Hour: hour, Minute: minute}
}

func TestCodec_Day(t *testing.T) {
	c := testCodec()

	t.Run("decode all slots unused", func(t *testing.T) {
		periods, err := c.DecodeDay([]byte{0, 255, 255, 255, 255, 255, 255, 255})
		require.NoError(t, err)
		require.Len(t, periods, 4)
		for i, p := range periods {
			assert.True(t, p.Absent(), "period %d must be absent", i)
		}
	})

	t.Run("decode sorts by start time", func(t *testing.T) {
		// On-wire order: 06:00-09:00, unused, 01:00-02:00, unused
		periods, err := c.DecodeDay([]byte{36, 54, 255, 255, 6, 12, 255, 255})
		require.NoError(t, err)
		require.Len(t, periods, 4)
		assert.Equal(t, Period{Start: tod(1, 0), End: tod(2, 0)}, periods[0])
		assert.Equal(t, Period{Start: tod(6, 0), End: tod(9, 0)}, periods[1])
		assert.True(t, periods[2].Absent())
		assert.True(t, periods[3].Absent())
	})

	t.Run("decode clamps lone out-of-range start to midnight", func(t *testing.T) {
		periods, err := c.DecodeDay([]byte{200, 54, 255, 255, 255, 255, 255, 255})
		require.NoError(t, err)
		assert.Equal(t, Period{Start: tod(0, 0), End: tod(9, 0)}, periods[0])
	})

	t.Run("decode collapses zero-length period", func(t *testing.T) {
		periods, err := c.DecodeDay([]byte{36, 36, 255, 255, 255, 255, 255, 255})
		require.NoError(t, err)
		for _, p := range periods {
			assert.True(t, p.Absent())
		}
	})

	t.Run("encode pads with unused slots", func(t *testing.T) {
		data, err := c.EncodeDay([]Period{{Start: tod(6, 0), End: tod(9, 0)}})
		require.NoError(t, err)
		assert.Equal(t, []byte{36, 54, 255, 255, 255, 255, 255, 255}, data)
	})

	t.Run("encode re-encodes midnight as 255", func(t *testing.T) {
		data, err := c.EncodeDay([]Period{{Start: tod(0, 0), End: tod(4, 0)}})
		require.NoError(t, err)
		assert.Equal(t, []byte{255, 24}, data[:2])

		// The record still decodes back to a midnight start
		periods, err := c.DecodeDay(data)
		require.NoError(t, err)
		assert.Equal(t, Period{Start: tod(0, 0), End: tod(4, 0)}, periods[0])
	})

	t.Run("encode rejects more than four periods", func(t *testing.T) {
		periods := make([]Period, 5)
		_, err := c.EncodeDay(periods)
		assert.ErrorIs(t, err, ErrEncodeInvalid)
	})

	t.Run("encode rejects half-present period", func(t *testing.T) {
		_, err := c.EncodeDay([]Period{{Start: tod(6, 0)}})
		assert.ErrorIs(t, err, ErrEncodeInvalid)
	})

	t.Run("encode quantizes to 10 minutes", func(t *testing.T) {
		data, err := c.EncodeDay([]Period{{Start: tod(6, 15), End: tod(9, 59)}})
		require.NoError(t, err)
		assert.Equal(t, []byte{37, 59}, data[:2]) // 06:10 and 09:50 wire units
	})
}

func TestCodec_Holiday(t *testing.T) {
	c := testCodec()

	t.Run("decode", func(t *testing.T) {
		h, err := c.DecodeHoliday([]byte{12, 24, 12, 26, 18, 27, 12, 26, 32})
		require.NoError(t, err)
		require.False(t, h.Absent())
		assert.Equal(t, time.Date(2026, time.December, 24, 12, 0, 0, 0, time.Local), *h.Start)
		assert.Equal(t, time.Date(2026, time.December, 27, 18, 0, 0, 0, time.Local), *h.End)
		assert.Equal(t, 16.0, *h.Temp)
	})

	t.Run("decode out-of-range field means empty slot", func(t *testing.T) {
		tests := []struct {
			name string
			data []byte
		}{
			{"year 150", []byte{12, 24, 12, 150, 18, 27, 12, 26, 32}},
			{"hour 24", []byte{24, 24, 12, 26, 18, 27, 12, 26, 32}},
			{"day 0", []byte{12, 0, 12, 26, 18, 27, 12, 26, 32}},
			{"month 13", []byte{12, 24, 13, 26, 18, 27, 12, 26, 32}},
			{"sentinel temperature", []byte{12, 24, 12, 26, 18, 27, 12, 26, 0x80}},
			{"device empty pattern", absentHolidayRecord},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h, err := c.DecodeHoliday(tt.data)
				require.NoError(t, err)
				assert.True(t, h.Absent())
				assert.Nil(t, h.End)
				assert.Nil(t, h.Temp)
			})
		}
	})

	t.Run("decode rejects wrong length", func(t *testing.T) {
		_, err := c.DecodeHoliday([]byte{12, 24, 12})
		assert.ErrorIs(t, err, ErrDecodeRange)
	})

	t.Run("encode absent slot uses the device pattern", func(t *testing.T) {
		data, err := c.EncodeHoliday(Holiday{})
		require.NoError(t, err)
		assert.Equal(t, absentHolidayRecord, data)
	})

	t.Run("encode rejects pre-2000 years", func(t *testing.T) {
		start := time.Date(1999, time.June, 1, 12, 0, 0, 0, time.Local)
		end := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.Local)
		temp := 16.0
		_, err := c.EncodeHoliday(Holiday{Start: &start, End: &end, Temp: &temp})
		assert.ErrorIs(t, err, ErrEncodeInvalid)
	})

	t.Run("encode rejects unrepresentable temperature", func(t *testing.T) {
		start := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.Local)
		end := time.Date(2026, time.June, 3, 12, 0, 0, 0, time.Local)
		temp := 100.0
		_, err := c.EncodeHoliday(Holiday{Start: &start, End: &end, Temp: &temp})
		assert.ErrorIs(t, err, ErrEncodeInvalid)
	})

	t.Run("roundtrip", func(t *testing.T) {
		start := time.Date(2026, time.June, 1, 8, 0, 0, 0, time.Local)
		end := time.Date(2026, time.June, 14, 20, 0, 0, 0, time.Local)
		temp := 14.5
		data, err := c.EncodeHoliday(Holiday{Start: &start, End: &end, Temp: &temp})
		require.NoError(t, err)
		got, err := c.DecodeHoliday(data)
		require.NoError(t, err)
		assert.Equal(t, start, *got.Start)
		assert.Equal(t, end, *got.End)
		assert.Equal(t, temp, *got.Temp)
	})
}

func TestCodec_DecodeString(t *testing.T) {
	c := testCodec()

	got, err := c.DecodeString([]byte("Comet Blue"))
	require.NoError(t, err)
	assert.Equal(t, "Comet Blue", got)
}
