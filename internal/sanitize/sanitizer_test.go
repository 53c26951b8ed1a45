package sanitize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashsync/internal/config"
)

func testBounds() config.ValidationConfig {
	return config.ValidationConfig{
		MinLatitude:    41.6,
		MaxLatitude:    42.1,
		MinLongitude:   -87.95,
		MaxLongitude:   -87.5,
		MinAge:         0,
		MaxAge:         120,
		MinVehicleYear: 1900,
		MaxVehicleYear: 2025,
	}
}

func TestCrashSanitization(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Crash(map[string]interface{}{
		"crash_record_id":    "  abc123  ",
		"crash_date":         "2024-03-15T14:30:00.000",
		"latitude":           "41.88",
		"longitude":          "-87.63",
		"injuries_total":     "2.0",
		"posted_speed_limit": "30",
		"weather_condition":  "  CLEAR   SKY ",
		"street_name":        "UNKNOWN",
		"hit_and_run_i":      "Y",
	})
	require.False(t, out.Rejected())
	require.NotNil(t, out.Record)
	assert.Empty(t, out.Warnings)

	assert.Equal(t, "abc123", out.Record.NaturalKey())
	assert.Equal(t, time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC), out.Record.EventTime())
}

func TestCrashMissingKeyRejected(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Crash(map[string]interface{}{"crash_date": "2024-01-01"})
	assert.True(t, out.Rejected())
	assert.Contains(t, out.RejectReason, "crash_record_id")
	assert.Nil(t, out.Record)

	// null markers count as missing
	out = s.Crash(map[string]interface{}{"crash_record_id": "N/A"})
	assert.True(t, out.Rejected())
}

func TestOutOfBoundsCoordinateKeepsRecord(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Crash(map[string]interface{}{
		"crash_record_id": "abc123",
		"crash_date":      "2024-03-15T14:30:00",
		"latitude":        "0.0",
		"longitude":       "-87.63",
	})
	require.False(t, out.Rejected())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "latitude")
}

func TestPersonSanitization(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Person(map[string]interface{}{
		"crash_record_id": "abc123",
		"person_id":       "P1",
		"age":             "45",
		"sex":             "F",
	})
	require.False(t, out.Rejected())
	assert.Equal(t, "abc123/P1", out.Record.NaturalKey())

	// age outside range is dropped with a warning, record kept
	out = s.Person(map[string]interface{}{
		"crash_record_id": "abc123",
		"person_id":       "P2",
		"age":             "250",
	})
	require.False(t, out.Rejected())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "age")

	// both key halves are mandatory
	out = s.Person(map[string]interface{}{"crash_record_id": "abc123"})
	assert.True(t, out.Rejected())
	assert.Contains(t, out.RejectReason, "person_id")
}

func TestVehicleSanitization(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Vehicle(map[string]interface{}{
		"crash_record_id": "abc123",
		"unit_no":         "1",
		"vehicle_year":    "1880",
		"make":            "FORD",
	})
	require.False(t, out.Rejected())
	assert.Equal(t, "abc123/1", out.Record.NaturalKey())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "vehicle_year")

	out = s.Vehicle(map[string]interface{}{"crash_record_id": "abc123"})
	assert.True(t, out.Rejected())
}

func TestFatalitySanitization(t *testing.T) {
	s := NewSanitizer(testBounds())

	out := s.Fatality(map[string]interface{}{
		"person_id":  "F100",
		"rd_no":      "JD123456",
		"crash_date": "03/15/2024",
		"latitude":   "41.90",
		"longitude":  "-87.70",
		"victim":     "PEDESTRIAN",
	})
	require.False(t, out.Rejected())
	assert.Equal(t, "F100", out.Record.NaturalKey())

	out = s.Fatality(map[string]interface{}{"rd_no": "JD1"})
	assert.True(t, out.Rejected())
}

func TestDedupeLastWins(t *testing.T) {
	s := NewSanitizer(testBounds())

	first := s.Crash(map[string]interface{}{
		"crash_record_id": "dup1",
		"street_name":     "OLD NAME",
	}).Record
	second := s.Crash(map[string]interface{}{
		"crash_record_id": "dup1",
		"street_name":     "NEW NAME",
	}).Record
	other := s.Crash(map[string]interface{}{
		"crash_record_id": "other",
	}).Record

	out, dropped := Dedupe([]Record{first, other, second})
	assert.Equal(t, 1, dropped)
	require.Len(t, out, 2)
	// the later duplicate replaced the earlier one in place
	assert.Same(t, second, out[0])
	assert.Same(t, other, out[1])
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "", cleanString(nil))
	assert.Equal(t, "", cleanString("   "))
	assert.Equal(t, "", cleanString("null"))
	assert.Equal(t, "", cleanString("UNKNOWN"))
	assert.Equal(t, "", cleanString("unk"))
	assert.Equal(t, "A B C", cleanString("  A  B \t C "))
	assert.Equal(t, "42", cleanString(42))
}

func TestCleanInt(t *testing.T) {
	assert.Nil(t, cleanInt(nil))
	assert.Nil(t, cleanInt(""))
	assert.Nil(t, cleanInt("abc"))
	assert.Equal(t, 1, *cleanInt("1.0"))
	assert.Equal(t, 30, *cleanInt("30"))
	assert.Equal(t, 7, *cleanInt(float64(7)))
}

func TestParseTime(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-15T14:30:00.000": time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		"2024-03-15T14:30:00":     time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		"2024-03-15 14:30:00":     time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		"2024-03-15":              time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		"03/15/2024 02:30:00 PM":  time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC),
		"03/15/2024":              time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got := parseTime(in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}

	assert.Nil(t, parseTime("not a date"))
	assert.Nil(t, parseTime(nil))
}
