package rfctime_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sievelab/podgen/pkg/utils/rfctime"
	"github.com/sievelab/podgen/pkg/utils/try"
)

func TestRFC3339(t *testing.T) {
	t.Run("it marshals to RFC3339 with an explicit offset", func(t *testing.T) {
		timestamp := rfctime.New(try.To(time.Parse(
			time.RFC3339, "2024-10-01T12:34:56+09:00",
		)).OrFatal(t))

		actual := try.To(json.Marshal(timestamp)).OrFatal(t)
		expected := `"2024-10-01T12:34:56+09:00"`
		if string(actual) != expected {
			t.Errorf("not match: (actual, expected) = (%s, %s)", string(actual), expected)
		}
	})

	t.Run("it accepts Z as time-offset on unmarshal", func(t *testing.T) {
		var timestamp rfctime.RFC3339
		if err := json.Unmarshal([]byte(`"2024-10-01T03:34:56Z"`), &timestamp); err != nil {
			t.Fatal(err)
		}

		expected := rfctime.New(try.To(time.Parse(
			time.RFC3339, "2024-10-01T12:34:56+09:00",
		)).OrFatal(t))
		if !timestamp.Equal(expected) {
			t.Errorf("not match: (actual, expected) = (%s, %s)", timestamp, expected)
		}
	})

	t.Run("it rejects non-timestamp strings", func(t *testing.T) {
		var timestamp rfctime.RFC3339
		if err := json.Unmarshal([]byte(`"yesterday"`), &timestamp); err == nil {
			t.Error("unmarshal did not fail")
		}
	})

	t.Run("timestamps of the same instant are equal across timezones", func(t *testing.T) {
		a := try.To(rfctime.Parse("2024-10-01T12:34:56+09:00")).OrFatal(t)
		b := try.To(rfctime.Parse("2024-10-01T03:34:56Z")).OrFatal(t)
		if !a.Equal(b) {
			t.Errorf("not equal: (%s, %s)", a, b)
		}
	})
}
