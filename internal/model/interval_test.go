package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
	}

	for _, c := range cases {
		iv, err := ParseInterval(c.in)
		require.NoError(t, err, "interval %q", c.in)

		d, err := iv.Duration()
		require.NoError(t, err)
		assert.Equal(t, c.want, d, "interval %q", c.in)
		assert.Equal(t, c.want.Milliseconds(), iv.Millis())
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	for _, in := range []string{"", "m", "1", "0m", "-1h", "1x", "h1"} {
		_, err := ParseInterval(in)
		assert.Error(t, err, "interval %q should be rejected", in)
	}
}

func TestInterval_Truncate(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, base, Interval1h.Truncate(base))
	assert.Equal(t, base, Interval1h.Truncate(base+59*time.Minute.Milliseconds()))
	assert.Equal(t, base+time.Hour.Milliseconds(), Interval1h.Truncate(base+61*time.Minute.Milliseconds()))
}
