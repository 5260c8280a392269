package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"30m", 30 * time.Minute},
		{"1d", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseDurationRejectsCompound(t *testing.T) {
	_, err := ParseDuration("1d12h")
	assert.Error(t, err)
}

func TestParseDurationRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "7", "d7", "7x", "-3d"} {
		_, err := ParseDuration(bad)
		assert.Errorf(t, err, "expected %q to be rejected", bad)
	}
}

// TestDurationRoundTrip is spec.md §8's round-trip property: a duration
// string parsed and re-serialised yields a canonical equivalent.
func TestDurationRoundTrip(t *testing.T) {
	for _, s := range []string{"7d", "12h", "30m", "1d"} {
		d, err := ParseDuration(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatDuration(d))
	}
}

func TestDurationRoundTripPrefersLargestUnit(t *testing.T) {
	// 7 * 24h == 168h; the canonical form is "7d", not "168h".
	assert.Equal(t, "7d", FormatDuration(7*24*time.Hour))
}

func TestDurationUnmarshalAcceptsNumericMinutes(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte("45")))
	assert.Equal(t, 45*time.Minute, d.Duration)
}

func TestDurationUnmarshalAcceptsString(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"12h"`)))
	assert.Equal(t, 12*time.Hour, d.Duration)
}

func TestDurationUnmarshalRejectsBadType(t *testing.T) {
	var d Duration
	err := d.UnmarshalJSON([]byte(`true`))
	assert.Error(t, err)
}
