package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches exactly one integer and one unit letter, the same
// grammar original_source's duration parser uses — no compound durations
// like "1d12h".
var durationPattern = regexp.MustCompile(`^(\d+)([dhm])$`)

var unitScale = map[string]time.Duration{
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
}

// Duration wraps time.Duration so policy JSON can write "7d"/"12h"/"30m"
// while the rest of the core works with a normal time.Duration.
type Duration struct {
	time.Duration
}

// ParseDuration parses a single-unit duration string per spec.md §4.1.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected digits followed by one of d/h/m", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * unitScale[m[2]], nil
}

// FormatDuration renders d back to its canonical single-unit string form,
// preferring the largest unit that divides it evenly (days, then hours,
// then minutes), so "7d" round-trips to "7d" rather than "168h".
func FormatDuration(d time.Duration) string {
	switch {
	case d%unitScale["d"] == 0:
		return fmt.Sprintf("%dd", d/unitScale["d"])
	case d%unitScale["h"] == 0:
		return fmt.Sprintf("%dh", d/unitScale["h"])
	default:
		return fmt.Sprintf("%dm", d/unitScale["m"])
	}
}

// UnmarshalJSON accepts either a duration string ("7d") or a plain integer
// number of minutes, per spec.md §6 ("numeric values interpreted as the
// unit the schema specifies").
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	case float64:
		d.Duration = time.Duration(v) * time.Minute
		return nil
	case nil:
		d.Duration = 0
		return nil
	default:
		return fmt.Errorf("duration must be a string or number, got %T", raw)
	}
}

// MarshalJSON renders the canonical string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration == 0 {
		return json.Marshal("")
	}
	return json.Marshal(FormatDuration(d.Duration))
}
