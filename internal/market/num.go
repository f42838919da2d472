package market

import (
	"encoding/json"
	"math"
	"strconv"
)

// Num is a numeric field that may be unknown. Providers routinely omit
// fields or send garbage; those map to Unknown rather than to zero.
type Num struct {
	Value float64
	Known bool
}

// Unknown is the explicit "no value" sentinel.
var Unknown = Num{}

// NumOf wraps v. NaN and infinities are never carried as values.
func NumOf(v float64) Num {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unknown
	}
	return Num{Value: v, Known: true}
}

// Or returns the value, or def when unknown.
func (n Num) Or(def float64) float64 {
	if !n.Known {
		return def
	}
	return n.Value
}

// Merge keeps n when known, otherwise falls back to old.
func (n Num) Merge(old Num) Num {
	if n.Known {
		return n
	}
	return old
}

func (n Num) String() string {
	if !n.Known {
		return "unknown"
	}
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// MarshalJSON encodes unknown as null.
func (n Num) MarshalJSON() ([]byte, error) {
	if !n.Known {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON accepts null, numbers, and numeric strings.
func (n *Num) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Unknown
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = NumOf(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = Unknown
		return nil
	}
	*n = NumOf(f)
	return nil
}
