package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/futures-feed/internal/market"
)

// fields is a loosely-typed JSON object. Providers spell the same field
// several ways, so lookups take a list of aliases and use the first present.
type fields map[string]json.RawMessage

func decodeObject(raw []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f == nil {
		f = fields{}
	}
	return f, nil
}

// decodeObjects accepts either a JSON array of objects or a single object.
func decodeObjects(raw []byte) ([]fields, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var arr []fields
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, err
		}
		out := arr[:0]
		for _, f := range arr {
			if f != nil {
				out = append(out, f)
			}
		}
		return out, nil
	}
	f, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return []fields{f}, nil
}

func (f fields) has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := f[k]; ok && !isNull(v) {
			return true
		}
	}
	return false
}

// str returns the first alias holding a string or a number, as text.
func (f fields) str(keys ...string) string {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || isNull(v) {
			continue
		}
		if s, ok := rawString(v); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if d, err := decimal.NewFromString(string(bytes.TrimSpace(v))); err == nil {
			return d.String()
		}
	}
	return ""
}

// num returns the first alias that parses as a finite number.
func (f fields) num(keys ...string) market.Num {
	for _, k := range keys {
		v, ok := f[k]
		if !ok || isNull(v) {
			continue
		}
		if n := parseNum(v); n.Known {
			return n
		}
	}
	return market.Unknown
}

// int64 is num truncated, for millisecond timestamps.
func (f fields) int64(keys ...string) (int64, bool) {
	n := f.num(keys...)
	if !n.Known {
		return 0, false
	}
	return int64(n.Value), true
}

func (f fields) object(key string) (fields, bool) {
	v, ok := f[key]
	if !ok || isNull(v) {
		return nil, false
	}
	obj, err := decodeObject(v)
	if err != nil {
		return nil, false
	}
	return obj, true
}

func (f fields) objects(key string) []fields {
	v, ok := f[key]
	if !ok || isNull(v) {
		return nil
	}
	objs, err := decodeObjects(v)
	if err != nil {
		return nil
	}
	return objs
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func rawString(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseNum accepts JSON numbers and numeric strings. Gateway snapshot
// values may carry a one-letter state prefix (C = prior close, H = halted)
// and volumes may be abbreviated (1.2K, 3.4M).
func parseNum(v json.RawMessage) market.Num {
	if s, ok := rawString(v); ok {
		return ParseNumber(s)
	}
	d, err := decimal.NewFromString(string(bytes.TrimSpace(v)))
	if err != nil {
		return market.Unknown
	}
	return fromDecimal(d)
}

// ParseNumber parses a provider numeric string. Anything that is not a
// finite number, including "NaN" and empty strings, is unknown.
func ParseNumber(s string) market.Num {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return market.Unknown
	}
	if s[0] == 'C' || s[0] == 'H' {
		s = s[1:]
	}
	if s == "" {
		return market.Unknown
	}
	scale := decimal.NewFromInt(1)
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		scale = decimal.NewFromInt(1_000)
		s = s[:len(s)-1]
	case "M":
		scale = decimal.NewFromInt(1_000_000)
		s = s[:len(s)-1]
	case "B":
		scale = decimal.NewFromInt(1_000_000_000)
		s = s[:len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return market.Unknown
	}
	return fromDecimal(d.Mul(scale))
}

func fromDecimal(d decimal.Decimal) market.Num {
	f, _ := d.Float64()
	return market.NumOf(f)
}
