// Package numeric coerces decoded JSON payload values to float64. Every
// component that reads event payloads goes through the same helper, so a
// feed decoded with UseNumber behaves like one decoded without it.
package numeric

import "encoding/json"

// Float reports v as a float64, tolerating every numeric shape JSON
// decoding produces.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
