package decision

import "time"

// Source annotates where a decision came from.
type Source string

const (
	// SourcePrecomputed marks a decision served from the cache.
	SourcePrecomputed Source = "precomputed"
	// SourceRealtime marks a decision computed synchronously from live inputs.
	SourceRealtime Source = "realtime"
)

// Decision is the outcome of a pricing computation for one scenario.
type Decision struct {
	Action     string    `json:"action"`
	NewPrice   float64   `json:"new_price,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	Digest     string    `json:"digest,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// payloadEqual reports whether two decisions carry the same computed payload.
// Source and Digest are read-time annotations and CreatedAt is a write
// timestamp; none of them participate in content identity.
func payloadEqual(a, b Decision) bool {
	return a.Action == b.Action &&
		a.NewPrice == b.NewPrice &&
		a.Confidence == b.Confidence
}
