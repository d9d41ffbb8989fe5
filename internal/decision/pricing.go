package decision

import (
	"context"
	"fmt"
	"math"

	"github.com/sellerpulse/repricer/internal/errs"
)

// Pricing computes a decision from a scenario's live inputs. Implementations
// are supplied by policy code; the decision service bounds every call with a
// deadline and treats an expired deadline as an action failure.
type Pricing func(ctx context.Context, s Scenario) (Decision, error)

// ReferencePricing is the placeholder pricing policy used when no business
// policy is plugged in. It undercuts a known competitor price by one percent,
// floored at 80% of the current price, and holds otherwise. Deterministic:
// repeated calls with the same scenario produce the same decision, which is
// what lets precomputed and realtime answers agree.
func ReferencePricing() Pricing {
	return func(_ context.Context, s Scenario) (Decision, error) {
		current, ok := s.Number("currentPrice")
		if !ok || current <= 0 {
			return Decision{}, fmt.Errorf("scenario %q has no usable currentPrice: %w", s.EntityKey, errs.ErrInvalidScenario)
		}

		competitor, hasCompetitor := s.Number("competitorPrice")
		if !hasCompetitor || competitor >= current {
			return Decision{
				Action:     "hold",
				NewPrice:   round2(current),
				Confidence: 0.60,
			}, nil
		}

		floor := current * 0.80
		price := math.Max(competitor*0.99, floor)
		return Decision{
			Action:     "adjust_price",
			NewPrice:   round2(price),
			Confidence: 0.75,
		}, nil
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
